// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package publisher

import (
	"errors"
	"time"

	"github.com/cardinalhq/adxpublisher/internal/manifest"
)

const (
	DefaultRevisionComment = "Published by data platform/publish-adx."
	DefaultCatalogName     = "AWSMarketplace"
	DefaultCatalogRegion   = "us-east-1"
	DefaultEntityType      = "DataProduct@1.0"
)

// Config holds the partitioning limits and manifest naming rules.
type Config struct {
	RevisionAssetLimit   int    `mapstructure:"revision_asset_limit"`
	JobAssetLimit        int    `mapstructure:"job_asset_limit"`
	DefaultComment       string `mapstructure:"default_comment"`
	PartitionedExtension string `mapstructure:"partitioned_extension"`
	// ManifestCacheTTL bounds how long a partitioned manifest read by one
	// stage is reused by the next.
	ManifestCacheTTL time.Duration `mapstructure:"manifest_cache_ttl"`
}

// CatalogConfig controls the finalize stage's catalog interaction.
type CatalogConfig struct {
	Name   string `mapstructure:"name"`
	Region string `mapstructure:"region"`
	// AutoPublish skips the change-set step; the catalog picks up
	// finalized revisions on its own.
	AutoPublish           bool          `mapstructure:"auto_publish"`
	EntityType            string        `mapstructure:"entity_type"`
	ChangeSetPollInterval time.Duration `mapstructure:"change_set_poll_interval"`
	ChangeSetTimeout      time.Duration `mapstructure:"change_set_timeout"`
}

func DefaultConfig() Config {
	return Config{
		RevisionAssetLimit:   manifest.DefaultRevisionAssetLimit,
		JobAssetLimit:        manifest.DefaultJobAssetLimit,
		DefaultComment:       DefaultRevisionComment,
		PartitionedExtension: manifest.DefaultPartitionedExtension,
		ManifestCacheTTL:     5 * time.Minute,
	}
}

func DefaultCatalogConfig() CatalogConfig {
	return CatalogConfig{
		Name:                  DefaultCatalogName,
		Region:                DefaultCatalogRegion,
		AutoPublish:           true,
		EntityType:            DefaultEntityType,
		ChangeSetPollInterval: time.Second,
		ChangeSetTimeout:      10 * time.Minute,
	}
}

func (c Config) Limits() manifest.Limits {
	return manifest.Limits{RevisionAssets: c.RevisionAssetLimit, JobAssets: c.JobAssetLimit}
}

func (c Config) Validate() error {
	if err := c.Limits().Validate(); err != nil {
		return err
	}
	if c.PartitionedExtension == "" {
		return errors.New("partitioned_extension must not be empty")
	}
	return nil
}

func (c CatalogConfig) Validate() error {
	if c.Name == "" {
		return errors.New("catalog name must not be empty")
	}
	if !c.AutoPublish {
		if c.EntityType == "" {
			return errors.New("catalog entity_type is required when auto_publish is off")
		}
		if c.ChangeSetPollInterval <= 0 {
			return errors.New("catalog change_set_poll_interval must be positive")
		}
	}
	return nil
}
