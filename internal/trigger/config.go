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

package trigger

import (
	"errors"
	"time"
)

// Config controls how storage notifications are received and filtered.
type Config struct {
	QueueURL string `mapstructure:"queue_url"`
	Region   string `mapstructure:"region"`
	RoleARN  string `mapstructure:"role_arn"`

	ListenAddr string `mapstructure:"listen_addr"`

	// ManifestSuffix selects which new objects are flat manifests.
	ManifestSuffix string        `mapstructure:"manifest_suffix"`
	DedupTTL       time.Duration `mapstructure:"dedup_ttl"`

	MaxConcurrentMessages int           `mapstructure:"max_concurrent_messages"`
	MessageTimeout        time.Duration `mapstructure:"message_timeout"`
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:            ":8080",
		ManifestSuffix:        ".json",
		DedupTTL:              time.Hour,
		MaxConcurrentMessages: 10,
		MessageTimeout:        2 * time.Minute,
	}
}

func (c Config) Validate() error {
	if c.MaxConcurrentMessages <= 0 {
		return errors.New("trigger max_concurrent_messages must be positive")
	}
	if c.MessageTimeout <= 0 {
		return errors.New("trigger message_timeout must be positive")
	}
	return nil
}
