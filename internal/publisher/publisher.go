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

// Package publisher implements the publishing stages. Each stage takes a
// WorkflowContext, does one unit of work against storage and the dataset
// service, and returns the context with its own fields filled in. Stages
// never retry; whoever drives them owns retry and polling policy.
package publisher

import (
	"context"
	"errors"
	"fmt"

	"github.com/jellydator/ttlcache/v3"

	"github.com/cardinalhq/adxpublisher/internal/dataexchange"
	"github.com/cardinalhq/adxpublisher/internal/manifest"
	"github.com/cardinalhq/adxpublisher/internal/objstore"
)

type manifestKey struct {
	Bucket string
	Key    string
}

type Publisher struct {
	store   objstore.Store
	svc     dataexchange.Service
	cfg     Config
	catalog CatalogConfig

	// manifests caches parsed partitioned manifests. They are immutable
	// once written, so every branch can share one parsed copy.
	manifests *ttlcache.Cache[manifestKey, *manifest.Partitioned]
}

func New(store objstore.Store, svc dataexchange.Service, cfg Config, catalog CatalogConfig) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("publisher config: %w", err)
	}
	if err := catalog.Validate(); err != nil {
		return nil, fmt.Errorf("catalog config: %w", err)
	}
	p := &Publisher{
		store:   store,
		svc:     svc,
		cfg:     cfg,
		catalog: catalog,
	}
	if cfg.ManifestCacheTTL > 0 {
		p.manifests = ttlcache.New(
			ttlcache.WithTTL[manifestKey, *manifest.Partitioned](cfg.ManifestCacheTTL),
			ttlcache.WithCapacity[manifestKey, *manifest.Partitioned](256),
		)
	}
	return p, nil
}

func (p *Publisher) Config() Config {
	return p.cfg
}

// loadPartitioned reads and parses a partitioned manifest, serving repeat
// reads from the cache.
func (p *Publisher) loadPartitioned(ctx context.Context, bucket, key string) (*manifest.Partitioned, error) {
	if p.manifests == nil {
		return p.fetchPartitioned(ctx, bucket, key)
	}

	var loadErr error
	loader := ttlcache.LoaderFunc[manifestKey, *manifest.Partitioned](
		func(cache *ttlcache.Cache[manifestKey, *manifest.Partitioned], k manifestKey) *ttlcache.Item[manifestKey, *manifest.Partitioned] {
			m, err := p.fetchPartitioned(ctx, k.Bucket, k.Key)
			if err != nil {
				loadErr = err
				return nil
			}
			return cache.Set(k, m, ttlcache.DefaultTTL)
		},
	)
	item := p.manifests.Get(manifestKey{Bucket: bucket, Key: key}, ttlcache.WithLoader(loader))
	if item == nil {
		if loadErr == nil {
			loadErr = errors.New("failed to load partitioned manifest")
		}
		return nil, loadErr
	}
	return item.Value(), nil
}

func (p *Publisher) fetchPartitioned(ctx context.Context, bucket, key string) (*manifest.Partitioned, error) {
	data, err := p.store.Get(ctx, bucket, key)
	if err != nil {
		return nil, remote(fmt.Sprintf("read partitioned manifest s3://%s/%s", bucket, key), err)
	}
	return manifest.ParsePartitioned(data)
}

func (p *Publisher) rememberPartitioned(bucket, key string, m *manifest.Partitioned) {
	if p.manifests == nil {
		return
	}
	p.manifests.Set(manifestKey{Bucket: bucket, Key: key}, m, ttlcache.DefaultTTL)
}

func requireFields(wc WorkflowContext, names ...string) error {
	var missing []string
	for _, name := range names {
		switch name {
		case "Bucket":
			if wc.Bucket == "" {
				missing = append(missing, name)
			}
		case "Key":
			if wc.Key == "" {
				missing = append(missing, name)
			}
		case "ProductId":
			if wc.ProductID == "" {
				missing = append(missing, name)
			}
		case "DatasetId":
			if wc.DatasetID == "" {
				missing = append(missing, name)
			}
		case "RevisionId":
			if wc.RevisionID == "" {
				missing = append(missing, name)
			}
		case "RevisionMapIndex":
			if wc.RevisionMapIndex == nil {
				missing = append(missing, name)
			}
		case "JobMapIndex":
			if wc.JobMapIndex == nil {
				missing = append(missing, name)
			}
		case "JobId":
			if wc.JobID == "" {
				missing = append(missing, name)
			}
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("workflow context missing %v", missing)
	}
	return nil
}
