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

package objstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the object does not exist.
var ErrNotFound = errors.New("object not found")

// ObjectInfo is one entry of a prefix listing.
type ObjectInfo struct {
	Key  string
	Size int64
}

// Lister lists every object under a prefix, across all listing pages.
type Lister interface {
	ListByPrefix(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
}

// Store is the object storage the publishing workflow reads manifests from
// and writes partitioned manifests to.
type Store interface {
	Lister
	// Get returns the full object body. A missing object yields an error
	// wrapping ErrNotFound.
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, data []byte) error
}
