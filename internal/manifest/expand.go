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

package manifest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cardinalhq/adxpublisher/internal/objstore"
)

// Expand replaces every prefix entry with the concrete, non-empty objects
// listed under it. Explicit keys pass through untouched. A prefix under
// which nothing at all is listed makes the manifest invalid.
func Expand(ctx context.Context, lister objstore.Lister, entries []AssetRef) ([]AssetRef, error) {
	out := make([]AssetRef, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsPrefix() {
			out = append(out, entry)
			continue
		}

		objects, err := lister.ListByPrefix(ctx, entry.Bucket, entry.Key)
		if err != nil {
			return nil, fmt.Errorf("expand prefix %s: %w", entry, err)
		}
		if len(objects) == 0 {
			return nil, fmt.Errorf("%w: no resources found in the prefix %s", ErrInvalid, entry)
		}

		skipped := 0
		for _, obj := range objects {
			if obj.Size == 0 {
				skipped++
				continue
			}
			out = append(out, AssetRef{Bucket: entry.Bucket, Key: obj.Key})
		}
		slog.Debug("Expanded manifest prefix",
			slog.String("bucket", entry.Bucket),
			slog.String("prefix", entry.Key),
			slog.Int("listed", len(objects)),
			slog.Int("skippedEmpty", skipped),
		)
	}
	return out, nil
}
