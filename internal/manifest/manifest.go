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

// Package manifest holds the publishing manifest formats and the
// partitioning rules that turn a flat asset list into revisions and jobs.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrInvalid is returned for any manifest that is missing required fields
// or cannot be decoded. It is never retryable.
var ErrInvalid = errors.New("invalid manifest")

// DefaultPartitionedExtension replaces the flat manifest's extension when
// the partitioned manifest is written next to it.
const DefaultPartitionedExtension = ".manifest"

// AssetRef identifies one object to import.
type AssetRef struct {
	Bucket string `json:"Bucket"`
	Key    string `json:"Key"`
}

// IsPrefix reports whether the entry names a storage prefix that must be
// expanded into concrete keys.
func (a AssetRef) IsPrefix() bool {
	return strings.HasSuffix(a.Key, "/")
}

func (a AssetRef) String() string {
	return "s3://" + a.Bucket + "/" + a.Key
}

// Flat is the manifest a publisher uploads.
type Flat struct {
	ProductID string     `json:"product_id"`
	DatasetID string     `json:"dataset_id"`
	AssetList []AssetRef `json:"asset_list"`
	Comment   string     `json:"comment,omitempty"`
}

// Partitioned is the derived manifest every downstream stage reads by index.
// Outer dimension is the revision index, middle is the job index.
type Partitioned struct {
	ProductID       string         `json:"product_id"`
	DatasetID       string         `json:"dataset_id"`
	AssetListNested [][][]AssetRef `json:"asset_list_nested"`
	Comment         string         `json:"comment,omitempty"`
}

// ParseFlat decodes a flat manifest. Field presence is checked by Validate,
// not here, so prefix entries can be expanded first.
func ParseFlat(data []byte) (*Flat, error) {
	var f Flat
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: decode flat manifest: %v", ErrInvalid, err)
	}
	return &f, nil
}

// ParsePartitioned decodes a partitioned manifest.
func ParsePartitioned(data []byte) (*Partitioned, error) {
	var p Partitioned
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: decode partitioned manifest: %v", ErrInvalid, err)
	}
	return &p, nil
}

// ValidateIdentity checks the fields that must be present before any
// storage listing or remote call is made.
func (f *Flat) ValidateIdentity() error {
	var missing []string
	if strings.TrimSpace(f.ProductID) == "" {
		missing = append(missing, "product_id")
	}
	if strings.TrimSpace(f.DatasetID) == "" {
		missing = append(missing, "dataset_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required fields: %s", ErrInvalid, strings.Join(missing, ", "))
	}
	return nil
}

// Validate checks the identity fields and that the asset list is non-empty
// and made only of concrete bucket/key pairs.
func (f *Flat) Validate() error {
	if err := f.ValidateIdentity(); err != nil {
		return err
	}
	if len(f.AssetList) == 0 {
		return fmt.Errorf("%w: missing required fields: asset_list", ErrInvalid)
	}
	for i, a := range f.AssetList {
		if a.Bucket == "" || a.Key == "" {
			return fmt.Errorf("%w: asset_list[%d] needs both Bucket and Key", ErrInvalid, i)
		}
	}
	return nil
}

// Marshal encodes the partitioned manifest. Output is deterministic for a
// given value.
func (p *Partitioned) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// PartitionedKey derives the partitioned manifest key from the flat key by
// swapping its final extension. Directory components are left alone, so
// "in/v1.2/products.json" becomes "in/v1.2/products.manifest".
func PartitionedKey(flatKey, ext string) string {
	if ext == "" {
		ext = DefaultPartitionedExtension
	}
	base := path.Base(flatKey)
	if e := path.Ext(base); e != "" && e != base {
		return strings.TrimSuffix(flatKey, e) + ext
	}
	return flatKey + ext
}

// IsPartitionedKey reports whether key already names a partitioned manifest.
func IsPartitionedKey(key, ext string) bool {
	if ext == "" {
		ext = DefaultPartitionedExtension
	}
	return strings.HasSuffix(key, ext)
}
