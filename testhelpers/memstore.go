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

package testhelpers

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/cardinalhq/adxpublisher/internal/objstore"
)

// MemStore is an in-memory objstore.Store.
type MemStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	getErrs map[string]error

	// GetErr, PutErr and ListErr, when set, are returned by every call.
	GetErr  error
	PutErr  error
	ListErr error
}

var _ objstore.Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{objects: map[string][]byte{}, getErrs: map[string]error{}}
}

// FailGet makes Get of one object return err; a nil err clears it.
func (s *MemStore) FailGet(bucket, key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.getErrs, memKey(bucket, key))
		return
	}
	s.getErrs[memKey(bucket, key)] = err
}

func memKey(bucket, key string) string {
	return bucket + "/" + key
}

// Add stores an object directly, bypassing PutErr.
func (s *MemStore) Add(bucket, key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[memKey(bucket, key)] = slices.Clone(data)
}

// Object returns a stored object and whether it exists.
func (s *MemStore) Object(bucket, key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[memKey(bucket, key)]
	return slices.Clone(data), ok
}

func (s *MemStore) Get(_ context.Context, bucket, key string) ([]byte, error) {
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	s.mu.Lock()
	err := s.getErrs[memKey(bucket, key)]
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	data, ok := s.Object(bucket, key)
	if !ok {
		return nil, fmt.Errorf("s3://%s/%s: %w", bucket, key, objstore.ErrNotFound)
	}
	return data, nil
}

func (s *MemStore) Put(_ context.Context, bucket, key string, data []byte) error {
	if s.PutErr != nil {
		return s.PutErr
	}
	s.Add(bucket, key, data)
	return nil
}

func (s *MemStore) ListByPrefix(_ context.Context, bucket, prefix string) ([]objstore.ObjectInfo, error) {
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []objstore.ObjectInfo
	full := memKey(bucket, prefix)
	for k, v := range s.objects {
		if strings.HasPrefix(k, full) {
			out = append(out, objstore.ObjectInfo{
				Key:  strings.TrimPrefix(k, bucket+"/"),
				Size: int64(len(v)),
			})
		}
	}
	slices.SortFunc(out, func(a, b objstore.ObjectInfo) int {
		return strings.Compare(a.Key, b.Key)
	})
	return out, nil
}
