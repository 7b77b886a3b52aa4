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

package idgen

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunNameShape(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	name := RunName("", ts)

	assert.True(t, strings.HasPrefix(name, DefaultRunNamePrefix+"@1700000000-"), name)
	assert.LessOrEqual(t, len(name), MaxRunNameLength)
}

func TestRunNameUniqueWithinOneSecond(t *testing.T) {
	n := NewRunNamer()
	ts := time.Unix(1700000000, 0)

	var mu sync.Mutex
	seen := map[string]bool{}
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				name := n.Name("adx", ts)
				mu.Lock()
				seen[name] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 800)
}

func TestRunNameTruncatesAndSanitizes(t *testing.T) {
	ts := time.Unix(1700000000, 0)

	long := RunName(strings.Repeat("p", 200), ts)
	assert.Len(t, long, MaxRunNameLength)
	assert.Contains(t, long, "@1700000000-")

	dirty := RunName("daily drop: s3/bucket", ts)
	assert.True(t, strings.HasPrefix(dirty, "daily-drop--s3-bucket@"), dirty)
}
