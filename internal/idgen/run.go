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
	crand "crypto/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	DefaultRunNamePrefix = "Execution-ADX-PublishingWorkflow"
	// MaxRunNameLength is the longest execution name Step Functions accepts.
	MaxRunNameLength = 80
)

// RunNamer mints unique, time-ordered workflow run names.
type RunNamer struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewRunNamer() *RunNamer {
	return &RunNamer{entropy: ulid.Monotonic(crand.Reader, 0)}
}

// Name returns "<prefix>@<unix seconds>-<ulid>", shortening the prefix
// when needed so the whole name fits MaxRunNameLength. Characters the
// workflow engine rejects in names are replaced with '-'.
func (n *RunNamer) Name(prefix string, t time.Time) string {
	if prefix == "" {
		prefix = DefaultRunNamePrefix
	}
	n.mu.Lock()
	id := ulid.MustNew(ulid.Timestamp(t), n.entropy).String()
	n.mu.Unlock()

	suffix := "@" + strconv.FormatInt(t.Unix(), 10) + "-" + id
	prefix = sanitizeRunName(prefix)
	if room := MaxRunNameLength - len(suffix); len(prefix) > room {
		prefix = prefix[:room]
	}
	return prefix + suffix
}

var defaultRunNamer = NewRunNamer()

func RunName(prefix string, t time.Time) string {
	return defaultRunNamer.Name(prefix, t)
}

func sanitizeRunName(s string) string {
	return strings.Map(func(r rune) rune {
		if r <= 0x20 || r >= 0x7f || strings.ContainsRune("<>{}[]?*\"#%\\^|~`$&,;:/", r) {
			return '-'
		}
		return r
	}, s)
}
