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
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Deduplicator remembers recently accepted notifications so redelivered
// messages do not start a second run. Entries expire after the TTL.
type Deduplicator struct {
	seen    *ttlcache.Cache[string, struct{}]
	running atomic.Bool
}

// NewDeduplicator returns nil when ttl is not positive; a nil Deduplicator
// accepts everything.
func NewDeduplicator(ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		return nil
	}
	return &Deduplicator{
		seen: ttlcache.New(
			ttlcache.WithTTL[string, struct{}](ttl),
			ttlcache.WithDisableTouchOnHit[string, struct{}](),
		),
	}
}

func dedupKey(ev ObjectEvent) string {
	return ev.Bucket + "/" + ev.Key + "#" + ev.Sequencer
}

// Claim records the event and reports whether it was new.
func (d *Deduplicator) Claim(ev ObjectEvent) bool {
	if d == nil {
		return true
	}
	_, found := d.seen.GetOrSet(dedupKey(ev), struct{}{})
	return !found
}

// Release forgets a claimed event so a redelivery is processed again.
func (d *Deduplicator) Release(ev ObjectEvent) {
	if d == nil {
		return
	}
	d.seen.Delete(dedupKey(ev))
}

// Start runs expiry cleanup until Stop is called.
func (d *Deduplicator) Start() {
	if d != nil && d.running.CompareAndSwap(false, true) {
		go d.seen.Start()
	}
}

func (d *Deduplicator) Stop() {
	if d != nil && d.running.CompareAndSwap(true, false) {
		d.seen.Stop()
	}
}

func (d *Deduplicator) Len() int {
	if d == nil {
		return 0
	}
	return d.seen.Len()
}
