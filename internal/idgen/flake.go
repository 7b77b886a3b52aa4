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

// Package idgen makes the identifiers this service mints for itself:
// workflow run names and the process instance id attached to logs and
// metrics.
package idgen

import (
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sony/sonyflake"
)

var flakeEpoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// FlakeGenerator mints positive int64 ids that increase roughly in time order.
type FlakeGenerator struct {
	sf *sonyflake.Sonyflake
}

// NewFlakeGenerator derives the machine id from the host's private IPv4
// address, falling back to a random one when the host has none.
func NewFlakeGenerator() (*FlakeGenerator, error) {
	return newFlakeGenerator(nil)
}

// newFlakeGenerator uses machineID when non-nil; nil selects sonyflake's
// private-IP default.
func newFlakeGenerator(machineID func() (uint16, error)) (*FlakeGenerator, error) {
	st := sonyflake.Settings{StartTime: flakeEpoch, MachineID: machineID}
	sf, err := sonyflake.New(st)
	if err != nil {
		slog.Debug("No usable machine id, using a random one", slog.Any("error", err))
		st.MachineID = randomMachineID
		if sf, err = sonyflake.New(st); err != nil {
			return nil, fmt.Errorf("create sonyflake: %w", err)
		}
	}
	if sf == nil {
		return nil, errors.New("failed to create Sonyflake instance")
	}
	return &FlakeGenerator{sf: sf}, nil
}

func randomMachineID() (uint16, error) {
	var b [2]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

// NextID returns the next id. It never fails; if the generator is exhausted
// the id is random.
func (g *FlakeGenerator) NextID() int64 {
	v, err := g.sf.NextID()
	if err != nil {
		return rand.Int64()
	}
	return int64(v)
}

var defaultFlake = sync.OnceValues(NewFlakeGenerator)

// InstanceID returns a fresh id for identifying this process. Nothing
// happens at package init, so a host without a usable network address can
// still run every command.
func InstanceID() int64 {
	g, err := defaultFlake()
	if err != nil {
		return rand.Int64()
	}
	return g.NextID()
}
