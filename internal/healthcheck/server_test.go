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

package healthcheck

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusString(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusStarting, "starting"},
		{StatusHealthy, "healthy"},
		{StatusUnhealthy, "unhealthy"},
		{Status(999), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.String())
		})
	}
}

func TestNewServerDefaults(t *testing.T) {
	s := NewServer(Config{})
	assert.Equal(t, DefaultConfig(), s.cfg)
	assert.Equal(t, StatusStarting, s.Status())
}

func request(t *testing.T, h http.Handler, path string) (int, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func TestLivenessFollowsStatus(t *testing.T) {
	tests := []struct {
		status      Status
		wantHealthz int
		wantLivez   int
	}{
		{StatusStarting, http.StatusServiceUnavailable, http.StatusOK},
		{StatusHealthy, http.StatusOK, http.StatusOK},
		{StatusUnhealthy, http.StatusServiceUnavailable, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			s := NewServer(DefaultConfig())
			s.SetStatus(tt.status)
			h := s.Handler()

			code, resp := request(t, h, "/healthz")
			assert.Equal(t, tt.wantHealthz, code)
			assert.Equal(t, tt.status.String(), resp.Status)

			code, _ = request(t, h, "/livez")
			assert.Equal(t, tt.wantLivez, code)
		})
	}
}

func TestReadinessChecks(t *testing.T) {
	s := NewServer(Config{CheckTimeout: 20 * time.Millisecond})
	h := s.Handler()

	code, _ := request(t, h, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code, "not ready until SetReady")

	s.SetReady(true)
	code, resp := request(t, h, "/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", resp.Status)

	s.AddCheck("queue", func(context.Context) error { return nil })
	s.AddCheck("catalog", func(context.Context) error { return errors.New("access denied") })
	s.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	code, resp = request(t, h, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, map[string]string{
		"catalog": "access denied",
		"slow":    context.DeadlineExceeded.Error(),
	}, resp.Checks)

	s.SetReady(false)
	code, resp = request(t, h, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Empty(t, resp.Checks)
}

func TestProbesRejectOtherMethods(t *testing.T) {
	rec := httptest.NewRecorder()
	NewServer(DefaultConfig()).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStopWithoutStart(t *testing.T) {
	assert.NoError(t, NewServer(DefaultConfig()).Stop())
}
