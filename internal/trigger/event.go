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
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrMalformedEvent marks a notification body that can never be processed.
var ErrMalformedEvent = errors.New("malformed storage event")

// ObjectEvent is one object-created notification.
type ObjectEvent struct {
	Bucket    string
	Key       string
	Size      int64
	Sequencer string
}

func (e ObjectEvent) String() string {
	return "s3://" + e.Bucket + "/" + e.Key
}

type s3Notification struct {
	Records []struct {
		EventName string `json:"eventName"`
		S3        struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key       string `json:"key"`
				Size      int64  `json:"size"`
				Sequencer string `json:"sequencer"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// envelope holds the fields used to tell the supported envelopes apart.
type envelope struct {
	Records    json.RawMessage `json:"Records"`
	Event      string          `json:"Event"`
	Type       string          `json:"Type"`
	Message    string          `json:"Message"`
	DetailType string          `json:"detail-type"`
	Detail     struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key       string `json:"key"`
			Size      int64  `json:"size"`
			Sequencer string `json:"sequencer"`
		} `json:"object"`
	} `json:"detail"`
}

// ParseEvents extracts object-created events from an S3 notification, an SNS
// envelope wrapping one, or an EventBridge "Object Created" event. The S3
// test event and records for other event types (removals, restores,
// replication) yield no events and no error.
func ParseEvents(raw []byte) ([]ObjectEvent, error) {
	return parseEvents(raw, 0)
}

func parseEvents(raw []byte, depth int) ([]ObjectEvent, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedEvent)
	}
	var p envelope
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch {
	case p.Event == "s3:TestEvent":
		return nil, nil
	case len(p.Records) > 0:
		return parseS3Records(raw)
	case p.Type == "Notification" && p.Message != "":
		if depth > 0 {
			return nil, fmt.Errorf("%w: nested SNS envelope", ErrMalformedEvent)
		}
		return parseEvents([]byte(p.Message), depth+1)
	case p.DetailType == "Object Created":
		if p.Detail.Bucket.Name == "" || p.Detail.Object.Key == "" {
			return nil, fmt.Errorf("%w: EventBridge event without bucket or key", ErrMalformedEvent)
		}
		return []ObjectEvent{{
			Bucket:    p.Detail.Bucket.Name,
			Key:       p.Detail.Object.Key,
			Size:      p.Detail.Object.Size,
			Sequencer: p.Detail.Object.Sequencer,
		}}, nil
	}
	return nil, fmt.Errorf("%w: unable to determine event type", ErrMalformedEvent)
}

func parseS3Records(raw []byte) ([]ObjectEvent, error) {
	var n s3Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	out := make([]ObjectEvent, 0, len(n.Records))
	for _, rec := range n.Records {
		if !isObjectCreated(rec.EventName) {
			continue
		}
		// S3 form-encodes keys in notifications.
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: key %q: %v", ErrMalformedEvent, rec.S3.Object.Key, err)
		}
		if rec.S3.Bucket.Name == "" || key == "" {
			return nil, fmt.Errorf("%w: record without bucket or key", ErrMalformedEvent)
		}
		out = append(out, ObjectEvent{
			Bucket:    rec.S3.Bucket.Name,
			Key:       key,
			Size:      rec.S3.Object.Size,
			Sequencer: rec.S3.Object.Sequencer,
		})
	}
	return out, nil
}

// isObjectCreated matches "ObjectCreated:*" and the "s3:ObjectCreated:*"
// form used in bucket notification configuration.
func isObjectCreated(eventName string) bool {
	return strings.HasPrefix(strings.TrimPrefix(eventName, "s3:"), "ObjectCreated:")
}
