// Package event unwraps bucket notification payloads into the
// (bucket, raw key) pair the pipeline runs on.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedPayload reports a notification that does not name both
// a bucket and an object key. Callers treat it as expected noise from
// the event source, not a failure.
var ErrUnsupportedPayload = errors.New("unsupported event payload")

// Notification is the EventBridge-shaped envelope the object store
// emits on writes. Only the bucket name and object key matter here.
type Notification struct {
	Detail Detail `json:"detail"`
}

type Detail struct {
	Bucket Bucket `json:"bucket"`
	Object Object `json:"object"`
}

type Bucket struct {
	Name string `json:"name"`
}

type Object struct {
	// Key may be percent-encoded and may use "+" for spaces; decoding
	// is the pipeline's responsibility, not the adapter's.
	Key string `json:"key"`
}

// Parse decodes a notification body and validates it names a source
// object.
func Parse(body []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return Notification{}, fmt.Errorf("decode notification: %w", err)
	}
	if err := n.Validate(); err != nil {
		return Notification{}, err
	}
	return n, nil
}

func (n Notification) Validate() error {
	if strings.TrimSpace(n.Detail.Bucket.Name) == "" || strings.TrimSpace(n.Detail.Object.Key) == "" {
		return ErrUnsupportedPayload
	}
	return nil
}
