// Package audit records provenance operations in a hash-chained JSONL log.
//
// The audit log is separate from the technical log:
//   - every signed asset, read manifest, timestamp request and key use is
//     recorded with its outcome
//   - audit failure is operation failure
//   - digests are logged, asset bytes and key material never are
//   - timestamps are UTC
package audit

import (
	"encoding/json"
	"errors"
	"os"
	"time"
)

// EventType is the category of an audit event.
type EventType string

const (
	EventAssetSigned        EventType = "ASSET_SIGNED"
	EventManifestRead       EventType = "MANIFEST_READ"
	EventTimestampRequested EventType = "TIMESTAMP_REQUESTED"
	EventKeyAccessed        EventType = "KEY_ACCESSED"
)

// Result is the outcome of an audited operation.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
)

func resultOf(err error) Result {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}

// Actor is who performed the action.
type Actor struct {
	Type string `json:"type"` // "user" or "service"
	ID   string `json:"id"`
	Host string `json:"host,omitempty"`
}

// Object is what was acted upon.
type Object struct {
	Type     string `json:"type"` // "asset", "manifest", "key", "timestamp"
	MimeType string `json:"mime_type,omitempty"`
	Digest   string `json:"digest,omitempty"` // sha256 of the input bytes
	Label    string `json:"label,omitempty"`  // active manifest label
	KeyID    string `json:"key_id,omitempty"`
}

// Context carries operation details.
type Context struct {
	Algorithm  string `json:"algorithm,omitempty"`
	Generator  string `json:"generator,omitempty"`
	Parent     string `json:"parent,omitempty"`
	Assertions int    `json:"assertions,omitempty"`
	TSA        string `json:"tsa,omitempty"`
	RemoteURL  string `json:"remote_url,omitempty"`
	Sidecar    bool   `json:"sidecar,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Event is a single audit log entry.
type Event struct {
	EventType EventType `json:"event_type"`
	Timestamp string    `json:"timestamp"`
	Actor     Actor     `json:"actor"`
	Object    Object    `json:"object"`
	Context   Context   `json:"context,omitempty"`
	Result    Result    `json:"result"`
	HashPrev  string    `json:"hash_prev"`
	Hash      string    `json:"hash"`
}

// NewEvent creates an event stamped now, attributed to the current user.
func NewEvent(eventType EventType, result Result) *Event {
	hostname, _ := os.Hostname()
	return &Event{
		EventType: eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Actor:     Actor{Type: "user", ID: currentUser(), Host: hostname},
		Result:    result,
	}
}

func currentUser() string {
	for _, k := range []string{"USER", "USERNAME"} {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return "unknown"
}

func (e *Event) WithObject(obj Object) *Event {
	e.Object = obj
	return e
}

func (e *Event) WithContext(ctx Context) *Event {
	e.Context = ctx
	return e
}

// WithActor overrides the default actor, e.g. with the REST service identity.
func (e *Event) WithActor(actor Actor) *Event {
	e.Actor = actor
	return e
}

// Validate checks that required fields are present.
func (e *Event) Validate() error {
	switch {
	case e.EventType == "":
		return errors.New("event_type is required")
	case e.Timestamp == "":
		return errors.New("timestamp is required")
	case e.Actor.Type == "" || e.Actor.ID == "":
		return errors.New("actor type and id are required")
	case e.Object.Type == "":
		return errors.New("object type is required")
	case e.Result == "":
		return errors.New("result is required")
	}
	return nil
}

// CanonicalJSON is the hashed form of the event: everything but Hash.
func (e *Event) CanonicalJSON() ([]byte, error) {
	return json.Marshal(struct {
		EventType EventType `json:"event_type"`
		Timestamp string    `json:"timestamp"`
		Actor     Actor     `json:"actor"`
		Object    Object    `json:"object"`
		Context   Context   `json:"context,omitempty"`
		Result    Result    `json:"result"`
		HashPrev  string    `json:"hash_prev"`
	}{e.EventType, e.Timestamp, e.Actor, e.Object, e.Context, e.Result, e.HashPrev})
}

// JSON returns the full event as JSON.
func (e *Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}
