package remote

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the sync wire protocol version. Client and hub must
// agree on the major version; the hub refuses mismatched clients during
// the hello exchange.
const ProtocolVersion = "v1.0.0"

// LogStreamKey is the pseudo-key used to subscribe to daily log updates.
// Regular document keys never collide with it because domain keys are
// namespaced (e.g. "personal_goals", "study_goal").
const LogStreamKey = "log"

// MessageType identifies a sync protocol message.
type MessageType string

const (
	// MessageHello opens a connection; carries the protocol version.
	MessageHello MessageType = "hello"
	// MessageGet requests the document under Key.
	MessageGet MessageType = "get"
	// MessageGetLog requests the daily log record for Date.
	MessageGetLog MessageType = "get_log"
	// MessageUpdate shallow-merges Data into the document under Key.
	MessageUpdate MessageType = "update"
	// MessageUpdateLog shallow-merges Data into the Date log under the
	// Key category.
	MessageUpdateLog MessageType = "update_log"
	// MessageSubscribe subscribes the connection to Key (or LogStreamKey).
	MessageSubscribe MessageType = "subscribe"
	// MessageUnsubscribe cancels a subscription to Key.
	MessageUnsubscribe MessageType = "unsubscribe"
	// MessageResult answers a get/get_log request, correlated by ID.
	MessageResult MessageType = "result"
	// MessageEvent pushes a changed document to subscribers.
	MessageEvent MessageType = "event"
)

// Envelope is the single frame format of the sync protocol. Fields are
// populated according to Type; unused fields are omitted on the wire.
type Envelope struct {
	Type  MessageType     `json:"type"`
	ID    int64           `json:"id,omitempty"`
	Key   string          `json:"key,omitempty"`
	Date  string          `json:"date,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
	Proto string          `json:"proto,omitempty"`
}

// EncodeEnvelope marshals a frame for the wire.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s frame: %w", env.Type, err)
	}
	return raw, nil
}

// DecodeEnvelope unmarshals a frame from the wire.
func DecodeEnvelope(raw []byte, env *Envelope) error {
	if err := json.Unmarshal(raw, env); err != nil {
		return fmt.Errorf("failed to decode frame: %w", err)
	}
	return nil
}

// EncodeDocument marshals a document for an envelope's Data field.
func EncodeDocument(doc Document) (json.RawMessage, error) {
	return json.Marshal(doc)
}

// DecodeDocument unmarshals an envelope's Data field. Empty or literal
// null data decodes to a nil document.
func DecodeDocument(raw json.RawMessage) (Document, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
