// Package remote defines the remote document-store contract habitd's sync
// domains reconcile against, plus the websocket client implementation and
// an in-memory store used by tests.
//
// The remote store is an opaque key-value document service with
// push-and-subscribe semantics. Updates are partial objects shallow-merged
// into the stored document at the server, and every update is echoed back
// to all subscribers of that key — including the writer. Suppressing that
// echo is the reconciliation controller's job, not the store's.
package remote

import (
	"context"
	"encoding/json"
)

// Document is a JSON object stored under a key.
type Document = map[string]any

// Store is the remote document-store contract.
//
// All write operations are fire-and-forget: a failed write is logged by
// the implementation and simply does not reach the server. The only
// awaited call is the one-shot fetch a domain performs at startup.
type Store interface {
	// GetGlobalData fetches the document stored under key, or nil if none
	// exists.
	GetGlobalData(ctx context.Context, key string) (Document, error)

	// SubscribeGlobalData registers onUpdate to be called with the full
	// document whenever the value under key changes. The returned
	// function cancels the subscription.
	SubscribeGlobalData(key string, onUpdate func(Document)) (func(), error)

	// UpdateGlobalData shallow-merges partial into the document under key.
	UpdateGlobalData(key string, partial Document)

	// UpdateTodayLog shallow-merges partial into today's daily log record
	// under the given category.
	UpdateTodayLog(category string, partial Document)

	// GetLogForDate fetches the daily log record for a date key, or nil.
	GetLogForDate(ctx context.Context, date string) (Document, error)

	// SubscribeTodayLog registers onUpdate for changes to today's log
	// record. The returned function cancels the subscription.
	SubscribeTodayLog(onUpdate func(Document)) (func(), error)
}

// MergeShallow merges src into dst one level deep, src winning per
// top-level key. dst may be nil, in which case a new document is
// allocated. Returns the merged document.
func MergeShallow(dst, src Document) Document {
	if dst == nil {
		dst = make(Document, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// CloneDocument deep-copies a document through a JSON round trip, so that
// subscribers and callers can never alias the stored value.
func CloneDocument(doc Document) Document {
	if doc == nil {
		return nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return Document{}
	}
	var out Document
	if err := json.Unmarshal(raw, &out); err != nil {
		return Document{}
	}
	return out
}
