package remote

import (
	"context"
	"fmt"
	"sync"

	"habitd/internal/dates"
)

// Memory is an in-process Store used by tests and by the hub's state
// layer. It applies the same shallow-merge and echo-to-all-subscribers
// semantics as the real hub, delivering events synchronously so tests
// stay deterministic.
type Memory struct {
	mu      sync.Mutex
	docs    map[string]Document
	logs    map[string]Document // date -> {category: {...}}
	subs    map[string]map[int64]func(Document)
	logSubs map[int64]func(Document)
	nextSub int64

	// FailFetches makes GetGlobalData and GetLogForDate return errors,
	// simulating an unreachable remote.
	FailFetches bool

	// Today overrides the current date key; empty means the real local day.
	Today string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		docs:    make(map[string]Document),
		logs:    make(map[string]Document),
		subs:    make(map[string]map[int64]func(Document)),
		logSubs: make(map[int64]func(Document)),
	}
}

func (m *Memory) today() string {
	if m.Today != "" {
		return m.Today
	}
	return dates.Today()
}

// GetGlobalData implements Store.
func (m *Memory) GetGlobalData(_ context.Context, key string) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailFetches {
		return nil, fmt.Errorf("remote unavailable")
	}
	return CloneDocument(m.docs[key]), nil
}

// SubscribeGlobalData implements Store.
func (m *Memory) SubscribeGlobalData(key string, onUpdate func(Document)) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSub++
	id := m.nextSub
	if m.subs[key] == nil {
		m.subs[key] = make(map[int64]func(Document))
	}
	m.subs[key][id] = onUpdate

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs[key], id)
	}, nil
}

// UpdateGlobalData implements Store. The partial update is merged and the
// resulting document is delivered to every subscriber of the key,
// including the writer's own subscription — the echo the controller must
// suppress.
func (m *Memory) UpdateGlobalData(key string, partial Document) {
	m.mu.Lock()
	m.docs[key] = MergeShallow(m.docs[key], CloneDocument(partial))
	merged := m.docs[key]
	fns := make([]func(Document), 0, len(m.subs[key]))
	for _, fn := range m.subs[key] {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(CloneDocument(merged))
	}
}

// UpdateTodayLog implements Store.
func (m *Memory) UpdateTodayLog(category string, partial Document) {
	m.mu.Lock()
	date := m.today()
	rec := m.logs[date]
	if rec == nil {
		rec = make(Document)
		m.logs[date] = rec
	}
	sub, _ := rec[category].(Document)
	rec[category] = MergeShallow(sub, CloneDocument(partial))

	fns := make([]func(Document), 0, len(m.logSubs))
	for _, fn := range m.logSubs {
		fns = append(fns, fn)
	}
	merged := rec
	m.mu.Unlock()

	for _, fn := range fns {
		fn(CloneDocument(merged))
	}
}

// GetLogForDate implements Store.
func (m *Memory) GetLogForDate(_ context.Context, date string) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailFetches {
		return nil, fmt.Errorf("remote unavailable")
	}
	return CloneDocument(m.logs[date]), nil
}

// SubscribeTodayLog implements Store.
func (m *Memory) SubscribeTodayLog(onUpdate func(Document)) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSub++
	id := m.nextSub
	m.logSubs[id] = onUpdate

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.logSubs, id)
	}, nil
}

// Doc returns a copy of the document stored under key, for assertions.
func (m *Memory) Doc(key string) Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return CloneDocument(m.docs[key])
}

// Log returns a copy of the log record for a date, for assertions.
func (m *Memory) Log(date string) Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return CloneDocument(m.logs[date])
}

// Seed places a document under key without notifying subscribers, as if
// it had been written before this device connected.
func (m *Memory) Seed(key string, doc Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[key] = CloneDocument(doc)
}
