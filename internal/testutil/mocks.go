package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopmesh/syncd/internal/registry"
	"github.com/shopmesh/syncd/internal/syncjob"
)

// MockCatalog is an in-memory CatalogStore seeded with items per tenant
type MockCatalog struct {
	mu          sync.Mutex
	items       map[string]syncjob.Item // itemID → item
	order       []string                // insertion order for ListItems
	lookupError error
	updates     []StatusUpdate
}

// StatusUpdate records one UpdateSyncStatus call
type StatusUpdate struct {
	ItemID string
	Target string
	Status syncjob.JobStatus
	ErrMsg string
}

func NewMockCatalog() *MockCatalog {
	return &MockCatalog{items: make(map[string]syncjob.Item)}
}

func (m *MockCatalog) AddItem(item syncjob.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[item.ID]; !ok {
		m.order = append(m.order, item.ID)
	}
	m.items[item.ID] = item
}

// SeedItems adds n items "item-1".."item-n" for the tenant and returns their ids
func (m *MockCatalog) SeedItems(tenantID string, n int) []string {
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = fmt.Sprintf("item-%d", i+1)
		m.AddItem(syncjob.Item{
			ID:       ids[i],
			TenantID: tenantID,
			SKU:      fmt.Sprintf("SKU-%d", i+1),
			Title:    fmt.Sprintf("Item %d", i+1),
			Price:    1000 + int64(i),
		})
	}
	return ids
}

func (m *MockCatalog) SetLookupError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookupError = err
}

func (m *MockCatalog) LookupOwned(_ context.Context, tenantID string, itemIDs []string) ([]syncjob.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lookupError != nil {
		return nil, m.lookupError
	}

	items := make([]syncjob.Item, 0, len(itemIDs))
	for _, id := range itemIDs {
		item, ok := m.items[id]
		if !ok || item.TenantID != tenantID {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (m *MockCatalog) ListItems(_ context.Context, tenantID, _ string) ([]syncjob.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lookupError != nil {
		return nil, m.lookupError
	}

	var items []syncjob.Item
	for _, id := range m.order {
		if item := m.items[id]; item.TenantID == tenantID {
			items = append(items, item)
		}
	}
	return items, nil
}

func (m *MockCatalog) UpdateSyncStatus(_ context.Context, itemID, target string, status syncjob.JobStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, StatusUpdate{ItemID: itemID, Target: target, Status: status, ErrMsg: errMsg})
	return nil
}

func (m *MockCatalog) StatusUpdates() []StatusUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StatusUpdate, len(m.updates))
	copy(out, m.updates)
	return out
}

// MockTarget is a scriptable TargetClient. Failures are queued per
// (itemID, stage); each stage attempt consumes one queued error, so a
// queue of one transient error means fail once then succeed.
type MockTarget struct {
	mu       sync.Mutex
	failures map[string][]error // "itemID|stage" → error queue
	delay    time.Duration
	calls    []StageCall
}

// StageCall records one stage invocation
type StageCall struct {
	Stage  string
	ItemID string
	Target string
}

func NewMockTarget() *MockTarget {
	return &MockTarget{failures: make(map[string][]error)}
}

// FailWith queues errors for the item's stage, consumed one per attempt.
// Stage is one of "validate", "transform", "upload".
func (m *MockTarget) FailWith(itemID, stage string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := itemID + "|" + stage
	m.failures[key] = append(m.failures[key], errs...)
}

func (m *MockTarget) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

func (m *MockTarget) Calls() []StageCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StageCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallsFor returns the stage names invoked for one item, in order
func (m *MockTarget) CallsFor(itemID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stages []string
	for _, c := range m.calls {
		if c.ItemID == itemID {
			stages = append(stages, c.Stage)
		}
	}
	return stages
}

func (m *MockTarget) stage(ctx context.Context, stage string, item syncjob.Item, target string) error {
	m.mu.Lock()
	m.calls = append(m.calls, StageCall{Stage: stage, ItemID: item.ID, Target: target})
	delay := m.delay
	var err error
	key := item.ID + "|" + stage
	if queue := m.failures[key]; len(queue) > 0 {
		err = queue[0]
		m.failures[key] = queue[1:]
	}
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (m *MockTarget) Validate(ctx context.Context, item syncjob.Item, target string) error {
	return m.stage(ctx, "validate", item, target)
}

func (m *MockTarget) TransformPricing(ctx context.Context, item syncjob.Item, target string) error {
	return m.stage(ctx, "transform", item, target)
}

func (m *MockTarget) Upload(ctx context.Context, item syncjob.Item, target string) error {
	return m.stage(ctx, "upload", item, target)
}

// MemorySyncStore is an in-memory syncjob.Store recording every write
type MemorySyncStore struct {
	mu         sync.Mutex
	jobs       map[string]syncjob.Job
	batches    map[string][]string
	batchTimes map[string]time.Time
	events     map[string][]syncjob.Event
	writeError error
}

func NewMemorySyncStore() *MemorySyncStore {
	return &MemorySyncStore{
		jobs:       make(map[string]syncjob.Job),
		batches:    make(map[string][]string),
		batchTimes: make(map[string]time.Time),
		events:     make(map[string][]syncjob.Event),
	}
}

func (m *MemorySyncStore) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeError = err
}

func (m *MemorySyncStore) InsertJob(job syncjob.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeError != nil {
		return m.writeError
	}
	m.jobs[job.SyncID] = job
	return nil
}

func (m *MemorySyncStore) InsertBatch(batchID string, syncIDs []string, createdAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeError != nil {
		return m.writeError
	}
	m.batches[batchID] = append([]string(nil), syncIDs...)
	m.batchTimes[batchID] = createdAt
	return nil
}

// BatchCreatedAt returns the creation time recorded for a batch
func (m *MemorySyncStore) BatchCreatedAt(batchID string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.batchTimes[batchID]
	return t, ok
}

func (m *MemorySyncStore) AppendEvent(syncID string, ev syncjob.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeError != nil {
		return m.writeError
	}
	m.events[syncID] = append(m.events[syncID], ev)
	return nil
}

func (m *MemorySyncStore) UpdateJobStatus(syncID string, status syncjob.JobStatus, errKind, errMsg string, completedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeError != nil {
		return m.writeError
	}
	job := m.jobs[syncID]
	job.Status = status
	job.ErrorMsg = errMsg
	job.CompletedAt = completedAt
	m.jobs[syncID] = job
	return nil
}

func (m *MemorySyncStore) Job(syncID string) (syncjob.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[syncID]
	return job, ok
}

func (m *MemorySyncStore) Events(syncID string) []syncjob.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]syncjob.Event, len(m.events[syncID]))
	copy(out, m.events[syncID])
	return out
}

func (m *MemorySyncStore) CountJobs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

func (m *MemorySyncStore) CountBatches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

// MemoryScheduleStore is an in-memory registry.ScheduleStore
type MemoryScheduleStore struct {
	mu         sync.Mutex
	schedules  map[string]registry.ScheduleConfig
	writeError error
}

func NewMemoryScheduleStore() *MemoryScheduleStore {
	return &MemoryScheduleStore{schedules: make(map[string]registry.ScheduleConfig)}
}

func (m *MemoryScheduleStore) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeError = err
}

func (m *MemoryScheduleStore) Insert(s *registry.ScheduleConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeError != nil {
		return m.writeError
	}
	m.schedules[s.ID] = *s
	return nil
}

func (m *MemoryScheduleStore) Update(s *registry.ScheduleConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeError != nil {
		return m.writeError
	}
	if _, ok := m.schedules[s.ID]; !ok {
		return registry.ErrNotFound
	}
	m.schedules[s.ID] = *s
	return nil
}

func (m *MemoryScheduleStore) Get(id string) (*registry.ScheduleConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return nil, registry.ErrNotFound
	}
	copied := s
	return &copied, nil
}

func (m *MemoryScheduleStore) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[id]; !ok {
		return registry.ErrNotFound
	}
	delete(m.schedules, id)
	return nil
}

func (m *MemoryScheduleStore) List() ([]*registry.ScheduleConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*registry.ScheduleConfig, 0, len(m.schedules))
	for _, s := range m.schedules {
		copied := s
		out = append(out, &copied)
	}
	return out, nil
}

// MockClock provides controllable time for testing
type MockClock struct {
	mu      sync.Mutex
	current time.Time
}

func NewMockClock(start time.Time) *MockClock {
	return &MockClock{current: start}
}

func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = m.current.Add(d)
}

func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = t
}

// CaptureHandler is a slog.Handler that records every log record
type CaptureHandler struct {
	mu      sync.Mutex
	entries []LogEntry
}

// LogEntry is one captured log record
type LogEntry struct {
	Level   slog.Level
	Message string
	Fields  map[string]any
}

func NewCaptureHandler() *CaptureHandler {
	return &CaptureHandler{}
}

// Logger returns a *slog.Logger writing into the handler
func (h *CaptureHandler) Logger() *slog.Logger {
	return slog.New(h)
}

func (h *CaptureHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (h *CaptureHandler) Handle(_ context.Context, r slog.Record) error {
	entry := LogEntry{
		Level:   r.Level,
		Message: r.Message,
		Fields:  make(map[string]any),
	}
	r.Attrs(func(a slog.Attr) bool {
		entry.Fields[a.Key] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	h.entries = append(h.entries, entry)
	h.mu.Unlock()
	return nil
}

func (h *CaptureHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *CaptureHandler) WithGroup(_ string) slog.Handler      { return h }

func (h *CaptureHandler) Entries() []LogEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]LogEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// EntriesAt returns captured records at the given level
func (h *CaptureHandler) EntriesAt(level slog.Level) []LogEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []LogEntry
	for _, e := range h.entries {
		if e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

// HasMessage reports whether any captured record carries the message
func (h *CaptureHandler) HasMessage(msg string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range h.entries {
		if e.Message == msg {
			return true
		}
	}
	return false
}

// DiscardLogger returns a logger that drops everything
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 4}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
