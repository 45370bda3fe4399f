package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/xraph/kegsync"
	"github.com/xraph/kegsync/alert"
	"github.com/xraph/kegsync/batch"
	"github.com/xraph/kegsync/event"
	"github.com/xraph/kegsync/fingerprint"
	"github.com/xraph/kegsync/id"
	"github.com/xraph/kegsync/pallet"
	"github.com/xraph/kegsync/retryq"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each entity.
var (
	_ batch.Store  = (*Store)(nil)
	_ pallet.Store = (*Store)(nil)
	_ retryq.Store = (*Store)(nil)
	_ alert.Store  = (*Store)(nil)
	_ event.Store  = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	batches map[string]*batch.Batch
	pallets map[string]*pallet.Pallet
	retries map[string]*retryq.Entry
	alerts  []*alert.Alert
	events  []*event.Event
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		batches: make(map[string]*batch.Batch),
		pallets: make(map[string]*pallet.Pallet),
		retries: make(map[string]*retryq.Entry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Batch Store
// ──────────────────────────────────────────────────

// CreateBatch persists a new batch.
func (m *Store) CreateBatch(_ context.Context, b *batch.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.batches[b.SessionID]; exists {
		return kegsync.ErrBatchExists
	}
	m.batches[b.SessionID] = b.Clone()
	return nil
}

// GetBatch retrieves a batch by session id.
func (m *Store) GetBatch(_ context.Context, sessionID string) (*batch.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.batches[sessionID]
	if !ok {
		return nil, kegsync.ErrBatchNotFound
	}
	return b.Clone(), nil
}

// UpdateBatch replaces an existing batch.
func (m *Store) UpdateBatch(_ context.Context, b *batch.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.batches[b.SessionID]; !ok {
		return kegsync.ErrBatchNotFound
	}
	m.batches[b.SessionID] = b.Clone()
	return nil
}

// NextSeq returns max(seq) + 1.
func (m *Store) NextSeq(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var maxSeq int64
	for _, b := range m.batches {
		if b.Seq > maxSeq {
			maxSeq = b.Seq
		}
	}
	return maxSeq + 1, nil
}

// ListBatches returns batches matching the given options.
func (m *Store) ListBatches(_ context.Context, opts batch.ListOpts) ([]*batch.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := m.filterBatches(func(b *batch.Batch) bool {
		if len(opts.Statuses) > 0 && !slices.Contains(opts.Statuses, b.Status) {
			return false
		}
		return !opts.Attention || b.RequiresAttention
	})
	if opts.Newest {
		slices.Reverse(out)
	}
	return paginate(out, opts.Offset, opts.Limit), nil
}

// ListStale returns batches in statuses last updated before the cutoff.
func (m *Store) ListStale(_ context.Context, statuses []batch.Status, before time.Time) ([]*batch.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.filterBatches(func(b *batch.Batch) bool {
		return slices.Contains(statuses, b.Status) && b.UpdatedAt.Before(before)
	}), nil
}

// ListUnattempted returns never-attempted API_PENDING batches with a
// payload updated at or after since.
func (m *Store) ListUnattempted(_ context.Context, since time.Time) ([]*batch.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.filterBatches(func(b *batch.Batch) bool {
		return b.Status == batch.StatusAPIPending &&
			b.Attempts == 0 &&
			len(b.Payload) > 0 &&
			!b.UpdatedAt.Before(since)
	}), nil
}

// ListIncomplete returns open batches with fewer codes than their target.
func (m *Store) ListIncomplete(_ context.Context) ([]*batch.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.filterBatches(func(b *batch.Batch) bool {
		return len(b.Codes) < b.TargetCount &&
			b.Status != batch.StatusAPISent &&
			b.Status != batch.StatusManualResolved
	}), nil
}

// FindSentByLabel returns the latest API_SENT batch with the label.
func (m *Store) FindSentByLabel(_ context.Context, label string) (*batch.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := m.filterBatches(func(b *batch.Batch) bool {
		return b.Status == batch.StatusAPISent && b.Label == label
	})
	if len(matches) == 0 {
		return nil, kegsync.ErrBatchNotFound
	}
	return matches[len(matches)-1], nil
}

// CountBatches returns the number of batches matching the options.
func (m *Store) CountBatches(_ context.Context, opts batch.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, b := range m.batches {
		if opts.Status != "" && b.Status != opts.Status {
			continue
		}
		if opts.Attention && !b.RequiresAttention {
			continue
		}
		n++
	}
	return n, nil
}

// filterBatches returns clones of matching batches ordered by Seq. The
// caller must hold m.mu.
func (m *Store) filterBatches(keep func(*batch.Batch) bool) []*batch.Batch {
	out := make([]*batch.Batch, 0)
	for _, b := range m.batches {
		if keep(b) {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Seq < out[k].Seq })
	return out
}

// ──────────────────────────────────────────────────
// Pallet Store
// ──────────────────────────────────────────────────

// InsertPallet persists a new pallet record.
func (m *Store) InsertPallet(_ context.Context, p *pallet.Pallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.Status != pallet.StatusShipped {
		if _, ok := m.activePallet(p.Fingerprint); ok {
			return kegsync.ErrPalletExists
		}
	}
	cp := clonePallet(p)
	m.pallets[p.ID.String()] = cp
	return nil
}

// GetPallet retrieves a pallet by ID.
func (m *Store) GetPallet(_ context.Context, palletID id.PalletID) (*pallet.Pallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.pallets[palletID.String()]
	if !ok {
		return nil, kegsync.ErrPalletNotFound
	}
	return clonePallet(p), nil
}

// ActivePallet returns the non-SHIPPED record for fp.
func (m *Store) ActivePallet(_ context.Context, fp fingerprint.Fingerprint) (*pallet.Pallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.activePallet(fp)
	if !ok {
		return nil, kegsync.ErrPalletNotFound
	}
	return clonePallet(p), nil
}

// UpdatePallet replaces an existing pallet record.
func (m *Store) UpdatePallet(_ context.Context, p *pallet.Pallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := p.ID.String()
	if _, ok := m.pallets[key]; !ok {
		return kegsync.ErrPalletNotFound
	}
	if p.Status != pallet.StatusShipped {
		if live, ok := m.activePallet(p.Fingerprint); ok && live.ID.String() != key {
			return kegsync.ErrPalletExists
		}
	}
	m.pallets[key] = clonePallet(p)
	return nil
}

// ListPallets returns pallet records newest first.
func (m *Store) ListPallets(_ context.Context, opts pallet.ListOpts) ([]*pallet.Pallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*pallet.Pallet, 0, len(m.pallets))
	for _, p := range m.pallets {
		if opts.Status != "" && p.Status != opts.Status {
			continue
		}
		out = append(out, clonePallet(p))
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.After(out[k].CreatedAt)
		}
		return out[i].ID.String() > out[k].ID.String()
	})
	return paginate(out, opts.Offset, opts.Limit), nil
}

func (m *Store) activePallet(fp fingerprint.Fingerprint) (*pallet.Pallet, bool) {
	for _, p := range m.pallets {
		if p.Fingerprint == fp && p.Status != pallet.StatusShipped {
			return p, true
		}
	}
	return nil, false
}

func clonePallet(p *pallet.Pallet) *pallet.Pallet {
	cp := *p
	if p.ShippedAt != nil {
		t := *p.ShippedAt
		cp.ShippedAt = &t
	}
	return &cp
}

// ──────────────────────────────────────────────────
// Retry Queue Store
// ──────────────────────────────────────────────────

// UpsertRetry inserts or replaces the entry for a session id.
func (m *Store) UpsertRetry(_ context.Context, e *retryq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.retries[e.SessionID] = cloneEntry(e)
	return nil
}

// GetRetry retrieves the entry for a session id.
func (m *Store) GetRetry(_ context.Context, sessionID string) (*retryq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.retries[sessionID]
	if !ok {
		return nil, kegsync.ErrRetryNotFound
	}
	return cloneEntry(e), nil
}

// ListDue returns eligible entries, oldest due first.
func (m *Store) ListDue(_ context.Context, now time.Time, limit int) ([]*retryq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*retryq.Entry, 0)
	for _, e := range m.retries {
		if e.NextRetryAt.After(now) || e.Exhausted() {
			continue
		}
		out = append(out, cloneEntry(e))
	}
	sortEntries(out)
	return paginate(out, 0, limit), nil
}

// UpdateRetry replaces an existing entry.
func (m *Store) UpdateRetry(_ context.Context, e *retryq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.retries[e.SessionID]; !ok {
		return kegsync.ErrRetryNotFound
	}
	m.retries[e.SessionID] = cloneEntry(e)
	return nil
}

// DeleteRetry removes the entry for a session id.
func (m *Store) DeleteRetry(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.retries[sessionID]; !ok {
		return kegsync.ErrRetryNotFound
	}
	delete(m.retries, sessionID)
	return nil
}

// ListRetries returns entries ordered by NextRetryAt.
func (m *Store) ListRetries(_ context.Context, opts retryq.ListOpts) ([]*retryq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*retryq.Entry, 0, len(m.retries))
	for _, e := range m.retries {
		out = append(out, cloneEntry(e))
	}
	sortEntries(out)
	return paginate(out, opts.Offset, opts.Limit), nil
}

// ListExhausted returns entries that used up their attempt budget.
func (m *Store) ListExhausted(_ context.Context) ([]*retryq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*retryq.Entry, 0)
	for _, e := range m.retries {
		if e.Exhausted() {
			out = append(out, cloneEntry(e))
		}
	}
	sortEntries(out)
	return out, nil
}

// SweepRetries removes exhausted entries created before the cutoff.
func (m *Store) SweepRetries(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for key, e := range m.retries {
		if e.Exhausted() && e.CreatedAt.Before(before) {
			delete(m.retries, key)
			n++
		}
	}
	return n, nil
}

// DeleteOrphanRetries removes entries whose batch does not exist.
func (m *Store) DeleteOrphanRetries(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for key := range m.retries {
		if _, ok := m.batches[key]; !ok {
			delete(m.retries, key)
			n++
		}
	}
	return n, nil
}

// CountRetries returns the number of queued entries.
func (m *Store) CountRetries(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.retries)), nil
}

func cloneEntry(e *retryq.Entry) *retryq.Entry {
	cp := *e
	cp.Payload = slices.Clone(e.Payload)
	if e.LastAttemptAt != nil {
		t := *e.LastAttemptAt
		cp.LastAttemptAt = &t
	}
	return &cp
}

func sortEntries(entries []*retryq.Entry) {
	sort.Slice(entries, func(i, k int) bool {
		if !entries[i].NextRetryAt.Equal(entries[k].NextRetryAt) {
			return entries[i].NextRetryAt.Before(entries[k].NextRetryAt)
		}
		return entries[i].SessionID < entries[k].SessionID
	})
}

// ──────────────────────────────────────────────────
// Alert Store
// ──────────────────────────────────────────────────

// CreateAlert persists a new alert.
func (m *Store) CreateAlert(_ context.Context, a *alert.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.alerts = append(m.alerts, cloneAlert(a))
	return nil
}

// GetAlert retrieves an alert by ID.
func (m *Store) GetAlert(_ context.Context, alertID id.AlertID) (*alert.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, a := range m.alerts {
		if a.ID.String() == alertID.String() {
			return cloneAlert(a), nil
		}
	}
	return nil, kegsync.ErrAlertNotFound
}

// ListAlerts returns alerts newest first.
func (m *Store) ListAlerts(_ context.Context, opts alert.ListOpts) ([]*alert.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*alert.Alert, 0)
	for i := len(m.alerts) - 1; i >= 0; i-- {
		if a := m.alerts[i]; alertMatches(a, opts) {
			out = append(out, cloneAlert(a))
		}
	}
	return paginate(out, opts.Offset, opts.Limit), nil
}

// ResolveAlert marks one alert resolved.
func (m *Store) ResolveAlert(_ context.Context, alertID id.AlertID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.alerts {
		if a.ID.String() == alertID.String() {
			if !a.Resolved {
				a.Resolved = true
				t := at
				a.ResolvedAt = &t
			}
			return nil
		}
	}
	return kegsync.ErrAlertNotFound
}

// ResolveAlertsBefore resolves open alerts of typ created before the cutoff.
func (m *Store) ResolveAlertsBefore(_ context.Context, typ alert.Type, before, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, a := range m.alerts {
		if a.Resolved || a.Type != typ || !a.CreatedAt.Before(before) {
			continue
		}
		a.Resolved = true
		t := at
		a.ResolvedAt = &t
		n++
	}
	return n, nil
}

// CountAlerts returns the number of alerts matching the options.
func (m *Store) CountAlerts(_ context.Context, opts alert.ListOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, a := range m.alerts {
		if alertMatches(a, opts) {
			n++
		}
	}
	return n, nil
}

func alertMatches(a *alert.Alert, opts alert.ListOpts) bool {
	if opts.Type != "" && a.Type != opts.Type {
		return false
	}
	if opts.SessionID != "" && a.SessionID != opts.SessionID {
		return false
	}
	return !opts.Unresolved || !a.Resolved
}

func cloneAlert(a *alert.Alert) *alert.Alert {
	cp := *a
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}

// ──────────────────────────────────────────────────
// Event Store
// ──────────────────────────────────────────────────

// AppendEvent persists a new event.
func (m *Store) AppendEvent(_ context.Context, evt *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *evt
	cp.Details = slices.Clone(evt.Details)
	m.events = append(m.events, &cp)
	return nil
}

// ListEvents returns events newest first.
func (m *Store) ListEvents(_ context.Context, opts event.ListOpts) ([]*event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*event.Event, 0)
	for i := len(m.events) - 1; i >= 0; i-- {
		evt := m.events[i]
		if opts.Type != "" && evt.Type != opts.Type {
			continue
		}
		cp := *evt
		out = append(out, &cp)
	}
	return paginate(out, opts.Offset, opts.Limit), nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
