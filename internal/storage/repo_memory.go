package storage

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"voicemetrics/internal/snapshot"
	"voicemetrics/internal/stats"
)

// MemoryStore is an in-memory Store for tests and early development.
// Upserts follow the same overwrite-on-conflict semantics as the Postgres
// implementation. The error hooks let tests inject per-batch failures.
type MemoryStore struct {
	mu sync.Mutex

	Workspaces map[int64]Workspace
	Phones     map[string]WorkspacePhone
	Calls      map[string]CallRow

	CallRollups         map[string]snapshot.CallRollup
	ConversationRollups map[string]snapshot.ConversationRollup

	// Optional failure hooks, invoked once per batch before applying it.
	UpsertCallsErr               func(batch []CallRow) error
	UpsertCallRollupsErr         func(batch []snapshot.CallRollup) error
	UpsertConversationRollupsErr func(batch []snapshot.ConversationRollup) error
	InsertPhoneErr               func(phone WorkspacePhone) error
	ListPhonesErr                error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Workspaces:          map[int64]Workspace{},
		Phones:              map[string]WorkspacePhone{},
		Calls:               map[string]CallRow{},
		CallRollups:         map[string]snapshot.CallRollup{},
		ConversationRollups: map[string]snapshot.ConversationRollup{},
	}
}

func (m *MemoryStore) ListWorkspaces(ctx context.Context) ([]Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Workspace, 0, len(m.Workspaces))
	for _, w := range m.Workspaces {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) ListWorkspacePhones(ctx context.Context) ([]WorkspacePhone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListPhonesErr != nil {
		return nil, m.ListPhonesErr
	}
	out := make([]WorkspacePhone, 0, len(m.Phones))
	for _, p := range m.Phones {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PhoneNumber < out[j].PhoneNumber })
	return out, nil
}

func (m *MemoryStore) InsertWorkspacePhone(ctx context.Context, phone WorkspacePhone) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.InsertPhoneErr != nil {
		if err := m.InsertPhoneErr(phone); err != nil {
			return err
		}
	}
	if phone.PhoneNumber == "" {
		return errors.New("phone_number required")
	}
	if _, exists := m.Phones[phone.PhoneNumber]; exists {
		return errors.New("phone_number already registered")
	}
	m.Phones[phone.PhoneNumber] = phone
	return nil
}

func (m *MemoryStore) UpsertCalls(ctx context.Context, rows []CallRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpsertCallsErr != nil {
		if err := m.UpsertCallsErr(rows); err != nil {
			return err
		}
	}
	for _, r := range rows {
		m.Calls[r.ID] = r
	}
	return nil
}

func (m *MemoryStore) UpsertCallRollups(ctx context.Context, rows []snapshot.CallRollup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpsertCallRollupsErr != nil {
		if err := m.UpsertCallRollupsErr(rows); err != nil {
			return err
		}
	}
	for _, r := range rows {
		m.CallRollups[rollupMapKey(r.WorkspaceID, r.BucketStart)] = r
	}
	return nil
}

func (m *MemoryStore) UpsertConversationRollups(ctx context.Context, rows []snapshot.ConversationRollup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpsertConversationRollupsErr != nil {
		if err := m.UpsertConversationRollupsErr(rows); err != nil {
			return err
		}
	}
	for _, r := range rows {
		m.ConversationRollups[rollupMapKey(r.WorkspaceID, r.BucketStart)] = r
	}
	return nil
}

// --- read side (stats.Repository) ---

func (m *MemoryStore) ListCallRollups(ctx context.Context, f stats.Filter) ([]snapshot.CallRollup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]snapshot.CallRollup, 0)
	for _, r := range m.CallRollups {
		if !matchesFilter(r.WorkspaceID, r.BucketStart, f) {
			continue
		}
		out = append(out, r)
	}
	sortCallRollupsByBucket(out)
	return out, nil
}

func (m *MemoryStore) ListConversationRollups(ctx context.Context, f stats.Filter) ([]snapshot.ConversationRollup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]snapshot.ConversationRollup, 0)
	for _, r := range m.ConversationRollups {
		if !matchesFilter(r.WorkspaceID, r.BucketStart, f) {
			continue
		}
		out = append(out, r)
	}
	sortConversationRollupsByBucket(out)
	return out, nil
}

func (m *MemoryStore) ListRecentCallRollups(ctx context.Context, workspaceID int64, limit int) ([]snapshot.CallRollup, error) {
	rows, err := m.ListCallRollups(ctx, stats.Filter{WorkspaceID: workspaceID})
	if err != nil {
		return nil, err
	}
	// Recent-first for history views.
	reverseInPlace(rows)
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (m *MemoryStore) ListRecentConversationRollups(ctx context.Context, workspaceID int64, limit int) ([]snapshot.ConversationRollup, error) {
	rows, err := m.ListConversationRollups(ctx, stats.Filter{WorkspaceID: workspaceID})
	if err != nil {
		return nil, err
	}
	reverseInPlace(rows)
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func matchesFilter(workspaceID int64, bucket time.Time, f stats.Filter) bool {
	if f.WorkspaceID != 0 && workspaceID != f.WorkspaceID {
		return false
	}
	if f.Start != nil && bucket.Before(*f.Start) {
		return false
	}
	if f.End != nil && bucket.After(*f.End) {
		return false
	}
	return true
}

func rollupMapKey(workspaceID int64, bucket time.Time) string {
	return strconv.FormatInt(workspaceID, 10) + "_" + bucket.UTC().Format(time.RFC3339)
}

func sortCallRollupsByBucket(rows []snapshot.CallRollup) {
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].BucketStart.Equal(rows[j].BucketStart) {
			return rows[i].BucketStart.Before(rows[j].BucketStart)
		}
		return rows[i].WorkspaceID < rows[j].WorkspaceID
	})
}

func sortConversationRollupsByBucket(rows []snapshot.ConversationRollup) {
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].BucketStart.Equal(rows[j].BucketStart) {
			return rows[i].BucketStart.Before(rows[j].BucketStart)
		}
		return rows[i].WorkspaceID < rows[j].WorkspaceID
	})
}

func reverseInPlace[T any](rows []T) {
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
}
