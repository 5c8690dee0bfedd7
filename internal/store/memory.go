package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Memory is an in-memory KV + SuspensionStore used by tests and development
// mode. It honours the same contracts as the Postgres store.
type Memory struct {
	mu          sync.RWMutex
	records     map[string]memoryRecord // account/namespace/key
	suspensions map[string]Suspension
	idempotency map[string]struct{}
	seq         int64
}

type memoryRecord struct {
	Record
	seq int64
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records:     make(map[string]memoryRecord),
		suspensions: make(map[string]Suspension),
		idempotency: make(map[string]struct{}),
	}
}

func recordKey(account, namespace, key string) string {
	return account + "/" + namespace + "/" + key
}

func (m *Memory) Get(ctx context.Context, account, namespace, key string) (json.RawMessage, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[recordKey(account, namespace, key)]
	if !ok {
		return nil, false, nil
	}
	out := make(json.RawMessage, len(rec.Value))
	copy(out, rec.Value)
	return out, true, nil
}

func (m *Memory) Put(ctx context.Context, account, namespace, key string, value json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(account, namespace, key, value)
	return nil
}

func (m *Memory) putLocked(account, namespace, key string, value json.RawMessage) {
	v := make(json.RawMessage, len(value))
	copy(v, value)
	m.seq++
	m.records[recordKey(account, namespace, key)] = memoryRecord{
		Record: Record{Namespace: namespace, Key: key, Value: v, UpdatedAt: time.Now().UTC()},
		seq:    m.seq,
	}
}

func (m *Memory) Delete(ctx context.Context, account, namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, recordKey(account, namespace, key))
	return nil
}

func (m *Memory) List(ctx context.Context, account, namespace string, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix := account + "/" + namespace + "/"
	var out []memoryRecord
	for k, rec := range m.records {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, rec)
		}
	}
	// newest first, same as the Postgres ORDER BY
	sort.Slice(out, func(i, j int) bool { return out[i].seq > out[j].seq })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	recs := make([]Record, len(out))
	for i, r := range out {
		recs[i] = r.Record
	}
	return recs, nil
}

func (m *Memory) PutPair(ctx context.Context, account string, a, b Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(account, a.Namespace, a.Key, a.Value)
	m.putLocked(account, b.Namespace, b.Key, b.Value)
	return nil
}

func (m *Memory) SaveSuspension(ctx context.Context, s Suspension) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	m.suspensions[s.CycleID] = s
	return nil
}

func (m *Memory) GetSuspension(ctx context.Context, cycleID string) (Suspension, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.suspensions[cycleID]
	return s, ok, nil
}

func (m *Memory) ListPendingSuspensions(ctx context.Context, account string) ([]Suspension, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Suspension
	for _, s := range m.suspensions {
		if s.AccountID == account && s.Status == SuspensionStatusPending {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ResolveSuspension(ctx context.Context, cycleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.suspensions[cycleID]
	if !ok {
		return ErrSuspensionNotFound
	}
	if s.Status == SuspensionStatusResolved {
		return ErrSuspensionResolved
	}
	now := time.Now().UTC()
	s.Status = SuspensionStatusResolved
	s.ResolvedAt = &now
	m.suspensions[cycleID] = s
	return nil
}

// ClaimIdempotency mirrors the Postgres implementation for tests.
func (m *Memory) ClaimIdempotency(ctx context.Context, scope, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := scope + "/" + key
	if _, ok := m.idempotency[k]; ok {
		return false, nil
	}
	m.idempotency[k] = struct{}{}
	return true, nil
}

var (
	_ KV              = (*Memory)(nil)
	_ SuspensionStore = (*Memory)(nil)
)
