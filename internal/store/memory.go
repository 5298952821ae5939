package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Records are deep-copied on the way in
// and out so callers never share state with the store.
type MemoryStore struct {
	mu        sync.Mutex
	jobs      map[string]*Job
	batches   map[string][]*Batch
	providers map[string]*ProviderState
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:      make(map[string]*Job),
		batches:   make(map[string][]*Batch),
		providers: make(map[string]*ProviderState),
	}
}

func (m *MemoryStore) CreateJob(_ context.Context, job *Job, batches []*Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j := clone(job)
	if j.ErrorLog == nil {
		j.ErrorLog = []ErrorEntry{}
	}
	m.jobs[job.ID] = j
	list := make([]*Batch, 0, len(batches))
	for _, b := range batches {
		list = append(list, clone(b))
	}
	sort.SliceStable(list, func(i, k int) bool { return list[i].BatchIndex < list[k].BatchIndex })
	m.batches[job.ID] = list
	return nil
}

func (m *MemoryStore) GetJob(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(j), nil
}

func (m *MemoryStore) ListJobs(_ context.Context, filter JobFilter) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	want := make(map[JobStatus]bool, len(filter.Statuses))
	for _, st := range filter.Statuses {
		want[st] = true
	}
	var out []*Job
	for _, j := range m.jobs {
		if len(want) > 0 && !want[j.Status] {
			continue
		}
		out = append(out, clone(j))
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.After(out[k].CreatedAt)
		}
		return out[i].ID < out[k].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStore) MarkJobRunning(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != JobQueued {
		return false, nil
	}
	j.Status = JobRunning
	j.StartedAt = &at
	j.UpdatedAt = at
	return true, nil
}

func (m *MemoryStore) SaveJobProgress(_ context.Context, id string, p Progress, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status.Terminal() {
		return false, nil
	}
	j.Status = p.Status
	j.CompletedBatches = p.CompletedBatches
	j.FailedBatches = p.FailedBatches
	j.ProgressPercent = p.ProgressPercent
	j.ErrorLog = *clone(&p.ErrorLog)
	if j.ErrorLog == nil {
		j.ErrorLog = []ErrorEntry{}
	}
	j.CompletedAt = p.CompletedAt
	j.UpdatedAt = at
	return true, nil
}

func (m *MemoryStore) CompleteJob(_ context.Context, id string, job *Job, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status == JobFailed {
		return false, nil
	}
	c := clone(job)
	j.Status = JobComplete
	j.FinalResult = c.FinalResult
	j.ProgressPercent = 100
	j.CompletedBatches = c.CompletedBatches
	j.FailedBatches = c.FailedBatches
	j.ErrorLog = c.ErrorLog
	if j.ErrorLog == nil {
		j.ErrorLog = []ErrorEntry{}
	}
	j.CompletedAt = &at
	j.UpdatedAt = at
	return true, nil
}

func (m *MemoryStore) FailJob(_ context.Context, id string, errorLog []ErrorEntry, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status.Terminal() {
		return false, nil
	}
	j.Status = JobFailed
	j.ErrorLog = *clone(&errorLog)
	j.CompletedAt = &at
	j.UpdatedAt = at
	return true, nil
}

func (m *MemoryStore) ListBatches(_ context.Context, jobID string) ([]*Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Batch, 0, len(m.batches[jobID]))
	for _, b := range m.batches[jobID] {
		out = append(out, clone(b))
	}
	return out, nil
}

func (m *MemoryStore) ClaimBatch(_ context.Context, jobID, token string, at time.Time) (*Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.batches[jobID] {
		if b.Status != BatchPending {
			continue
		}
		b.Status = BatchProcessing
		b.ClaimToken = token
		b.ClaimedAt = &at
		b.UpdatedAt = at
		return clone(b), nil
	}
	return nil, nil
}

func (m *MemoryStore) UpdateBatch(_ context.Context, b *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, cur := range m.batches[b.JobID] {
		if cur.ID != b.ID {
			continue
		}
		if cur.ClaimToken != b.ClaimToken {
			return ErrClaimLost
		}
		next := clone(b)
		next.ClaimedAt = cur.ClaimedAt
		if next.Status == BatchProcessing {
			renewed := next.UpdatedAt
			next.ClaimedAt = &renewed
		}
		next.CreatedAt = cur.CreatedAt
		m.batches[b.JobID][i] = next
		return nil
	}
	return ErrClaimLost
}

func (m *MemoryStore) ReleaseStaleBatches(_ context.Context, jobID string, cutoff, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches[jobID] {
		if b.Status == BatchProcessing && b.ClaimedAt != nil && b.ClaimedAt.Before(cutoff) {
			b.Status = BatchPending
			b.ClaimToken = ""
			b.ClaimedAt = nil
			b.UpdatedAt = at
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) GetProviderState(_ context.Context, provider string) (*ProviderState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.providers[provider]
	if !ok {
		return nil, nil
	}
	return clone(st), nil
}

func (m *MemoryStore) UpsertProviderState(_ context.Context, st *ProviderState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[st.Provider] = clone(st)
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

// clone deep-copies through JSON, the same encoding the SQL store persists.
// A batch's claim token is not serialized and is copied explicitly.
func clone[T any](v *T) *T {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		panic(err)
	}
	if b, ok := any(v).(*Batch); ok {
		any(out).(*Batch).ClaimToken = b.ClaimToken
	}
	return out
}
