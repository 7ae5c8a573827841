package storage

import (
	"context"
	"io"
	"sync"
	"time"
)

type progressReader struct {
	ctx     context.Context
	r       io.Reader
	total   int64
	written int64
	fn      func(written, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.r.Read(b)
	if n > 0 {
		p.written += int64(n)
		if p.fn != nil {
			p.fn(p.written, p.total)
		}
	}
	return n, err
}

type Progress struct {
	ID        string    `json:"id"`
	Written   int64     `json:"written"`
	Total     int64     `json:"total"`
	Percent   float64   `json:"percent"`
	Done      bool      `json:"done"`
	Error     string    `json:"error,omitempty"`
	Key       string    `json:"key,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type progressKey struct {
	owner int64
	id    string
}

// ProgressTracker remembers the state of in-flight uploads so the console can
// poll them. Entries are scoped to the uploading user, so one user cannot read
// or overwrite another's upload. Finished entries are dropped after retention.
type ProgressTracker struct {
	mu        sync.Mutex
	items     map[progressKey]*Progress
	retention time.Duration
	now       func() time.Time
}

func NewProgressTracker(retention time.Duration) *ProgressTracker {
	if retention <= 0 {
		retention = 10 * time.Minute
	}
	return &ProgressTracker{
		items:     make(map[progressKey]*Progress),
		retention: retention,
		now:       time.Now,
	}
}

func (t *ProgressTracker) Start(owner int64, id string, total int64) {
	if id == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gcLocked()
	t.items[progressKey{owner, id}] = &Progress{ID: id, Total: total, UpdatedAt: t.now()}
}

func (t *ProgressTracker) Update(owner int64, id string, written, total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.items[progressKey{owner, id}]
	if !ok {
		return
	}
	p.Written = written
	if total > 0 {
		p.Total = total
	}
	p.Percent = percent(p.Written, p.Total)
	p.UpdatedAt = t.now()
}

func (t *ProgressTracker) Finish(owner int64, id, key string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.items[progressKey{owner, id}]
	if !ok {
		return
	}
	p.Done = true
	p.Key = key
	if err != nil {
		p.Error = err.Error()
	} else {
		p.Percent = 100
		if p.Written > p.Total {
			p.Total = p.Written
		}
	}
	p.UpdatedAt = t.now()
}

// Get returns the upload owner started under id.
func (t *ProgressTracker) Get(owner int64, id string) (Progress, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.items[progressKey{owner, id}]
	if !ok {
		return Progress{}, false
	}
	return *p, true
}

func (t *ProgressTracker) gcLocked() {
	cutoff := t.now().Add(-t.retention)
	for id, p := range t.items {
		if p.UpdatedAt.Before(cutoff) {
			delete(t.items, id)
		}
	}
}

func percent(written, total int64) float64 {
	if total <= 0 {
		return 0
	}
	v := float64(written) / float64(total) * 100
	if v > 99 {
		// the request body includes multipart framing, so 100 waits for Finish
		v = 99
	}
	return float64(int(v*10)) / 10
}
