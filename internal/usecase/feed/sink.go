// Package feed implements the append-only audit sink every workflow event
// passes through.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"ppi-control/internal/domain"
)

// Sink orders audit entries, persists them to the feed_logs collection and
// notifies subscribers. Sequence numbers are assigned under a lock; the store
// write and subscriber callbacks run outside it.
type Sink struct {
	store  domain.Store
	logger *slog.Logger
	now    func() time.Time

	mu  sync.Mutex
	seq uint64

	subMu  sync.RWMutex
	subs   map[uint64]domain.AuditFunc
	nextID uint64
}

// Option configures a Sink.
type Option func(*Sink)

// WithClock overrides the time source used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) { s.now = now }
}

// New creates a sink writing to store.
func New(store domain.Store, logger *slog.Logger, opts ...Option) *Sink {
	s := &Sink{
		store:  store,
		logger: logger.With("component", "feed"),
		now:    time.Now,
		subs:   make(map[uint64]domain.AuditFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Restore resumes sequence numbering after the highest persisted entry.
func (s *Sink) Restore(ctx context.Context) error {
	recs, err := s.store.Query(ctx, domain.CollectionFeedLogs, domain.Query{OrderBy: "seq", Desc: true, Limit: 1})
	if err != nil {
		return domain.WrapOp("feed.Restore", err)
	}
	if len(recs) == 0 {
		return nil
	}
	var last domain.FeedEntry
	if err := recs[0].Decode(&last); err != nil {
		return domain.WrapOp("feed.Restore", err)
	}
	s.mu.Lock()
	if last.Seq > s.seq {
		s.seq = last.Seq
	}
	s.mu.Unlock()
	s.logger.Info("feed sequence restored", "seq", last.Seq)
	return nil
}

// Append stamps, persists and publishes entry. A store fault is returned
// wrapped in both ErrAuditWrite and the underlying cause; subscribers are not
// notified of entries that were not persisted.
func (s *Sink) Append(ctx context.Context, entry domain.FeedEntry) (domain.FeedEntry, error) {
	s.mu.Lock()
	s.seq++
	entry.Seq = s.seq
	// Stamped with the sequence so created_at never decreases along seq.
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	s.mu.Unlock()

	entry.ID = domain.NewID()

	rec, err := domain.ToRecord(entry)
	if err != nil {
		return domain.FeedEntry{}, domain.WrapOp("feed.Append", err)
	}
	if _, err := s.store.Insert(ctx, domain.CollectionFeedLogs, rec); err != nil {
		s.logger.Warn("feed entry not persisted",
			"seq", entry.Seq,
			"agent", string(entry.Agent),
			"category", entry.Category,
			"error", err,
		)
		return domain.FeedEntry{}, domain.WrapOp("feed.Append", fmt.Errorf("%w: %w", domain.ErrAuditWrite, err))
	}

	s.logger.Debug("feed entry appended",
		"seq", entry.Seq,
		"agent", string(entry.Agent),
		"category", entry.Category,
		"project_id", entry.ProjectID,
	)
	s.notify(entry)
	return entry, nil
}

func (s *Sink) notify(entry domain.FeedEntry) {
	s.subMu.RLock()
	ids := make([]uint64, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]domain.AuditFunc, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.subMu.RUnlock()

	for _, fn := range fns {
		s.call(fn, entry)
	}
}

func (s *Sink) call(fn domain.AuditFunc, entry domain.FeedEntry) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("audit subscriber panicked", "seq", entry.Seq, "panic", r)
		}
	}()
	fn(entry)
}

// Subscribe registers fn for every appended entry, in subscription order.
// Callbacks run on the appending goroutine and must not block.
func (s *Sink) Subscribe(fn domain.AuditFunc) func() {
	s.subMu.Lock()
	s.nextID++
	id := s.nextID
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// Recent returns up to limit persisted entries, newest first.
func (s *Sink) Recent(ctx context.Context, limit int) ([]domain.FeedEntry, error) {
	recs, err := s.store.Query(ctx, domain.CollectionFeedLogs, domain.Query{OrderBy: "seq", Desc: true, Limit: limit})
	if err != nil {
		return nil, domain.WrapOp("feed.Recent", err)
	}
	return domain.DecodeAll[domain.FeedEntry](recs)
}

// sincePageSize is how many entries Since reads per store query.
const sincePageSize = 256

// Since returns persisted entries created at or after from, newest first.
// It walks back by seq a page at a time and stops after the first page that
// reaches an entry older than from.
func (s *Sink) Since(ctx context.Context, from time.Time) ([]domain.FeedEntry, error) {
	var out []domain.FeedEntry
	for offset := 0; ; offset += sincePageSize {
		recs, err := s.store.Query(ctx, domain.CollectionFeedLogs, domain.Query{
			OrderBy: "seq",
			Desc:    true,
			Limit:   sincePageSize,
			Offset:  offset,
		})
		if err != nil {
			return nil, domain.WrapOp("feed.Since", err)
		}
		page, err := domain.DecodeAll[domain.FeedEntry](recs)
		if err != nil {
			return nil, domain.WrapOp("feed.Since", err)
		}
		reachedOlder := false
		for _, e := range page {
			if e.CreatedAt.Before(from) {
				reachedOlder = true
				continue
			}
			out = append(out, e)
		}
		if reachedOlder || len(page) < sincePageSize {
			return out, nil
		}
	}
}

// Seq returns the last assigned sequence number.
func (s *Sink) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}
