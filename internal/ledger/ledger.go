// Package ledger is the append-only, hash-chained record of every security- or
// attendance-relevant decision.
package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "attendguard/pkg/domain-errors"
	"attendguard/pkg/requestcontext"
)

const (
	defaultQueryLimit = 1000
	recentActivity    = 10
)

// Store persists entries. Append must read the current head chain hash, call
// seal with it and persist the sealed entry as one atomic step, then apply
// retention (oldest entries dropped first).
type Store interface {
	Append(ctx context.Context, seal func(prevHash string) Entry) (Entry, error)
	// Query returns matching entries, most recent first. Filter.Limit is ignored.
	Query(ctx context.Context, filter Filter) ([]Entry, error)
	// Window returns every retained entry, oldest first.
	Window(ctx context.Context) ([]Entry, error)
}

// Publisher receives sealed entries after they are stored. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, entry Entry)
}

// Ledger appends, queries and verifies entries.
type Ledger struct {
	store      Store
	publisher  Publisher
	logger     *slog.Logger
	metrics    *Metrics
	queryLimit int
}

type Option func(*Ledger)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

func WithPublisher(p Publisher) Option {
	return func(l *Ledger) {
		l.publisher = p
	}
}

func WithMetrics(m *Metrics) Option {
	return func(l *Ledger) {
		l.metrics = m
	}
}

// WithQueryLimit caps the number of entries returned by Query.
func WithQueryLimit(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.queryLimit = n
		}
	}
}

func New(store Store, opts ...Option) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("ledger store is required")
	}
	l := &Ledger{
		store:      store,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		queryLimit: defaultQueryLimit,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Append records one entry and returns it sealed.
func (l *Ledger) Append(ctx context.Context, category Category, subtype, subjectID string, details Details) (Entry, error) {
	if _, ok := ParseCategory(string(category)); !ok {
		return Entry{}, dErrors.New(dErrors.CodeInvalidInput, "unknown ledger category")
	}
	if subtype == "" {
		return Entry{}, dErrors.New(dErrors.CodeInvalidInput, "ledger subtype is required")
	}

	normalized, err := normalize(details)
	if err != nil {
		return Entry{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "ledger details are not serializable")
	}
	integrity, err := IntegrityHash(subjectID, subtype, normalized)
	if err != nil {
		return Entry{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "ledger details are not serializable")
	}

	now := requestcontext.Now(ctx).UTC()
	eventID := NewEventID(now)
	entry, err := l.store.Append(ctx, func(prevHash string) Entry {
		return Entry{
			EventID:       eventID,
			Timestamp:     now,
			Category:      category,
			Subtype:       subtype,
			SubjectID:     subjectID,
			Details:       normalized,
			IntegrityHash: integrity,
			Severity:      SeverityOf(category, subtype),
			PrevHash:      prevHash,
			ChainHash:     ChainHash(prevHash, eventID, integrity),
		}
	})
	if err != nil {
		l.metrics.IncAppendFailure(category)
		return Entry{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to append ledger entry")
	}
	l.metrics.IncAppended(category, entry.Severity)

	if l.publisher != nil {
		l.publisher.Publish(ctx, entry)
	}
	return entry, nil
}

// Query returns matching entries (most recent first, capped) and a summary of
// every match.
func (l *Ledger) Query(ctx context.Context, filter Filter) (*Report, error) {
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, dErrors.New(dErrors.CodeValidation, "query end precedes start")
	}
	matches, err := l.store.Query(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to query ledger")
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Timestamp.After(matches[j].Timestamp)
	})

	limit := l.queryLimit
	if filter.Limit > 0 && filter.Limit < limit {
		limit = filter.Limit
	}
	page := matches
	if len(page) > limit {
		page = page[:limit]
	}

	return &Report{
		Entries:   page,
		Summary:   summarize(matches),
		Truncated: len(matches) > len(page),
		Generated: requestcontext.Now(ctx).UTC(),
	}, nil
}

// Verify recomputes integrity and chain hashes over the retained window. The
// oldest retained entry anchors the chain.
func (l *Ledger) Verify(ctx context.Context) (VerifyResult, error) {
	window, err := l.store.Window(ctx)
	if err != nil {
		return VerifyResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read ledger window")
	}
	res := VerifyResult{Valid: true}
	prev := ""
	for i, e := range window {
		res.Checked++
		if reason := checkLink(e, i == 0, prev); reason != "" {
			res.Valid = false
			res.BrokenAt = e.EventID
			res.BrokenReason = reason
			l.logger.WarnContext(ctx, "ledger verification failed",
				"event_id", e.EventID,
				"reason", reason,
			)
			break
		}
		prev = e.ChainHash
	}
	return res, nil
}

func checkLink(e Entry, first bool, prev string) string {
	integrity, err := IntegrityHash(e.SubjectID, e.Subtype, e.Details)
	if err != nil || integrity != e.IntegrityHash {
		return "integrity hash mismatch"
	}
	if !first && e.PrevHash != prev {
		return "chain link mismatch"
	}
	if ChainHash(e.PrevHash, e.EventID, e.IntegrityHash) != e.ChainHash {
		return "chain hash mismatch"
	}
	return ""
}

func summarize(entries []Entry) Summary {
	s := Summary{
		Total:      len(entries),
		ByType:     make(map[string]int),
		BySeverity: map[Severity]int{SeverityHigh: 0, SeverityMedium: 0, SeverityLow: 0},
		BySubject:  make(map[string]int),
	}
	for _, e := range entries {
		s.ByType[e.Subtype]++
		s.BySeverity[e.Severity]++
		if e.SubjectID != "" {
			s.BySubject[e.SubjectID]++
		}
	}
	n := min(recentActivity, len(entries))
	s.RecentActivity = append([]Entry(nil), entries[:n]...)
	return s
}

// NewEventID builds a time-ordered, unique event id such as
// EVT_20260302090000123456_1a2b3c4d.
func NewEventID(t time.Time) string {
	stamp := strings.Replace(t.UTC().Format("20060102150405.000000"), ".", "", 1)
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return "EVT_" + stamp + "_" + suffix
}
