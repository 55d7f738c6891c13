package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"attendguard/internal/ledger"
	txcontext "attendguard/pkg/platform/tx"
)

// appendLockKey serializes appenders across processes so the chain has one head.
const appendLockKey = 0x61747467

// Store persists the ledger in the audit_ledger table. Rows are never updated;
// retention deletes the lowest sequence numbers once maxEntries is exceeded.
type Store struct {
	db         *sql.DB
	maxEntries int
}

// New creates a PostgreSQL ledger store. maxEntries <= 0 disables retention.
func New(db *sql.DB, maxEntries int) *Store {
	return &Store{db: db, maxEntries: maxEntries}
}

const entryColumns = `event_id, occurred_at, category, subtype, subject_id, details,
	integrity_hash, severity, prev_hash, chain_hash`

func (s *Store) Append(ctx context.Context, seal func(prevHash string) ledger.Entry) (ledger.Entry, error) {
	var entry ledger.Entry
	err := txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		exec := txcontext.ExecutorFrom(ctx, s.db)

		if _, err := exec.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, appendLockKey); err != nil {
			return fmt.Errorf("lock ledger head: %w", err)
		}

		var prev string
		err := exec.QueryRowContext(ctx, `SELECT chain_hash FROM audit_ledger ORDER BY seq DESC LIMIT 1`).Scan(&prev)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("read ledger head: %w", err)
		}

		entry = seal(prev)
		details, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("marshal details: %w", err)
		}

		_, err = exec.ExecContext(ctx, `
			INSERT INTO audit_ledger (`+entryColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`,
			entry.EventID,
			entry.Timestamp,
			string(entry.Category),
			entry.Subtype,
			entry.SubjectID,
			details,
			entry.IntegrityHash,
			string(entry.Severity),
			entry.PrevHash,
			entry.ChainHash,
		)
		if err != nil {
			return fmt.Errorf("insert ledger entry: %w", err)
		}

		if s.maxEntries > 0 {
			_, err = exec.ExecContext(ctx, `
				DELETE FROM audit_ledger
				WHERE seq <= (SELECT MAX(seq) FROM audit_ledger) - $1
			`, s.maxEntries)
			if err != nil {
				return fmt.Errorf("trim ledger: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return ledger.Entry{}, err
	}
	return entry, nil
}

func (s *Store) Query(ctx context.Context, filter ledger.Filter) ([]ledger.Entry, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if !filter.From.IsZero() {
		add("occurred_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("occurred_at <= $%d", filter.To)
	}
	if filter.SubjectID != "" {
		add("subject_id = $%d", filter.SubjectID)
	}
	if filter.Severity != "" {
		add("severity = $%d", string(filter.Severity))
	}
	if len(filter.Categories) > 0 {
		cats := make([]string, len(filter.Categories))
		for i, c := range filter.Categories {
			cats[i] = string(c)
		}
		add("category = ANY($%d)", pq.Array(cats))
	}
	if len(filter.Subtypes) > 0 {
		add("subtype = ANY($%d)", pq.Array(filter.Subtypes))
	}

	query := `SELECT ` + entryColumns + ` FROM audit_ledger`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY seq DESC`

	rows, err := txcontext.ExecutorFrom(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *Store) Window(ctx context.Context) ([]ledger.Entry, error) {
	rows, err := txcontext.ExecutorFrom(ctx, s.db).QueryContext(ctx,
		`SELECT `+entryColumns+` FROM audit_ledger ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("read ledger window: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]ledger.Entry, error) {
	var out []ledger.Entry
	for rows.Next() {
		var (
			e        ledger.Entry
			category string
			severity string
			details  []byte
		)
		if err := rows.Scan(
			&e.EventID,
			&e.Timestamp,
			&category,
			&e.Subtype,
			&e.SubjectID,
			&details,
			&e.IntegrityHash,
			&severity,
			&e.PrevHash,
			&e.ChainHash,
		); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.Category = ledger.Category(category)
		e.Severity = ledger.Severity(severity)
		e.Timestamp = e.Timestamp.UTC()
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("decode ledger details: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}
	return out, nil
}
