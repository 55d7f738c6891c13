package ledger

import "time"

// Category classifies ledger entries by their primary purpose.
type Category string

const (
	// CategoryAttendance covers ordinary check-in/check-out outcomes and policy denials.
	CategoryAttendance Category = "attendance"
	// CategorySecurity covers device trust, biometric and identity failures.
	CategorySecurity Category = "security"
	// CategoryAccess covers administrative access to protected resources.
	CategoryAccess Category = "access"
)

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, bool) {
	switch c := Category(s); c {
	case CategoryAttendance, CategorySecurity, CategoryAccess:
		return c, true
	}
	return "", false
}

// Severity is derived from the classification table, never supplied by callers.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Details is the structured payload of an entry. Values must be JSON scalars,
// strings or nested Details so the integrity hash is stable across storage.
type Details map[string]any

// Entry is one append-only ledger record.
type Entry struct {
	EventID       string    `json:"event_id"`
	Timestamp     time.Time `json:"timestamp"`
	Category      Category  `json:"category"`
	Subtype       string    `json:"subtype"`
	SubjectID     string    `json:"subject_id"`
	Details       Details   `json:"details"`
	IntegrityHash string    `json:"integrity_hash"`
	Severity      Severity  `json:"severity"`
	PrevHash      string    `json:"prev_hash"`
	ChainHash     string    `json:"chain_hash"`
}

// Filter narrows a query. Zero values match everything.
type Filter struct {
	From       time.Time
	To         time.Time
	Categories []Category
	Subtypes   []string
	SubjectID  string
	Severity   Severity
	Limit      int
}

// Matches reports whether e satisfies the filter (Limit is ignored).
func (f Filter) Matches(e Entry) bool {
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	if f.SubjectID != "" && e.SubjectID != f.SubjectID {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if len(f.Categories) > 0 && !contains(f.Categories, e.Category) {
		return false
	}
	if len(f.Subtypes) > 0 && !contains(f.Subtypes, e.Subtype) {
		return false
	}
	return true
}

func contains[T comparable](items []T, v T) bool {
	for _, it := range items {
		if it == v {
			return true
		}
	}
	return false
}

// Summary aggregates every entry that matched a query, not only the returned page.
type Summary struct {
	Total          int              `json:"total"`
	ByType         map[string]int   `json:"by_type"`
	BySeverity     map[Severity]int `json:"by_severity"`
	BySubject      map[string]int   `json:"by_subject"`
	RecentActivity []Entry          `json:"recent_activity"`
}

// Report is the result of a ledger query.
type Report struct {
	Entries   []Entry   `json:"entries"`
	Summary   Summary   `json:"summary"`
	Truncated bool      `json:"truncated"`
	Generated time.Time `json:"generated_at"`
}

// VerifyResult describes a recomputation of integrity and chain hashes.
type VerifyResult struct {
	Checked      int    `json:"checked"`
	Valid        bool   `json:"valid"`
	BrokenAt     string `json:"broken_at,omitempty"`
	BrokenReason string `json:"broken_reason,omitempty"`
}
