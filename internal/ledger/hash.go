package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// IntegrityHash derives the tamper-evidence tag of an entry from its subject,
// subtype and canonical details. encoding/json sorts map keys, which makes the
// serialization canonical for Details.
func IntegrityHash(subjectID, subtype string, details Details) (string, error) {
	canonical, err := canonicalize(details)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(subjectID + "_" + subtype + "_" + canonical))
	return hex.EncodeToString(sum[:])[:16], nil
}

// ChainHash links an entry to its predecessor.
func ChainHash(prevHash, eventID, integrityHash string) string {
	sum := sha256.Sum256([]byte(prevHash + "|" + eventID + "|" + integrityHash))
	return hex.EncodeToString(sum[:])
}

func canonicalize(details Details) (string, error) {
	if details == nil {
		details = Details{}
	}
	b, err := json.Marshal(details)
	if err != nil {
		return "", fmt.Errorf("canonicalize details: %w", err)
	}
	return string(b), nil
}

// normalize round-trips details through JSON so that what is hashed is what a
// store reads back (integers become float64, nested maps become Details).
func normalize(details Details) (Details, error) {
	canonical, err := canonicalize(details)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(canonical), &out); err != nil {
		return nil, fmt.Errorf("normalize details: %w", err)
	}
	return Details(out), nil
}
