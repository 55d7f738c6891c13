// Package privacy provides non-reversible representations of identifiers that
// must never reach logs or the audit ledger in raw form.
package privacy

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
)

// Truncate keeps the first n characters of a low-sensitivity value and marks
// the elision. Values no longer than n are fully masked. Secrets such as
// device tokens go through HashIdentifier instead.
func Truncate(value string, n int) string {
	if value == "" {
		return ""
	}
	runes := []rune(value)
	if len(runes) <= n {
		return "***"
	}
	return string(runes[:n]) + "..."
}

// HashIdentifier returns a short SHA-256 digest suitable for correlating log
// lines without storing the identifier.
func HashIdentifier(value string) string {
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:8])
}

// AnonymizeIP zeroes the host part of an address (/24 for IPv4, /48 for IPv6).
func AnonymizeIP(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	if v4 := parsed.To4(); v4 != nil {
		return v4.Mask(net.CIDRMask(24, 32)).String()
	}
	return parsed.Mask(net.CIDRMask(48, 128)).String()
}
