package device

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/mssola/useragent"
)

// Fingerprinter derives the secondary device fingerprint from a User-Agent when
// the client does not send one of its own.
type Fingerprinter struct {
	enabled bool
}

func NewFingerprinter(enabled bool) *Fingerprinter {
	return &Fingerprinter{enabled: enabled}
}

// ComputeFingerprint hashes browser name, browser major version, OS and
// platform. Minor version bumps keep the fingerprint stable.
func (f *Fingerprinter) ComputeFingerprint(userAgent string) string {
	if f == nil || !f.enabled || strings.TrimSpace(userAgent) == "" {
		return ""
	}
	ua := useragent.New(userAgent)
	name, version := ua.Browser()
	major, _, _ := strings.Cut(version, ".")
	parts := []string{name, major, ua.OS(), ua.Platform()}
	if ua.Mobile() {
		parts = append(parts, "mobile")
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// ParseUserAgent returns a display name such as "Chrome on Mac OS X".
func ParseUserAgent(userAgent string) string {
	if strings.TrimSpace(userAgent) == "" {
		return "Unknown Device"
	}
	ua := useragent.New(userAgent)
	name, _ := ua.Browser()
	osName := ua.OS()
	if osName == "" {
		osName = ua.Platform()
	}
	if name == "" {
		name = "Unknown Browser"
	}
	if osName == "" {
		osName = "Unknown OS"
	}
	return strings.TrimSpace(name + " on " + osName)
}
