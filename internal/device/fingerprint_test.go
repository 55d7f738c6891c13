package device

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
)

type FingerprintSuite struct {
	suite.Suite
	fp *Fingerprinter
}

func (s *FingerprintSuite) SetupTest() {
	s.fp = NewFingerprinter(true)
}

func TestFingerprintSuite(t *testing.T) {
	suite.Run(t, new(FingerprintSuite))
}

func (s *FingerprintSuite) TestUserAgentParsing() {
	s.Run("empty user agent returns unknown device", func() {
		s.Equal("Unknown Device", ParseUserAgent(""))
	})

	s.Run("chrome on desktop includes browser and OS", func() {
		result := ParseUserAgent("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
		s.Contains(result, "Chrome")
		s.Contains(result, "on")
		s.NotContains(result, "  ")
	})

	s.Run("safari on iphone includes platform", func() {
		result := ParseUserAgent("Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1")
		s.Contains(result, "on")
		s.Contains(result, "iPhone")
	})

	s.Run("result has no leading or trailing whitespace", func() {
		result := ParseUserAgent("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36")
		s.Equal(result, strings.TrimSpace(result))
	})
}

func (s *FingerprintSuite) TestFingerprintStability() {
	s.Run("disabled fingerprinter returns empty fingerprint", func() {
		s.Empty(NewFingerprinter(false).ComputeFingerprint("Mozilla/5.0 (Windows NT 10.0) Chrome/120.0.0.0"))
	})

	s.Run("same user agent yields deterministic fingerprint", func() {
		ua := "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
		fp1 := s.fp.ComputeFingerprint(ua)
		s.Equal(fp1, s.fp.ComputeFingerprint(ua))
		s.Len(fp1, 64)
	})

	s.Run("minor version changes do not affect fingerprint", func() {
		ua1 := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.6099.109 Safari/537.36"
		ua2 := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.6099.224 Safari/537.36"
		s.Equal(s.fp.ComputeFingerprint(ua1), s.fp.ComputeFingerprint(ua2))
	})

	s.Run("major version changes affect fingerprint", func() {
		ua1 := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
		ua2 := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"
		s.NotEqual(s.fp.ComputeFingerprint(ua1), s.fp.ComputeFingerprint(ua2))
	})
}
