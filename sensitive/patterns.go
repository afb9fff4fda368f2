// Package sensitive detects and masks credentials, personal data, and
// connection strings in free-form text before it crosses a boundary
// (logs, error messages, user-facing output).
package sensitive

import "regexp"

// PatternType names the category a detected span belongs to.
type PatternType string

const (
	TypePassword       PatternType = "password"
	TypeAPIKey         PatternType = "api_key"
	TypeToken          PatternType = "token"
	TypeSecret         PatternType = "secret"
	TypeEmail          PatternType = "email"
	TypePhone          PatternType = "phone"
	TypeSSN            PatternType = "ssn"
	TypeCreditCard     PatternType = "credit_card"
	TypeConnectionString PatternType = "connection_string"
)

// Strategy names the masking approach applied to a matched span.
type Strategy string

const (
	StrategyFull            Strategy = "full"             // replace the whole match
	StrategyPartial         Strategy = "partial"           // keep first/last characters visible
	StrategyDomainPreserving Strategy = "domain_preserving" // email only: mask the local part
	StrategyLengthBased     Strategy = "length_based"       // replace with a fixed-width marker
)

// pattern pairs a compiled regex with its type and default strategy.
type pattern struct {
	typ      PatternType
	strategy Strategy
	re       *regexp.Regexp
}

var patterns = []pattern{
	{TypePassword, StrategyFull, regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[:=]\s*["']?([^"'\s,;&]+)`)},
	{TypeAPIKey, StrategyPartial, regexp.MustCompile(`(?i)(api[_-]?key)\s*[:=]\s*["']?([A-Za-z0-9_\-]{8,})`)},
	{TypeToken, StrategyPartial, regexp.MustCompile(`(?i)\b(token|bearer)\s*[:=]?\s*["']?([A-Za-z0-9_\-\.]{12,})`)},
	{TypeSecret, StrategyFull, regexp.MustCompile(`(?i)(secret)\s*[:=]\s*["']?([^"'\s,;&]+)`)},
	{TypeConnectionString, StrategyFull, regexp.MustCompile(`(?i)([a-z][a-z0-9+.\-]*://)[^:@\s]+:[^@\s]+@`)},
	{TypeEmail, StrategyDomainPreserving, regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)},
	{TypeCreditCard, StrategyPartial, regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`)},
	{TypeSSN, StrategyPartial, regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{TypePhone, StrategyPartial, regexp.MustCompile(`\b(?:\+?1[ -]?)?\(?\d{3}\)?[ -]?\d{3}[ -]?\d{4}\b`)},
}

// maskMarker is the literal substituted by StrategyFull and StrategyLengthBased.
const maskMarker = "***MASKED***"
