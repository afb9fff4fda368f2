package sensitive

import "strings"

// Detection records how many spans of one pattern type were matched and
// masked, and the strategy applied to them.
type Detection struct {
	Type     PatternType
	Strategy Strategy
	Count    int
}

// DetectionSummary accompanies the masked text, letting a caller audit
// what kinds of sensitive data were found without retaining the original
// values.
type DetectionSummary struct {
	Detections []Detection
	TotalMasked int
}

// Mask scans text for credentials, personal data, and connection strings,
// replacing each match per its pattern's strategy. It is idempotent:
// masking already-masked text is a no-op, since the mask marker itself
// matches none of the detection patterns.
func Mask(text string) (string, DetectionSummary) {
	counts := make(map[PatternType]int)
	strategies := make(map[PatternType]Strategy)

	out := text
	for _, p := range patterns {
		strategies[p.typ] = p.strategy
		out = p.re.ReplaceAllStringFunc(out, func(match string) string {
			counts[p.typ]++
			return applyStrategy(p, match)
		})
	}

	summary := DetectionSummary{}
	for typ, n := range counts {
		summary.Detections = append(summary.Detections, Detection{Type: typ, Strategy: strategies[typ], Count: n})
		summary.TotalMasked += n
	}
	return out, summary
}

func applyStrategy(p pattern, match string) string {
	switch p.strategy {
	case StrategyFull:
		return maskFull(p, match)
	case StrategyPartial:
		return maskPartial(match)
	case StrategyDomainPreserving:
		return maskDomainPreserving(match)
	case StrategyLengthBased:
		return maskMarker
	default:
		return maskMarker
	}
}

// maskFull replaces the whole match, except for connection strings and
// key=value pairs where the first capture group (the key or the scheme) is
// kept for readability and everything after it is replaced, including the
// separator and, for a connection string, the user name.
func maskFull(p pattern, match string) string {
	sub := p.re.FindStringSubmatch(match)
	if len(sub) >= 3 {
		return sub[1] + maskMarker
	}
	return maskMarker
}

// maskPartial keeps the first and last two characters visible and masks
// everything between, matching the "first/last visible" strategy.
func maskPartial(match string) string {
	if len(match) <= 4 {
		return maskMarker
	}
	return match[:2] + strings.Repeat("*", len(match)-4) + match[len(match)-2:]
}

// maskDomainPreserving masks only the local part of an email address,
// keeping the domain visible.
func maskDomainPreserving(match string) string {
	at := strings.IndexByte(match, '@')
	if at < 0 {
		return maskMarker
	}
	local, domain := match[:at], match[at:]
	if len(local) <= 2 {
		return "**" + domain
	}
	return local[:1] + strings.Repeat("*", len(local)-1) + domain
}
