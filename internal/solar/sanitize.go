package solar

import (
	"strings"
	"sync/atomic"
)

// sanitize.go - categorical label cleanup for registry exports.
//
// MaStR exports occasionally carry stray quoting and escape characters in
// the name columns ("\"Bayern\"", "Landkreis\\ Kassel") and trailing
// whitespace from fixed-width tooling. Labels are the identity of the filter
// hierarchy, so two spellings of one state split every aggregate.
//
// Rules:
//   - Strip: double quotes ("), backslashes (\), ASCII control bytes
//   - Trim: leading and trailing whitespace
//   - Preserve: everything else, including umlauts, hyphens, single quotes

var (
	labelsSeen     atomic.Int64
	labelsModified atomic.Int64
)

// CleanLabel returns s with quoting, escape and control bytes removed and
// surrounding whitespace trimmed. Clean input is returned without
// allocation.
func CleanLabel(s string) string {
	labelsSeen.Add(1)

	if !needsCleaning(s) {
		return s
	}

	cleaned := strings.TrimSpace(stripBytes(s))
	if cleaned != s {
		labelsModified.Add(1)
	}
	return cleaned
}

func needsCleaning(s string) bool {
	if s == "" {
		return false
	}
	if isSpace(s[0]) || isSpace(s[len(s)-1]) {
		return true
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' || c == '\\' || c < 0x20 || c == 0x7f {
			return true
		}
	}
	return false
}

func stripBytes(s string) string {
	buf := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' || c == '\\' || c == 0x7f {
			continue
		}
		// Tabs and newlines inside a label become plain spaces.
		if c < 0x20 {
			if c == '\t' || c == '\n' || c == '\r' {
				buf = append(buf, ' ')
			}
			continue
		}
		buf = append(buf, c)
	}
	return string(buf)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// CleanRecord applies CleanLabel to every categorical column of r.
func CleanRecord(r *Record) {
	r.State = CleanLabel(r.State)
	r.AdministrativeRegion = CleanLabel(r.AdministrativeRegion)
	r.City = CleanLabel(r.City)
	r.MainOrientation = CleanLabel(r.MainOrientation)
	r.FeedInType = CleanLabel(r.FeedInType)
	r.Location = CleanLabel(r.Location)
}

// LabelStats returns (labels processed, labels modified).
func LabelStats() (total, modified int64) {
	return labelsSeen.Load(), labelsModified.Load()
}

// ResetLabelStats resets the label counters.
func ResetLabelStats() {
	labelsSeen.Store(0)
	labelsModified.Store(0)
}
