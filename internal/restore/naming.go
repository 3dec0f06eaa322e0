package restore

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
)

// maxNameLen is the SQL Server identifier limit.
const maxNameLen = 128

// DefaultDatabaseName is used when sanitization leaves nothing usable.
const DefaultDatabaseName = "UnknownDB"

var (
	invalidNameChars = regexp.MustCompile(`[^A-Za-z0-9_]+`)
	underscoreRuns   = regexp.MustCompile(`_+`)
)

// skipTokens are words carrying no identity when shortening a long name.
var skipTokens = map[string]bool{
	"backup":  true,
	"restore": true,
	"temp":    true,
}

// SanitizeDatabaseName turns an arbitrary candidate into a valid SQL Server
// database identifier. The result is deterministic and idempotent: feeding
// a sanitized name back in returns it unchanged.
func SanitizeDatabaseName(raw string) string {
	name := invalidNameChars.ReplaceAllString(raw, "_")
	name = underscoreRuns.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")

	if name == "" {
		return DefaultDatabaseName
	}
	if len(name) <= maxNameLen {
		return name
	}
	return shortenName(name)
}

// shortenName keeps up to three meaningful tokens plus up to two date-like
// tokens, then falls back to a hash-suffixed truncation if the name is still
// over the limit. The hash keeps distinct inputs distinct.
func shortenName(name string) string {
	var meaningful, dates []string
	for _, tok := range strings.Split(name, "_") {
		if tok == "" {
			continue
		}
		if isDateToken(tok) {
			if len(dates) < 2 {
				dates = append(dates, tok)
			}
			continue
		}
		if skipTokens[strings.ToLower(tok)] {
			continue
		}
		if len(meaningful) < 3 {
			meaningful = append(meaningful, tok)
		}
	}

	short := strings.Join(append(meaningful, dates...), "_")
	if short == "" {
		short = DefaultDatabaseName
	}
	if len(short) <= maxNameLen {
		return short
	}

	h := fnv.New32a()
	h.Write([]byte(name))
	suffix := fmt.Sprintf("_%08x", h.Sum32())
	return short[:maxNameLen-len(suffix)] + suffix
}

// isDateToken recognizes numeric tokens that look like date components:
// 8-digit stamps, 6-digit stamps, 4-digit years, and 2-digit fragments.
func isDateToken(tok string) bool {
	for _, r := range tok {
		if r < '0' || r > '9' {
			return false
		}
	}
	switch len(tok) {
	case 8, 6, 2:
		return true
	case 4:
		return strings.HasPrefix(tok, "19") || strings.HasPrefix(tok, "20")
	}
	return false
}

// DatabaseNameFromLogical derives a database name from a logical data file
// name by dropping the conventional _Data/_Log suffixes.
func DatabaseNameFromLogical(logical string) string {
	for _, suffix := range []string{"_Data", "_data", "_Log", "_log"} {
		if strings.HasSuffix(logical, suffix) {
			return strings.TrimSuffix(logical, suffix)
		}
	}
	return logical
}
