package controlplane

import (
	"strings"
)

// sqlcmd emits decoration lines even with headers suppressed; these are
// stripped before any row parsing.
func isNoiseLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return true
	}
	if strings.Trim(trimmed, "- ") == "" {
		return true
	}
	if strings.Contains(trimmed, "rows affected") {
		return true
	}
	if strings.Contains(trimmed, "Changed database context") {
		return true
	}
	return false
}

// ParseRows converts raw sqlcmd output into rows of trimmed fields. When
// delimiter is empty each data line becomes a single-field row.
func ParseRows(output string, delimiter string) [][]string {
	var rows [][]string
	for _, line := range strings.Split(output, "\n") {
		if isNoiseLine(line) {
			continue
		}
		line = strings.TrimSpace(line)
		if delimiter == "" {
			rows = append(rows, []string{line})
			continue
		}
		fields := strings.Split(line, delimiter)
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		rows = append(rows, fields)
	}
	return rows
}

// ParseColumn returns the values of one column from delimited output,
// skipping rows too short to contain it.
func ParseColumn(output string, delimiter string, index int) []string {
	var values []string
	for _, row := range ParseRows(output, delimiter) {
		if index < len(row) && row[index] != "" {
			values = append(values, row[index])
		}
	}
	return values
}

// ParseScalar returns the first data field of the output, or "" when the
// output carries no data lines.
func ParseScalar(output string) string {
	for _, line := range strings.Split(output, "\n") {
		if isNoiseLine(line) {
			continue
		}
		return strings.TrimSpace(line)
	}
	return ""
}

// ParseBlock returns the data lines of the output joined back together, for
// free-text results like HEADERONLY dumps.
func ParseBlock(output string) string {
	var lines []string
	for _, line := range strings.Split(output, "\n") {
		if isNoiseLine(line) {
			continue
		}
		lines = append(lines, strings.TrimSpace(line))
	}
	return strings.Join(lines, "\n")
}
