package sheets

import (
	"strconv"
	"strings"
)

// headerReplacer maps every punctuation character that is not valid in a
// table column name to an underscore.
var headerReplacer = strings.NewReplacer(
	"/", "_", " ", "_", ":", "_", ";", "_", "-", "_", "!", "_", "?", "_",
	`\`, "_", "(", "_", ")", "_", "$", "_", "^", "_", "&", "_", "*", "_",
	"+", "_", "#", "_", "%", "_", ".", "_", "'", "_", "`", "_", "~", "_",
	"=", "_",
)

// SanitizeHeader trims h and replaces reserved punctuation with "_".
// It is idempotent.
func SanitizeHeader(h string) string {
	return headerReplacer.Replace(strings.TrimSpace(h))
}

// ColumnNames sanitizes a header row into unique column identifiers.
//
// Empty headers become column_<n> (1-based). A name already taken gets the
// smallest free _2, _3, ... suffix; the first occurrence keeps the bare name.
func ColumnNames(header []string) []string {
	out := make([]string, len(header))
	taken := make(map[string]bool, len(header))
	for i, h := range header {
		name := SanitizeHeader(h)
		if name == "" {
			name = "column_" + strconv.Itoa(i+1)
		}
		if taken[name] {
			for n := 2; ; n++ {
				cand := name + "_" + strconv.Itoa(n)
				if !taken[cand] {
					name = cand
					break
				}
			}
		}
		taken[name] = true
		out[i] = name
	}
	return out
}
