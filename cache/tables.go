package cache

import (
	"regexp"
	"strings"
)

// tablePatterns matches table identifiers following FROM/JOIN/INTO/UPDATE/
// DELETE FROM/DROP TABLE/CREATE TABLE/ALTER TABLE.
var tablePatterns = []*regexp.Regexp{
	mustTablePattern(`(?i)\bfrom\s+` + identifierPattern),
	mustTablePattern(`(?i)\bjoin\s+` + identifierPattern),
	mustTablePattern(`(?i)\binto\s+` + identifierPattern),
	mustTablePattern(`(?i)\bupdate\s+` + identifierPattern),
	mustTablePattern(`(?i)\bdelete\s+from\s+` + identifierPattern),
	mustTablePattern(`(?i)\bdrop\s+table\s+(?:if\s+exists\s+)?` + identifierPattern),
	mustTablePattern(`(?i)\bcreate\s+table\s+(?:if\s+not\s+exists\s+)?` + identifierPattern),
	mustTablePattern(`(?i)\balter\s+table\s+` + identifierPattern),
}

// identifierPattern accepts backtick-quoted, double-quoted, and bare
// identifiers, optionally schema-qualified; only the final component is
// captured for qualified names.
const identifierPattern = "(`[^`]+`|\"[^\"]+\"|[A-Za-z_][A-Za-z0-9_$]*)(?:\\.(`[^`]+`|\"[^\"]+\"|[A-Za-z_][A-Za-z0-9_$]*))?"

func mustTablePattern(pattern string) *regexp.Regexp {
	return regexp.MustCompile(pattern)
}

// ExtractTables returns the lower-cased, deduplicated set of table
// identifiers referenced by sql. Extraction is best-effort: a miss only
// reduces invalidation precision, never correctness.
func ExtractTables(sql string) []string {
	seen := make(map[string]struct{})
	var out []string

	for _, re := range tablePatterns {
		for _, match := range re.FindAllStringSubmatch(sql, -1) {
			name := match[1]
			if len(match) > 2 && match[2] != "" {
				name = match[2] // qualified name: keep only the final identifier
			}
			name = strings.ToLower(unquoteIdentifier(name))
			if name == "" {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}

func unquoteIdentifier(id string) string {
	if len(id) >= 2 {
		if (id[0] == '`' && id[len(id)-1] == '`') || (id[0] == '"' && id[len(id)-1] == '"') {
			return id[1 : len(id)-1]
		}
	}
	return id
}
