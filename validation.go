package main

import (
	"fmt"
	"regexp"
	"strings"
)

// Write statements blocked by --read-only. Patterns run against SQL with
// string literals and comments removed.
var dangerousKeywords = []struct {
	pattern string
	desc    string
}{
	{`(?i)(?:^|[^a-zA-Z_$])INSERT(?:[^a-zA-Z_$]|$)`, "INSERT"},
	{`(?i)(?:^|[^a-zA-Z_$])UPDATE(?:[^a-zA-Z_$]|$)`, "UPDATE"},
	{`(?i)(?:^|[^a-zA-Z_$])DELETE(?:[^a-zA-Z_$]|$)`, "DELETE"},
	{`(?i)(?:^|[^a-zA-Z_$])MERGE(?:[^a-zA-Z_$]|$)`, "MERGE"},
	{`(?i)(?:^|[^a-zA-Z_$])DROP(?:[^a-zA-Z_$]|$)`, "DROP"},
	{`(?i)(?:^|[^a-zA-Z_$])CREATE(?:[^a-zA-Z_$]|$)`, "CREATE"},
	{`(?i)(?:^|[^a-zA-Z_$])RECREATE(?:[^a-zA-Z_$]|$)`, "RECREATE"},
	{`(?i)(?:^|[^a-zA-Z_$])ALTER(?:[^a-zA-Z_$]|$)`, "ALTER"},
	{`(?i)(?:^|[^a-zA-Z_$])GRANT(?:[^a-zA-Z_$]|$)`, "GRANT"},
	{`(?i)(?:^|[^a-zA-Z_$])REVOKE(?:[^a-zA-Z_$]|$)`, "REVOKE"},
	{`(?i)(?:^|[^a-zA-Z_$])COMMIT(?:[^a-zA-Z_$]|$)`, "COMMIT"},
	{`(?i)(?:^|[^a-zA-Z_$])ROLLBACK(?:[^a-zA-Z_$]|$)`, "ROLLBACK"},
	{`(?i)(?:^|[^a-zA-Z_$])EXECUTE\s+(?:PROCEDURE|BLOCK|STATEMENT)(?:[^a-zA-Z_$]|$)`, "EXECUTE"},
	{`(?i)(?:^|[^a-zA-Z_$])SET\s+(?:GENERATOR|STATISTICS|TRANSACTION)(?:[^a-zA-Z_$]|$)`, "SET"},
	{`(?i)(?:^|[^a-zA-Z_$])GEN_ID\s*\(`, "GEN_ID()"},
	{`(?i)(?:^|[^a-zA-Z_$])NEXT\s+VALUE\s+FOR(?:[^a-zA-Z_$]|$)`, "NEXT VALUE FOR"},
}

var compiledKeywords = func() []*regexp.Regexp {
	res := make([]*regexp.Regexp, len(dangerousKeywords))
	for i, dk := range dangerousKeywords {
		res[i] = regexp.MustCompile(dk.pattern)
	}
	return res
}()

// validateReadOnlyQuery accepts a single SELECT or WITH statement that
// contains no write keywords.
func validateReadOnlyQuery(sqlQuery string) error {
	trimmed := strings.TrimSpace(sqlQuery)
	if trimmed == "" {
		return fmt.Errorf("empty query")
	}

	cleaned := strings.TrimSpace(removeStringsAndComments(trimmed))
	upper := strings.ToUpper(cleaned)

	allowedPrefixes := []string{"SELECT", "WITH"}
	hasAllowedPrefix := false
	for _, prefix := range allowedPrefixes {
		if strings.HasPrefix(upper, prefix) &&
			(len(upper) == len(prefix) || !isIdentChar(upper[len(prefix)])) {
			hasAllowedPrefix = true
			break
		}
	}
	if !hasAllowedPrefix {
		return fmt.Errorf("only SELECT and WITH queries are allowed")
	}

	if strings.Contains(cleaned, ";") {
		parts := strings.SplitN(cleaned, ";", 2)
		if len(parts) > 1 && strings.TrimSpace(parts[1]) != "" {
			return fmt.Errorf("multiple statements are not allowed")
		}
	}

	for i, re := range compiledKeywords {
		if re.MatchString(cleaned) {
			return fmt.Errorf("query contains forbidden keyword: %s", dangerousKeywords[i].desc)
		}
	}
	return nil
}

func isIdentChar(c byte) bool {
	return c == '_' || c == '$' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// removeStringsAndComments strips string literals and comments so keyword
// detection ignores them. Firebird flavour: '' escapes inside literals,
// Q'{...}' alternative literals, "quoted" identifiers are kept, no # comments.
func removeStringsAndComments(sql string) string {
	var result strings.Builder
	i := 0
	n := len(sql)

	for i < n {
		// -- comment
		if i+1 < n && sql[i] == '-' && sql[i+1] == '-' {
			for i < n && sql[i] != '\n' {
				i++
			}
			result.WriteByte(' ')
			continue
		}

		// /* */ comment
		if i+1 < n && sql[i] == '/' && sql[i+1] == '*' {
			i += 2
			for i+1 < n && !(sql[i] == '*' && sql[i+1] == '/') {
				i++
			}
			i += 2
			result.WriteByte(' ')
			continue
		}

		// Q'<delim>...<delim>' literal
		if (sql[i] == 'q' || sql[i] == 'Q') && i+2 < n && sql[i+1] == '\'' &&
			(i == 0 || !isIdentChar(sql[i-1])) {
			closing := closingDelimiter(sql[i+2])
			end := strings.Index(sql[i+3:], string(closing)+"'")
			if end >= 0 {
				i += 3 + end + 2
			} else {
				i = n
			}
			result.WriteString("''")
			continue
		}

		if sql[i] == '\'' {
			i++
			for i < n {
				if sql[i] == '\'' {
					if i+1 < n && sql[i+1] == '\'' {
						i += 2
						continue
					}
					i++
					break
				}
				i++
			}
			result.WriteString("''")
			continue
		}

		if sql[i] == '"' {
			result.WriteByte('"')
			i++
			for i < n {
				if sql[i] == '"' {
					if i+1 < n && sql[i+1] == '"' {
						result.WriteString(`""`)
						i += 2
						continue
					}
					result.WriteByte('"')
					i++
					break
				}
				result.WriteByte(sql[i])
				i++
			}
			continue
		}

		result.WriteByte(sql[i])
		i++
	}

	return result.String()
}

func closingDelimiter(open byte) byte {
	switch open {
	case '(':
		return ')'
	case '[':
		return ']'
	case '{':
		return '}'
	case '<':
		return '>'
	}
	return open
}
