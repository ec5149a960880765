package dblib

import (
	"fmt"
	"regexp"
	"strings"
)

// Patterns rejected in free-text statements. This is a heuristic second line
// of defence for ad-hoc query entry; generated SQL relies on literal escaping.
var unsafePatterns = []struct {
	re     *regexp.Regexp
	reason string
}{
	{regexp.MustCompile(`(?i);\s*DROP\b`), "statement separator followed by DROP"},
	{regexp.MustCompile(`(?i);\s*TRUNCATE\b`), "statement separator followed by TRUNCATE"},
	{regexp.MustCompile(`(?i);\s*ALTER\b`), "statement separator followed by ALTER"},
	{regexp.MustCompile(`(?i);\s*DELETE\s+FROM\s+[^\s;]+\s*(;|$)`), "statement separator followed by unqualified DELETE"},
	{regexp.MustCompile(`--`), "line comment"},
	{regexp.MustCompile(`/\*`), "block comment"},
}

// ValidateSQL rejects statements matching the injection denylist.
func ValidateSQL(sqlStr string) error {
	for _, p := range unsafePatterns {
		if p.re.MatchString(sqlStr) {
			return fmt.Errorf("%w: %s", ErrUnsafeSQL, p.reason)
		}
	}
	return nil
}

// CleanSQL trims whitespace and a single trailing semicolon from a statement
// typed by the user and rejects transaction control, which the executor owns.
func CleanSQL(sqlStr string) (string, error) {
	sqlStr = strings.TrimSpace(sqlStr)
	sqlStr = strings.TrimSpace(strings.TrimSuffix(sqlStr, ";"))
	if sqlStr == "" {
		return "", fmt.Errorf("empty statement")
	}
	upper := strings.Join(strings.Fields(strings.ToUpper(sqlStr)), " ")
	for _, prefix := range []string{"BEGIN", "START TRANSACTION", "COMMIT", "ROLLBACK"} {
		if strings.HasPrefix(upper, prefix) {
			return "", fmt.Errorf("transaction statements are not supported")
		}
	}
	if err := ValidateSQL(sqlStr); err != nil {
		return "", err
	}
	return sqlStr, nil
}
