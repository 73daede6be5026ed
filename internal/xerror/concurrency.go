package xerror

import "strings"

// concurrencyPatterns lists the dialect-specific substrings that indicate a
// database-reported concurrency violation (spec.md §9 "Optimistic locking
// across databases"). Matching is deliberately substring-based and
// case-insensitive since driver error text varies across versions.
var concurrencyPatterns = []string{
	"database is locked",                  // SQLite
	"sqlite_busy",                          // SQLite (mattn/go-sqlite3 code name)
	"could not serialize access",          // PostgreSQL serialization failure
	"deadlock detected",                    // PostgreSQL/MySQL deadlock
	"lock wait timeout exceeded",          // MySQL/MariaDB lock wait
	"try restarting transaction",          // MySQL/MariaDB deadlock hint
}

// IsConcurrencyViolation reports whether err looks like a dialect-specific
// concurrency conflict raised by the persistence layer, unifying SQLite,
// PostgreSQL and MySQL/MariaDB error text into a single predicate.
func IsConcurrencyViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range concurrencyPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// AsConcurrency wraps err as a KindConcurrency Error if it matches a known
// dialect pattern; otherwise it returns the error unchanged.
func AsConcurrency(err error) error {
	if err == nil {
		return nil
	}
	if IsConcurrencyViolation(err) {
		return Wrap(KindConcurrency, err)
	}
	return err
}
