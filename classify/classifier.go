package classify

import (
	"strings"
	"time"
)

// ErrorRecord is the structured result of classifying a raw error.
type ErrorRecord struct {
	Message       string
	Category      Category
	Severity      Severity
	Context       map[string]any
	OriginalCause error
	Recoverable   bool
	Retryable     bool
	Timestamp     time.Time
}

// rule pairs a lower-cased diagnostic substring with the category and
// severity it implies. Rules are tried in order; the first match wins, so
// more specific substrings are listed ahead of general ones.
type rule struct {
	substr   string
	category Category
	severity Severity
}

var rules = []rule{
	{"connection refused", CategoryConnectionRefused, SeverityHigh},
	{"connection reset", CategoryConnectionReset, SeverityMedium},
	{"i/o timeout", CategoryConnectionTimeout, SeverityMedium},
	{"context deadline exceeded", CategoryConnectionTimeout, SeverityMedium},
	{"too many connections", CategoryTooManyConnections, SeverityHigh},
	{"no route to host", CategoryNetworkUnreachable, SeverityHigh},
	{"network is unreachable", CategoryNetworkUnreachable, SeverityHigh},
	{"no such host", CategoryDNSResolution, SeverityHigh},
	{"tls", CategorySSLHandshake, SeverityHigh},
	{"ssl", CategorySSLHandshake, SeverityHigh},
	{"broken pipe", CategoryBrokenPipe, SeverityMedium},

	{"access denied", CategoryAccessDenied, SeverityHigh},
	{"authentication failed", CategoryAuthFailed, SeverityHigh},
	{"command denied", CategoryPrivilegeDenied, SeverityHigh},
	{"password has expired", CategoryPasswordExpired, SeverityMedium},

	{"you have an error in your sql syntax", CategorySyntaxError, SeverityLow},
	{"syntax error", CategorySyntaxError, SeverityLow},
	{"unknown database", CategoryUnknownDatabase, SeverityMedium},
	{"doesn't exist", CategoryUnknownTable, SeverityLow},
	{"unknown column", CategoryUnknownColumn, SeverityLow},
	{"already exists", CategoryTableExists, SeverityLow},
	{"ambiguous", CategoryAmbiguousColumn, SeverityLow},

	{"duplicate entry", CategoryDuplicateEntry, SeverityLow},
	{"foreign key constraint", CategoryForeignKeyViolation, SeverityMedium},
	{"check constraint", CategoryCheckViolation, SeverityMedium},
	{"data too long", CategoryDataTooLong, SeverityLow},
	{"cannot be null", CategoryNullConstraint, SeverityLow},
	{"out of range", CategoryOutOfRange, SeverityLow},

	{"deadlock found", CategoryDeadlock, SeverityMedium},
	{"lock wait timeout", CategoryLockWaitTimeout, SeverityMedium},
	{"lock table is full", CategoryLockTableFull, SeverityHigh},

	{"no space left on device", CategoryDiskFull, SeverityCritical},
	{"disk full", CategoryDiskFull, SeverityCritical},
	{"out of memory", CategoryOutOfMemory, SeverityCritical},
	{"too many open files", CategoryTooManyOpenFiles, SeverityHigh},
	{"quota exceeded", CategoryQuotaExceeded, SeverityHigh},
	{"max_allowed_packet", CategoryMaxPacketExceeded, SeverityMedium},

	{"replication", CategoryReplicationBroken, SeverityHigh},
	{"seconds_behind_master", CategoryReplicationLag, SeverityMedium},
	{"binlog", CategoryBinlogError, SeverityHigh},

	{"transaction rollback", CategoryTransactionRollback, SeverityMedium},
	{"transaction has been aborted", CategoryTransactionAborted, SeverityMedium},
	{"xa_", CategoryXAError, SeverityHigh},

	{"task cancelled", CategoryTaskCancelled, SeverityInfo},
	{"task timed out", CategoryTaskTimeout, SeverityMedium},
	{"validation failed", CategoryValidationFailed, SeverityLow},
	{"rate limit", CategoryRateLimited, SeverityMedium},
	{"invalid configuration", CategoryConfigInvalid, SeverityHigh},
	{"not implemented", CategoryNotImplemented, SeverityLow},
}

// recoverableCategories are transient conditions worth a caller treating as
// non-fatal: the same operation might succeed on its own a moment later.
var recoverableCategories = map[Category]bool{
	CategoryConnectionRefused:  true,
	CategoryConnectionReset:    true,
	CategoryConnectionTimeout:  true,
	CategoryTooManyConnections: true,
	CategoryNetworkUnreachable: true,
	CategoryBrokenPipe:         true,
	CategoryDeadlock:           true,
	CategoryLockWaitTimeout:    true,
	CategoryLockTableFull:      true,
	CategoryDiskFull:           true,
	CategoryOutOfMemory:        true,
	CategoryTooManyOpenFiles:   true,
	CategoryQuotaExceeded:      true,
	CategoryRateLimited:        true,
	CategoryReplicationLag:     true,
}

// retryableCategories are the subset of recoverable categories for which a
// mechanical retry (same operation, same params) is actually sensible.
// Resource exhaustion at the host level (disk, memory, fd table) is
// recoverable in principle but not something a retry loop fixes, so it is
// excluded here.
var retryableCategories = map[Category]bool{
	CategoryConnectionRefused:  true,
	CategoryConnectionReset:    true,
	CategoryConnectionTimeout:  true,
	CategoryTooManyConnections: true,
	CategoryNetworkUnreachable: true,
	CategoryBrokenPipe:         true,
	CategoryDeadlock:           true,
	CategoryLockWaitTimeout:    true,
	CategoryRateLimited:        true,
}

// Classify inspects raw's message for known diagnostic substrings and
// assigns a category, severity, and the recoverable/retryable flags. An
// unmatched error classifies as Unknown/Medium, recoverable false.
func Classify(raw error, context map[string]any) ErrorRecord {
	rec := ErrorRecord{
		Context:       context,
		OriginalCause: raw,
		Timestamp:     time.Now(),
		Category:      CategoryUnknown,
		Severity:      SeverityMedium,
	}
	if raw == nil {
		rec.Category = CategoryUnknown
		rec.Severity = SeverityInfo
		return rec
	}

	rec.Message = raw.Error()
	lower := strings.ToLower(rec.Message)

	for _, r := range rules {
		if strings.Contains(lower, r.substr) {
			rec.Category = r.category
			rec.Severity = r.severity
			break
		}
	}

	rec.Recoverable = recoverableCategories[rec.Category]
	rec.Retryable = retryableCategories[rec.Category]
	return rec
}
