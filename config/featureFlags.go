package config

import (
	"os"
	"strings"
	"time"
)

// SerialLockWaitTimeout bounds how long a serial transaction waits on a row lock
// held by another transaction before failing.
//
// Set via env:
// - SERIAL_LOCK_WAIT_SECONDS=5
func SerialLockWaitTimeout() time.Duration {
	secs := intFromEnv("SERIAL_LOCK_WAIT_SECONDS", 5)
	if secs <= 0 {
		secs = 5
	}
	return time.Duration(secs) * time.Second
}

// SerialCacheLifespan is the TTL of cached available-serial lists. Zero disables caching.
//
// Set via env:
// - SERIAL_CACHE_SECONDS=60
func SerialCacheLifespan() time.Duration {
	secs := intFromEnv("SERIAL_CACHE_SECONDS", 60)
	if secs < 0 {
		secs = 0
	}
	return time.Duration(secs) * time.Second
}

// SerialDocumentLockEnabled turns on the best-effort Redis lock taken per document
// around every serial engine call.
//
// Set via env:
// - SERIAL_DOCUMENT_LOCK=true
func SerialDocumentLockEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("SERIAL_DOCUMENT_LOCK")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// SerialMaxPerReceipt caps how many serials one receipt (or receipt line) may generate.
//
// Set via env:
// - SERIAL_MAX_PER_RECEIPT=10000
func SerialMaxPerReceipt() int {
	n := intFromEnv("SERIAL_MAX_PER_RECEIPT", 10000)
	if n <= 0 {
		n = 10000
	}
	return n
}
