package commandline

import "time"

// Exported test-only accessors for unexported fields.

// SetClockForTest replaces the cache clock.
func (cache *AvailabilityCache) SetClockForTest(now func() time.Time) {
	cache.now = now
}

// ExitCodeForTest exposes exitCode for tests in the external package.
func ExitCodeForTest(err error) int { return exitCode(err) }
