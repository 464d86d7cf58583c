// Package memory builds the bounded, time-boxed conversation window each
// request reads, on top of the context store adapter.
package memory

import (
	"time"

	"github.com/vetralabs/vetra/internal/contextstore"
)

// Window applies the eviction policy to raw stored turns: turns older than
// ttl are dropped, then the result is bounded to the most recent maxEntries.
// The policy is store-agnostic so it can be tested without a real backend.
func Window(turns []contextstore.Turn, now time.Time, ttl time.Duration, maxEntries int) []contextstore.Turn {
	if len(turns) == 0 {
		return nil
	}

	cutoff := now.Add(-ttl)
	fresh := make([]contextstore.Turn, 0, len(turns))
	for _, t := range turns {
		if ttl > 0 && t.CreatedAt.Before(cutoff) {
			continue
		}
		fresh = append(fresh, t)
	}

	if maxEntries > 0 && len(fresh) > maxEntries {
		fresh = fresh[len(fresh)-maxEntries:]
	}
	if len(fresh) == 0 {
		return nil
	}
	return fresh
}
