package feed

import (
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// snapshotTTL matches the upstream refresh cadence; re-fetching sooner only
// returns identical data.
const snapshotTTL = 20 * time.Second

// snapshotCache is a thread-safe TTL cache for the full product snapshot.
// A singleflight.Group prevents duplicate in-flight fetches when several
// callers ask for the snapshot at once.
type snapshotCache struct {
	mu        sync.RWMutex
	snap      *Snapshot
	fetchedAt time.Time
	group     singleflight.Group
}

func (sc *snapshotCache) get(fetch func() (*Snapshot, error)) (*Snapshot, error) {
	sc.mu.RLock()
	if sc.snap != nil && time.Since(sc.fetchedAt) < snapshotTTL {
		defer sc.mu.RUnlock()
		return sc.snap, nil
	}
	sc.mu.RUnlock()

	result, err, shared := sc.group.Do("snapshot", func() (interface{}, error) {
		// Double check: another caller may have refreshed while we waited.
		sc.mu.RLock()
		if sc.snap != nil && time.Since(sc.fetchedAt) < snapshotTTL {
			defer sc.mu.RUnlock()
			return sc.snap, nil
		}
		sc.mu.RUnlock()

		snap, err := fetch()
		if err != nil {
			return nil, err
		}
		sc.mu.Lock()
		sc.snap = snap
		sc.fetchedAt = time.Now()
		sc.mu.Unlock()
		log.Printf("[FEED] snapshot refreshed (%d products)", len(snap.Products))
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	_ = shared
	return result.(*Snapshot), nil
}
