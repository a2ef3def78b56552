// Package pebble implements history.Store on top of an embedded Pebble
// key-value store: the request and state-transition streams each live
// under their own key prefix in one database.
package pebble

import (
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/Mubelotix/nginx-hibernator/internal/history"

	pebblepkg "github.com/cockroachdb/pebble"
)

// Store implements history.Store.
type Store struct {
	db      *pebblepkg.DB
	nextReq atomic.Uint64
	nextSt  atomic.Uint64
}

var _ history.Store = (*Store)(nil)

// Open opens (or creates) a Pebble database rooted at dir and seeds the two
// monotonic id counters from the highest id already present in each stream.
func Open(dir string) (*Store, error) {
	dir = filepath.Clean(dir)
	db, err := pebblepkg.Open(dir, &pebblepkg.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	s := &Store{db: db}
	if err := s.seedCounters(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) seedCounters() error {
	reqLower, reqUpper := reqPrefixBounds()
	if last, ok, err := lastKeyID(s.db, reqLower, reqUpper); err != nil {
		return err
	} else if ok {
		s.nextReq.Store(last)
	}
	stLower, stUpper := statePrefixBounds()
	if last, ok, err := lastKeyID(s.db, stLower, stUpper); err != nil {
		return err
	} else if ok {
		s.nextSt.Store(last)
	}
	return nil
}

func lastKeyID(db *pebblepkg.DB, lower, upper []byte) (uint64, bool, error) {
	iter, err := db.NewIter(&pebblepkg.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return 0, false, err
	}
	defer iter.Close()
	if !iter.Last() {
		return 0, false, nil
	}
	key := iter.Key()
	id := decodeID(key[len(key)-8:])
	return id, true, iter.Error()
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AppendRequest implements history.Store.
func (s *Store) AppendRequest(rec history.RequestRecord) (uint64, error) {
	id := s.nextReq.Add(1)
	val, err := marshalRequest(id, rec)
	if err != nil {
		return 0, err
	}
	if err := s.db.Set(reqKey(id), val, pebblepkg.Sync); err != nil {
		return 0, fmt.Errorf("pebble set request: %w", err)
	}
	return id, nil
}

// AppendState implements history.Store.
func (s *Store) AppendState(rec history.StateRecord) (uint64, error) {
	id := s.nextSt.Add(1)
	val, err := marshalState(rec)
	if err != nil {
		return 0, err
	}
	if err := s.db.Set(stateKey(id), val, pebblepkg.Sync); err != nil {
		return 0, fmt.Errorf("pebble set state: %w", err)
	}
	return id, nil
}

// defaultLimit bounds the public-facing StateHistoryRange/HistoryRange page
// size. It has nothing to do with how many records an internal analytics
// scan (like Metrics) is allowed to read — see metricsScanLimit.
const defaultLimit = 50

// metricsScanLimit bounds Metrics' internal state-history scan. It must be
// large enough to cover every transition a flapping or long-lived site can
// produce inside a queried window, not the dashboard's page size.
const metricsScanLimit = 1 << 20

// HistoryRange implements history.Store: newest-first, limit <= 50.
func (s *Store) HistoryRange(q history.RangeQuery) ([]history.RequestRecord, error) {
	limit := q.Limit
	if limit <= 0 || limit > defaultLimit {
		limit = defaultLimit
	}
	lower, upper := reqPrefixBounds()
	iter, err := s.db.NewIter(&pebblepkg.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("pebble iter requests: %w", err)
	}
	defer iter.Close()

	out := make([]history.RequestRecord, 0, limit)
	for ok := iter.Last(); ok && len(out) < limit; ok = iter.Prev() {
		id := decodeID(iter.Key()[len(reqPrefix):])
		rec, err := unmarshalRequest(id, iter.Value())
		if err != nil {
			continue
		}
		if !inRange(rec.At, q.Before, q.After) {
			continue
		}
		out = append(out, rec)
	}
	return out, iter.Error()
}

// StateHistoryRange implements history.Store: newest-first, optionally
// filtered to one site, limit <= 50.
func (s *Store) StateHistoryRange(site string, q history.RangeQuery) ([]history.StateRecord, error) {
	limit := q.Limit
	if limit <= 0 || limit > defaultLimit {
		limit = defaultLimit
	}
	return s.scanState(site, q, limit)
}

// scanState is the unbounded-by-default state-history scan shared by
// StateHistoryRange (clamped to defaultLimit for dashboard pagination) and
// Metrics (which needs every transition in the window, not a 50-row page).
func (s *Store) scanState(site string, q history.RangeQuery, limit int) ([]history.StateRecord, error) {
	lower, upper := statePrefixBounds()
	iter, err := s.db.NewIter(&pebblepkg.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("pebble iter state: %w", err)
	}
	defer iter.Close()

	out := make([]history.StateRecord, 0, limit)
	for ok := iter.Last(); ok && len(out) < limit; ok = iter.Prev() {
		id := decodeID(iter.Key()[len(statePrefix):])
		rec, err := unmarshalState(id, iter.Value())
		if err != nil {
			continue
		}
		if site != "" && rec.Site != site {
			continue
		}
		if !inRange(rec.At, q.Before, q.After) {
			continue
		}
		out = append(out, rec)
	}
	return out, iter.Error()
}

func inRange(at, before, after time.Time) bool {
	if !before.IsZero() && !at.Before(before) {
		return false
	}
	if !after.IsZero() && !at.After(after) {
		return false
	}
	return true
}

// lastStateBefore finds the most recent state-transition record for site
// strictly before cutoff, used by Metrics to know what state a site was
// already in when the queried window opened.
func (s *Store) lastStateBefore(site string, cutoff time.Time) (history.StateRecord, bool, error) {
	recs, err := s.scanState(site, history.RangeQuery{Before: cutoff}, 1)
	if err != nil {
		return history.StateRecord{}, false, err
	}
	if len(recs) == 0 {
		return history.StateRecord{}, false, nil
	}
	return recs[0], true, nil
}

// Metrics implements history.Store by scanning the trailing windowSecs of
// state history for site and folding it into uptime/histogram stats. The
// histogram is derived from consecutive Starting→Up pairs found within the
// window; a completed start's duration is the gap between those two
// records. A site with no transitions inside the window is seeded with
// whatever state it was last in before the window opened, so a site that
// has simply stayed up the whole time isn't reported at 0% uptime.
func (s *Store) Metrics(site string, windowSecs int64, eta func() (time.Duration, bool), totalHibernations int64) (history.Metrics, error) {
	var m history.Metrics
	m.TotalHibernations = totalHibernations
	if eta != nil {
		if d, ok := eta(); ok {
			dd := d
			m.StartDurationEstimate = &dd
		}
	}

	cutoff := time.Now().Add(-time.Duration(windowSecs) * time.Second)
	seedState := ""
	if seed, ok, err := s.lastStateBefore(site, cutoff); err != nil {
		return m, err
	} else if ok {
		seedState = seed.State
	}

	recs, err := s.scanState(site, history.RangeQuery{After: cutoff}, metricsScanLimit)
	if err != nil {
		return m, err
	}
	// recs is newest-first; build an oldest-first slice for sequential pairing.
	oldestFirst := make([]history.StateRecord, len(recs))
	for i, r := range recs {
		oldestFirst[len(recs)-1-i] = r
	}

	var upDuration, totalDuration time.Duration
	var lastUpAt time.Time
	var startingAt time.Time
	haveStartingAt := false
	prevState := seedState
	prevAt := cutoff
	now := time.Now()

	if prevState == "up" {
		lastUpAt = cutoff
	}

	for _, r := range oldestFirst {
		switch r.State {
		case "starting":
			startingAt = r.At
			haveStartingAt = true
		case "up":
			if haveStartingAt {
				d := r.At.Sub(startingAt)
				m.StartTimesHistogram[history.BucketFor(d)]++
				haveStartingAt = false
			}
			lastUpAt = r.At
		case "down":
			if prevState == "up" && !lastUpAt.IsZero() {
				upDuration += r.At.Sub(lastUpAt)
			}
		}
		if prevAt.Before(r.At) {
			totalDuration += r.At.Sub(prevAt)
		}
		prevAt = r.At
		prevState = r.State
	}
	if prevState == "up" && !lastUpAt.IsZero() {
		upDuration += now.Sub(lastUpAt)
	}
	totalDuration += now.Sub(prevAt)

	if totalDuration > 0 {
		m.UptimePercentage = 100 * float64(upDuration) / float64(totalDuration)
	}
	return m, nil
}
