// Package history keeps a bounded full-resolution series of probe readings
// plus a set of decimation windows that roll older data up into coarser,
// bounded averages.
package history

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sweeney/burner-controller/internal/probe"
)

// WindowConfig describes one decimation window.
type WindowConfig struct {
	Name     string        `toml:"name"`
	Span     time.Duration `toml:"span"`
	Interval time.Duration `toml:"interval"`
}

// Capacity is the number of averaged points the window keeps.
func (w WindowConfig) Capacity() int {
	return int(math.Ceil(float64(w.Span) / float64(w.Interval)))
}

// Config sizes the store.
type Config struct {
	RawRetention time.Duration  `toml:"raw_retention"` // how much full-resolution data to keep
	PollPeriod   time.Duration  `toml:"poll_period"`   // expected spacing of full-resolution points
	RecentSpan   time.Duration  `toml:"recent_span"`   // full-resolution slice included in Query
	Windows      []WindowConfig `toml:"windows"`
}

// DefaultConfig keeps an hour of 1s data and four decimation windows.
func DefaultConfig() Config {
	return Config{
		RawRetention: time.Hour,
		PollPeriod:   time.Second,
		RecentSpan:   5 * time.Minute,
		Windows: []WindowConfig{
			{Name: "5min", Span: 5 * time.Minute, Interval: time.Second},
			{Name: "30min", Span: 30 * time.Minute, Interval: 3 * time.Second},
			{Name: "2hr", Span: 2 * time.Hour, Interval: 10 * time.Second},
			{Name: "8hr", Span: 8 * time.Hour, Interval: 40 * time.Second},
		},
	}
}

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("history: invalid config")

// Validate checks durations and window names.
func (c Config) Validate() error {
	if c.PollPeriod <= 0 || c.RawRetention < c.PollPeriod {
		return fmt.Errorf("%w: raw retention %v must cover poll period %v", ErrInvalidConfig, c.RawRetention, c.PollPeriod)
	}
	if c.RecentSpan < 0 {
		return fmt.Errorf("%w: negative recent span", ErrInvalidConfig)
	}
	seen := make(map[string]bool)
	for _, w := range c.Windows {
		if w.Name == "" || seen[w.Name] {
			return fmt.Errorf("%w: window name %q empty or duplicated", ErrInvalidConfig, w.Name)
		}
		seen[w.Name] = true
		if w.Interval <= 0 || w.Span < w.Interval {
			return fmt.Errorf("%w: window %s span %v interval %v", ErrInvalidConfig, w.Name, w.Span, w.Interval)
		}
		// Each flush averages raw points, so a whole interval must still be held.
		if w.Interval > c.RawRetention {
			return fmt.Errorf("%w: window %s interval %v exceeds raw retention %v", ErrInvalidConfig, w.Name, w.Interval, c.RawRetention)
		}
	}
	return nil
}

// Point is a timestamped pair of temperatures. Nil means no valid data.
type Point struct {
	Time       time.Time
	PrimaryC   *float64
	SecondaryC *float64
}

func pointFromReading(r probe.Reading) Point {
	return Point{Time: r.Time, PrimaryC: r.Primary.TempC, SecondaryC: r.Secondary.TempC}
}

type window struct {
	cfg       WindowConfig
	points    *ring[Point]
	lastFlush time.Time
}

// Store is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	raw     *ring[probe.Reading]
	windows []*window
	recent  time.Duration
}

// New creates a store. Decimation windows measure their first interval
// from start.
func New(cfg Config, start time.Time) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Store{
		raw:    newRing[probe.Reading](int(cfg.RawRetention / cfg.PollPeriod)),
		recent: cfg.RecentSpan,
	}
	for _, w := range cfg.Windows {
		s.windows = append(s.windows, &window{
			cfg:       w,
			points:    newRing[Point](w.Capacity()),
			lastFlush: start,
		})
	}
	return s, nil
}

// Record appends a reading and flushes every window whose interval has
// elapsed since its last flush.
func (s *Store) Record(r probe.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.raw.push(r)

	for _, w := range s.windows {
		if r.Time.Sub(w.lastFlush) < w.cfg.Interval {
			continue
		}
		p, ok := s.averageSince(w.lastFlush)
		if !ok {
			continue
		}
		w.points.push(p)
		w.lastFlush = r.Time
	}
}

// averageSince averages every raw point strictly newer than since.
// Caller must hold the lock.
func (s *Store) averageSince(since time.Time) (Point, bool) {
	var (
		base       time.Time
		offsets    time.Duration
		n          int
		pSum, sSum float64
		pN, sN     int
	)
	for i := s.raw.len() - 1; i >= 0; i-- {
		r := s.raw.at(i)
		if !r.Time.After(since) {
			break
		}
		if n == 0 {
			base = r.Time
		}
		offsets += r.Time.Sub(base)
		n++
		if t, ok := r.PrimaryTemp(); ok {
			pSum += t
			pN++
		}
		if t, ok := r.SecondaryTemp(); ok {
			sSum += t
			sN++
		}
	}
	if n == 0 {
		return Point{}, false
	}

	p := Point{Time: base.Add(offsets / time.Duration(n))}
	if pN > 0 {
		avg := pSum / float64(pN)
		p.PrimaryC = &avg
	}
	if sN > 0 {
		avg := sSum / float64(sN)
		p.SecondaryC = &avg
	}
	return p, true
}

// Latest returns the most recent full-resolution reading.
func (s *Store) Latest() (probe.Reading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.raw.last()
}

// Len returns the number of full-resolution readings held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.raw.len()
}

// Window returns the accumulated points of the named window, oldest first.
func (s *Store) Window(name string) ([]Point, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, w := range s.windows {
		if w.cfg.Name == name {
			return w.points.items(), true
		}
	}
	return nil, false
}

// Query merges the recent full-resolution slice with every window coarser
// than it, sorted by time. The recent slice is measured back from the newest
// reading. With maxPoints > 0 the result is resampled down to at most
// maxPoints entries.
func (s *Store) Query(maxPoints int) []Point {
	s.mu.RLock()
	var merged []Point
	if newest, ok := s.raw.last(); ok {
		cutoff := newest.Time.Add(-s.recent)
		for i := 0; i < s.raw.len(); i++ {
			r := s.raw.at(i)
			if r.Time.Before(cutoff) {
				continue
			}
			merged = append(merged, pointFromReading(r))
		}
	}
	for _, w := range s.windows {
		if w.cfg.Span <= s.recent {
			continue
		}
		merged = append(merged, w.points.items()...)
	}
	s.mu.RUnlock()

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Time.Before(merged[j].Time)
	})

	if maxPoints > 0 {
		return Resample(merged, maxPoints)
	}
	return merged
}

// Resample picks at most maxPoints points from a time-sorted series by selecting,
// for each of maxPoints evenly spaced target times across the series, the point
// nearest in time. Repeated picks are dropped and the final point is always
// kept. A series no longer than maxPoints is returned unchanged.
func Resample(points []Point, maxPoints int) []Point {
	if maxPoints <= 0 || len(points) <= maxPoints {
		return points
	}

	last := points[len(points)-1]
	if maxPoints == 1 {
		return []Point{last}
	}

	first := points[0].Time
	span := last.Time.Sub(first)
	if span <= 0 {
		return []Point{last}
	}

	out := make([]Point, 0, maxPoints)
	prev := -1
	for i := 0; i < maxPoints; i++ {
		target := first.Add(time.Duration(float64(span) * float64(i) / float64(maxPoints-1)))
		idx := nearest(points, target)
		if i == maxPoints-1 {
			idx = len(points) - 1
		}
		if idx == prev {
			continue
		}
		out = append(out, points[idx])
		prev = idx
	}
	return out
}

// nearest returns the index of the point closest in time to target.
// Ties go to the earlier point.
func nearest(points []Point, target time.Time) int {
	i := sort.Search(len(points), func(i int) bool {
		return !points[i].Time.Before(target)
	})
	if i == 0 {
		return 0
	}
	if i == len(points) {
		return len(points) - 1
	}
	if target.Sub(points[i-1].Time) <= points[i].Time.Sub(target) {
		return i - 1
	}
	return i
}
