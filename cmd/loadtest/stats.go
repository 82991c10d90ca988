package main

import (
	"fmt"
	"io"
	"maps"
	"math"
	"slices"
	"sync"
	"time"
)

// Stats accumulates per-request outcomes from concurrent workers.
type Stats struct {
	mu        sync.Mutex
	total     int64
	errors    int64
	cacheHits int64
	latencies []time.Duration
	status    map[int]int64
}

func NewStats() *Stats {
	return &Stats{
		latencies: make([]time.Duration, 0, 1<<16),
		status:    make(map[int]int64),
	}
}

// Record adds one request. Transport errors count as errors with no status.
func (s *Stats) Record(d time.Duration, status int, cacheHit bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	if err != nil {
		s.errors++
		return
	}
	if status < 200 || status >= 300 {
		s.errors++
	}
	if cacheHit {
		s.cacheHits++
	}
	s.latencies = append(s.latencies, d)
	s.status[status]++
}

// Report is a summary of a finished run.
type Report struct {
	Total       int64
	Errors      int64
	CacheHits   int64
	RPS         float64
	Min, Max    time.Duration
	Mean        time.Duration
	StdDev      time.Duration
	Percentiles map[int]time.Duration
	StatusCodes map[int]int64
}

func (s *Stats) Report(elapsed time.Duration) Report {
	s.mu.Lock()
	lat := slices.Clone(s.latencies)
	r := Report{
		Total:       s.total,
		Errors:      s.errors,
		CacheHits:   s.cacheHits,
		Percentiles: make(map[int]time.Duration),
		StatusCodes: maps.Clone(s.status),
	}
	s.mu.Unlock()

	if elapsed > 0 {
		r.RPS = float64(r.Total) / elapsed.Seconds()
	}
	if len(lat) == 0 {
		return r
	}
	slices.Sort(lat)
	r.Min, r.Max = lat[0], lat[len(lat)-1]

	var sum time.Duration
	for _, l := range lat {
		sum += l
	}
	r.Mean = sum / time.Duration(len(lat))
	var sq float64
	for _, l := range lat {
		diff := float64(l - r.Mean)
		sq += diff * diff
	}
	r.StdDev = time.Duration(math.Sqrt(sq / float64(len(lat))))

	for _, p := range []int{50, 90, 95, 99} {
		r.Percentiles[p] = percentile(lat, float64(p))
	}
	return r
}

func (r Report) Print(w io.Writer) {
	fmt.Fprintf(w, "requests: %d  errors: %d  rps: %.1f\n", r.Total, r.Errors, r.RPS)
	if ok := r.Total - r.Errors; ok > 0 {
		fmt.Fprintf(w, "cache hit ratio: %.1f%%\n", float64(r.CacheHits)/float64(ok)*100)
	}
	if r.Max > 0 {
		fmt.Fprintf(w, "latency min=%s mean=%s stddev=%s max=%s\n", r.Min, r.Mean, r.StdDev, r.Max)
		for _, p := range slices.Sorted(maps.Keys(r.Percentiles)) {
			fmt.Fprintf(w, "  p%d=%s\n", p, r.Percentiles[p])
		}
	}
	for _, code := range slices.Sorted(maps.Keys(r.StatusCodes)) {
		fmt.Fprintf(w, "status %d: %d\n", code, r.StatusCodes[code])
	}
}

// percentile uses the nearest-rank method on an ascending slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[min(max(idx, 0), len(sorted)-1)]
}
