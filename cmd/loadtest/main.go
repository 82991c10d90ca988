// Command loadtest drives the search API with a fixed set of queries and
// reports throughput, latency percentiles and the cache hit ratio observed in
// the responses.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var defaultQueries = []string{
	"amsterdam",
	"venice",
	"amsterdam OR venice",
	"amsterdam AND noord",
	"amsterdam NOT noord",
	"city:rome",
	"inverted index",
	"segment merge",
	"posting list",
	"commit point",
}

type options struct {
	baseURL     string
	field       string
	limit       int
	concurrency int
	duration    time.Duration
	rps         float64
	queries     []string
}

func main() {
	opts := options{}
	flag.StringVar(&opts.baseURL, "url", "http://localhost:8080", "base URL of the searcher")
	flag.StringVar(&opts.field, "field", "", "default field sent with every query (empty = server default)")
	flag.IntVar(&opts.limit, "limit", 10, "hits requested per query")
	flag.IntVar(&opts.concurrency, "concurrency", 10, "number of concurrent workers")
	flag.DurationVar(&opts.duration, "duration", 30*time.Second, "test duration")
	flag.Float64Var(&opts.rps, "rps", 0, "aggregate request rate cap (0 = unlimited)")
	queryFile := flag.String("queries", "", "file with one query per line (default: built-in set)")
	flag.Parse()

	opts.queries = defaultQueries
	if *queryFile != "" {
		qs, err := readQueries(*queryFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		opts.queries = qs
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("target=%s concurrency=%d duration=%s rps=%g queries=%d\n",
		opts.baseURL, opts.concurrency, opts.duration, opts.rps, len(opts.queries))

	stats := run(ctx, opts)
	report := stats.Report(opts.duration)
	report.Print(os.Stdout)
	if report.Total == 0 {
		fmt.Fprintln(os.Stderr, "no requests completed; is the searcher running?")
		os.Exit(1)
	}
}

func readQueries(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening query file: %w", err)
	}
	defer f.Close()

	var qs []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" && !strings.HasPrefix(line, "#") {
			qs = append(qs, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading query file: %w", err)
	}
	if len(qs) == 0 {
		return nil, fmt.Errorf("query file %s has no queries", path)
	}
	return qs, nil
}

func run(ctx context.Context, opts options) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        opts.concurrency * 2,
			MaxIdleConnsPerHost: opts.concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	var limiter *rate.Limiter
	if opts.rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.rps), max(1, opts.concurrency))
	}

	ctx, cancel := context.WithTimeout(ctx, opts.duration)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for worker := range opts.concurrency {
		g.Go(func() error {
			for i := worker; ctx.Err() == nil; i++ {
				if limiter != nil && limiter.Wait(ctx) != nil {
					return nil
				}
				searchURL := buildURL(opts, opts.queries[i%len(opts.queries)])
				start := time.Now()
				status, cacheHit, err := doSearch(ctx, client, searchURL)
				if ctx.Err() != nil {
					return nil
				}
				stats.Record(time.Since(start), status, cacheHit, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return stats
}

func buildURL(opts options, q string) string {
	v := url.Values{}
	v.Set("q", q)
	v.Set("limit", fmt.Sprint(opts.limit))
	if opts.field != "" {
		v.Set("field", opts.field)
	}
	return strings.TrimRight(opts.baseURL, "/") + "/api/v1/search?" + v.Encode()
}

func doSearch(ctx context.Context, client *http.Client, searchURL string) (int, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return 0, false, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, false, err
	}
	defer resp.Body.Close()

	var body struct {
		CacheHit bool `json:"cache_hit"`
	}
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return resp.StatusCode, false, fmt.Errorf("decoding response: %w", err)
		}
	}
	return resp.StatusCode, body.CacheHit, nil
}
