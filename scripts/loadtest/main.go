// Loadtest fires concurrent requests at one tlsforward route and reports
// throughput, status codes and latency percentiles.
//
// Usage:
//
//	go run ./scripts/loadtest --url http://127.0.0.1:8080/ --concurrency 10 --requests 1000
//	go run ./scripts/loadtest --url http://127.0.0.1:8080/ --out summary.json
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/pflag"
)

type summary struct {
	Target        string         `json:"target"`
	Requests      int            `json:"requests"`
	Concurrency   int            `json:"concurrency"`
	Success       int32          `json:"success"`
	Failure       int32          `json:"failure"`
	DurationMS    int64          `json:"duration_ms"`
	ThroughputRPS float64        `json:"throughput_rps"`
	StatusCodes   map[int]int32  `json:"status_codes"`
	Latency       map[string]any `json:"latency_ms"`
}

func main() {
	var (
		url         = pflag.String("url", "http://127.0.0.1:8080/", "Route URL")
		concurrency = pflag.Int("concurrency", 10, "Number of concurrent workers")
		requests    = pflag.Int("requests", 100, "Total number of requests to send")
		method      = pflag.String("method", http.MethodGet, "HTTP method")
		timeout     = pflag.Duration("timeout", 10*time.Second, "Per-request timeout")
		outJSON     = pflag.String("out", "", "Write JSON summary to this file (optional)")
		verbose     = pflag.BoolP("verbose", "v", false, "Verbose per-request logging to stdout")
	)
	pflag.Parse()

	client := &http.Client{Timeout: *timeout}

	jobs := make(chan int)
	var wg sync.WaitGroup

	var success, failure int32

	var mu sync.Mutex
	var latencies []time.Duration
	statusCodes := make(map[int]int32)

	testStart := time.Now()

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for idx := range jobs {
				start := time.Now()

				req, err := http.NewRequest(*method, *url, nil)
				if err != nil {
					atomic.AddInt32(&failure, 1)
					continue
				}

				resp, err := client.Do(req)
				dur := time.Since(start)

				if err != nil {
					atomic.AddInt32(&failure, 1)
					if *verbose {
						fmt.Printf("[%d] idx=%d error=%v\n", workerID, idx, err)
					}
					continue
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()

				if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
					atomic.AddInt32(&success, 1)
				} else {
					atomic.AddInt32(&failure, 1)
				}

				mu.Lock()
				latencies = append(latencies, dur)
				statusCodes[resp.StatusCode]++
				mu.Unlock()

				if *verbose {
					fmt.Printf("[%d] idx=%d status=%d dur=%v\n", workerID, idx, resp.StatusCode, dur)
				}
			}
		}(i)
	}

	go func() {
		for i := 0; i < *requests; i++ {
			jobs <- i
		}
		close(jobs)
	}()

	wg.Wait()
	total := time.Since(testStart)

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	pick := func(p float64) time.Duration {
		if len(latencies) == 0 {
			return 0
		}
		return latencies[int(float64(len(latencies)-1)*p)]
	}

	s := summary{
		Target:        *url,
		Requests:      *requests,
		Concurrency:   *concurrency,
		Success:       success,
		Failure:       failure,
		DurationMS:    total.Milliseconds(),
		ThroughputRPS: float64(*requests) / total.Seconds(),
		StatusCodes:   statusCodes,
		Latency: map[string]any{
			"samples": len(latencies),
			"p50":     pick(0.50).Milliseconds(),
			"p90":     pick(0.90).Milliseconds(),
			"p95":     pick(0.95).Milliseconds(),
			"p99":     pick(0.99).Milliseconds(),
		},
	}

	fmt.Println("--- Load Test Summary ---")
	fmt.Printf("Target: %s\n", s.Target)
	fmt.Printf("Requests: %d  Concurrency: %d\n", s.Requests, s.Concurrency)
	fmt.Printf("Success: %d  Failure: %d\n", s.Success, s.Failure)
	fmt.Printf("Duration: %v  Throughput: %.2f req/s\n", total, s.ThroughputRPS)

	codes := make([]int, 0, len(statusCodes))
	for code := range statusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	fmt.Println("\nStatus codes:")
	for _, code := range codes {
		fmt.Printf("  %d -> %d\n", code, statusCodes[code])
	}

	fmt.Printf("\nLatency: samples=%d p50=%v p90=%v p95=%v p99=%v\n",
		len(latencies), pick(0.50), pick(0.90), pick(0.95), pick(0.99))

	if *outJSON != "" {
		f, err := os.Create(*outJSON)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create json file: %v\n", err)
			os.Exit(1)
		}
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		_ = enc.Encode(s)
		f.Close()
		fmt.Printf("\nWrote JSON summary to %s\n", *outJSON)
	}

	// exit with non-zero if there were failures
	if failure > 0 {
		os.Exit(2)
	}
}
