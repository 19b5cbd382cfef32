package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"log"
	"math/rand/v2"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var levels = []string{"DEBUG", "INFO", "WARN", "ERROR"}

type logPayload struct {
	Level    string         `json:"level"`
	Message  string         `json:"message"`
	Context  string         `json:"context"`
	Metadata map[string]any `json:"metadata"`
}

func main() {
	targetURL := flag.String("url", "http://localhost:3000/logs/async", "Target URL for ingestion")
	concurrency := flag.Int("c", 10, "Number of concurrent workers")
	duration := flag.Duration("d", 30*time.Second, "Duration of the load test")
	rps := flag.Int("rps", 1000, "Requests per second limit")
	flag.Parse()

	log.Printf("Starting load test on %s", *targetURL)
	log.Printf("Concurrency: %d, Duration: %s, RPS: %d", *concurrency, *duration, *rps)

	var wg sync.WaitGroup
	var accepted, unavailable, failed atomic.Int64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(*rps), 100)

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			client := &http.Client{Timeout: 5 * time.Second}

			for {
				if err := limiter.Wait(ctx); err != nil {
					return
				}

				body, _ := json.Marshal(logPayload{
					Level:    levels[rand.IntN(len(levels))],
					Message:  "load test event",
					Context:  "load-tester",
					Metadata: map[string]any{"worker": workerID, "request_id": uuid.NewString()},
				})
				req, err := http.NewRequestWithContext(ctx, http.MethodPost, *targetURL, bytes.NewReader(body))
				if err != nil {
					continue
				}
				req.Header.Set("Content-Type", "application/json")

				resp, err := client.Do(req)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					failed.Add(1)
					continue
				}
				switch resp.StatusCode {
				case http.StatusAccepted, http.StatusCreated:
					accepted.Add(1)
				case http.StatusServiceUnavailable:
					unavailable.Add(1)
				default:
					failed.Add(1)
				}
				resp.Body.Close()
			}
		}(i)
	}

	wg.Wait()

	total := accepted.Load() + unavailable.Load() + failed.Load()
	log.Println("Load test finished.")
	log.Printf("Total Requests: %d", total)
	log.Printf("Accepted: %d", accepted.Load())
	log.Printf("Broker unavailable (503): %d", unavailable.Load())
	log.Printf("Errors: %d", failed.Load())
	log.Printf("Actual RPS: %.2f", float64(total)/duration.Seconds())
}
