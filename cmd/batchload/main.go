package main

import (
	"context"
	"encoding/json"
	"flag"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"batchgate/internal/client"
)

func main() {
	url := flag.String("url", "ws://localhost:8001/", "WebSocket endpoint")
	method := flag.String("method", "predict", "method to call")
	connections := flag.Int("c", 4, "number of connections")
	calls := flag.Int("n", 1000, "total number of calls")
	timeout := flag.Duration("timeout", 30*time.Second, "per-call timeout")
	statsURL := flag.String("stats", "http://localhost:8000/stats", "stats endpoint, empty to skip")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	if *connections < 1 || *calls < 1 {
		logger.Fatal().Msg("-c and -n must be positive")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var ok, busy, failed atomic.Int64
	var next atomic.Int64
	start := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < *connections; i++ {
		g.Go(func() error {
			c, err := client.Dial(ctx, *url, logger)
			if err != nil {
				return err
			}
			defer c.Close()

			// Each connection pipelines its calls so that they share batches
			var inner errgroup.Group
			inner.SetLimit(64)
			for next.Add(1) <= int64(*calls) {
				inner.Go(func() error {
					callCtx, cancel := context.WithTimeout(ctx, *timeout)
					defer cancel()

					resp, err := c.Call(callCtx, *method, [][]float64{{rand.Float64() * 100}})
					switch {
					case err != nil:
						failed.Add(1)
						return err
					case resp.IsRetryableError():
						busy.Add(1)
					case resp.HasError():
						failed.Add(1)
						logger.Debug().Int("code", resp.Error.Code).Str("message", resp.Error.Message).Msg("call failed")
					default:
						ok.Add(1)
					}
					return nil
				})
			}
			return inner.Wait()
		})
	}
	err := g.Wait()

	elapsed := time.Since(start)
	total := ok.Load() + busy.Load() + failed.Load()
	logger.Info().
		Int64("ok", ok.Load()).
		Int64("busy", busy.Load()).
		Int64("failed", failed.Load()).
		Dur("elapsed", elapsed).
		Float64("callsPerSecond", float64(total)/elapsed.Seconds()).
		Msg("load finished")

	if *statsURL != "" {
		logBatchStats(*statsURL, logger)
	}

	if err != nil {
		logger.Fatal().Err(err).Msg("load aborted")
	}
}

// logBatchStats fetches the service stats and logs how the calls were batched
func logBatchStats(url string, logger zerolog.Logger) {
	resp, err := http.Get(url)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to fetch stats")
		return
	}
	defer resp.Body.Close()

	var stats struct {
		Methods map[string]struct {
			Batcher struct {
				Dispatched    uint64 `json:"dispatched"`
				FailedBatches uint64 `json:"failedBatches"`
			} `json:"batcher"`
			Rejected uint64 `json:"rejected"`
		} `json:"methods"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		logger.Warn().Err(err).Msg("failed to decode stats")
		return
	}

	for name, m := range stats.Methods {
		logger.Info().
			Str("method", name).
			Uint64("batches", m.Batcher.Dispatched).
			Uint64("failedBatches", m.Batcher.FailedBatches).
			Uint64("rejected", m.Rejected).
			Msg("batch stats")
	}
}
