// Package scheduler drives the repeating poll cycle: fetch the community
// roster, poll each community in bounded batches, deliver what came out, and
// persist history before sleeping until the next cycle.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"plebfeed/delivery"
	"plebfeed/feed"
	"plebfeed/history"
	"plebfeed/models"
	"plebfeed/plebbit"
	"plebfeed/ratelimit"
	"plebfeed/sources"
)

var (
	cyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plebfeed_cycles_total",
		Help: "The total number of completed poll cycles",
	})

	communitiesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plebfeed_communities_processed_total",
		Help: "The total number of community polls attempted",
	})

	communityErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plebfeed_community_errors_total",
		Help: "The total number of failed community polls",
	})

	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "plebfeed_cycle_duration_seconds",
		Help:    "Duration of poll cycles",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
)

// Config holds the scheduler's timing and batching knobs.
type Config struct {
	BatchSize       int
	CycleDelay      time.Duration
	BatchDelay      time.Duration
	ResolveTimeout  time.Duration
	ProcessTimeout  time.Duration
	SleepCheckEvery time.Duration
}

// DefaultConfig returns the production timing constants.
func DefaultConfig() Config {
	return Config{
		BatchSize:       5,
		CycleDelay:      30 * time.Second,
		BatchDelay:      time.Second,
		ResolveTimeout:  5 * time.Minute,
		ProcessTimeout:  6 * time.Minute,
		SleepCheckEvery: 5 * time.Second,
	}
}

// Scheduler owns the poll loop and the shared cycle state.
type Scheduler struct {
	config     Config
	api        plebbit.API
	fetcher    *sources.Fetcher
	extractor  *feed.Extractor
	dispatcher *delivery.Dispatcher
	history    *history.Store
	limiter    *ratelimit.Limiter
}

func New(config Config, api plebbit.API, fetcher *sources.Fetcher, extractor *feed.Extractor, dispatcher *delivery.Dispatcher, hist *history.Store, limiter *ratelimit.Limiter) *Scheduler {
	return &Scheduler{
		config:     config,
		api:        api,
		fetcher:    fetcher,
		extractor:  extractor,
		dispatcher: dispatcher,
		history:    hist,
		limiter:    limiter,
	}
}

// Run executes poll cycles until the context is cancelled. In-flight
// community polls finish or time out; no new work starts after cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Info("Starting feed poll loop")

	cycleCount := 0
	for {
		select {
		case <-ctx.Done():
			log.Info("Feed poll loop stopped")
			return ctx.Err()
		default:
		}

		cycleCount++
		cycleStart := time.Now()

		if err := s.history.Load(); err != nil {
			// A corrupt history would redeliver everything; better to stop.
			return fmt.Errorf("could not load history: %w", err)
		}

		log.WithFields(log.Fields{
			"cycle":     cycleCount,
			"processed": s.history.Len(),
		}).Info("Starting cycle")

		roster := s.fetcher.Fetch(ctx)
		log.Infof("Fetched %d communities to process", len(roster))

		newPosts := s.pollRoster(ctx, roster)

		if err := s.history.Save(); err != nil {
			log.Errorf("Error saving history file: %v", err)
		}

		elapsed := time.Since(cycleStart)
		cyclesTotal.Inc()
		cycleDuration.Observe(elapsed.Seconds())

		log.WithFields(log.Fields{
			"cycle":       cycleCount,
			"communities": len(roster),
			"newPosts":    newPosts,
			"duration":    elapsed.Round(time.Second),
		}).Info("Cycle completed")

		if !s.sleep(ctx) {
			log.Info("Feed poll loop stopped")
			return ctx.Err()
		}
	}
}

// pollRoster works through the roster in fixed-size batches and returns the
// number of newly delivered posts.
func (s *Scheduler) pollRoster(ctx context.Context, roster []string) int {
	newPosts := 0

	batches := lo.Chunk(roster, s.config.BatchSize)
	for i, batch := range batches {
		select {
		case <-ctx.Done():
			return newPosts
		default:
		}

		results := make([]int, len(batch))
		var wg sync.WaitGroup
		for j, address := range batch {
			wg.Add(1)
			go func(j int, address string) {
				defer wg.Done()
				communitiesProcessed.Inc()

				delivered, err := s.pollCommunity(ctx, address)
				if err != nil {
					communityErrors.Inc()
					s.logCommunityError(address, err)
					return
				}
				results[j] = delivered
			}(j, address)
		}
		wg.Wait()

		newPosts += lo.Sum(results)

		// Brief pause between batches to avoid hammering the RPC endpoint.
		if i < len(batches)-1 {
			select {
			case <-ctx.Done():
				return newPosts
			case <-time.After(s.config.BatchDelay):
			}
		}
	}

	return newPosts
}

// pollCommunity resolves one community and runs extraction plus delivery for
// it, each phase under its own timeout.
func (s *Scheduler) pollCommunity(ctx context.Context, address string) (int, error) {
	resolveCtx, cancelResolve := context.WithTimeout(ctx, s.config.ResolveTimeout)
	defer cancelResolve()

	sub, err := s.api.ResolveSubplebbit(resolveCtx, address)
	if err != nil {
		if resolveCtx.Err() == context.DeadlineExceeded {
			return 0, fmt.Errorf("resolution timed out after %s", s.config.ResolveTimeout)
		}
		return 0, err
	}

	processCtx, cancelProcess := context.WithTimeout(ctx, s.config.ProcessTimeout)
	defer cancelProcess()

	delivered := 0
	for _, post := range s.extractor.Extract(processCtx, sub) {
		ok, err := s.dispatcher.Deliver(processCtx, post)
		if err != nil {
			if processCtx.Err() == context.DeadlineExceeded {
				return delivered, fmt.Errorf("timed out after %s of post crawling on %s",
					s.config.ProcessTimeout, sub.Address)
			}
			return delivered, err
		}
		if ok {
			delivered++
		}
	}

	return delivered, nil
}

// logCommunityError emits at most a bounded number of log lines per distinct
// (community, error) signature.
func (s *Scheduler) logCommunityError(address string, err error) {
	key := address + ":" + err.Error()
	if !s.limiter.ShouldLog(key) {
		return
	}

	if ratelimit.IsNoisyKey(key) {
		log.Warnf("Subplebbit %s offline (IPNS resolution failed)", models.ShortAddress(address))
		return
	}
	log.Errorf("Error processing %s: %v", models.ShortAddress(address), err)
}

// sleep waits out the inter-cycle delay in small increments so shutdown is
// honored promptly. Returns false when the context was cancelled.
func (s *Scheduler) sleep(ctx context.Context) bool {
	log.Debugf("Waiting %s before next cycle", s.config.CycleDelay)

	remaining := s.config.CycleDelay
	for remaining > 0 {
		step := s.config.SleepCheckEvery
		if step <= 0 || step > remaining {
			step = remaining
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(step):
			remaining -= step
		}
	}
	return true
}
