package mirrorup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/VividCortex/ewma"
	"github.com/cheggaaa/pb/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	// minElapsed floors the transfer time so a near-instant probe cannot
	// divide by zero.
	minElapsed = time.Millisecond

	// rateSampleSlice is how often the smoothed rate takes a sample.
	rateSampleSlice = 100 * time.Millisecond

	probeBufferSize = 32 * 1024
)

// ProbeResult records the outcome of one timed transfer. Exactly one is
// produced per probed candidate; failed probes carry Err and are never
// ranked.
type ProbeResult struct {
	URL          string
	OK           bool
	Elapsed      time.Duration
	Bytes        int64
	Rate         float64 // bytes per second over the whole transfer
	SmoothedRate float64 // exponentially weighted moving average of rate samples
	Err          error
}

// Prober measures the transfer rate of candidates by downloading the
// target database file from each of them under bounded concurrency.
type Prober struct {
	client    *http.Client
	semaphore chan struct{}
	limiter   *rate.Limiter
	dbPath    string
	progress  bool
}

// NewProber creates a prober from the configuration. The per-request
// timeout is the only deadline; there is no overall probing deadline.
func NewProber(config *Config) *Prober {
	semaphore := make(chan struct{}, config.Threads)
	for i := 0; i < config.Threads; i++ {
		semaphore <- struct{}{}
	}

	var limiter *rate.Limiter
	if config.RateLimitMB > 0 {
		bytesPerSecond := config.RateLimitMB * 1024 * 1024
		// The burst must cover one read, or WaitN can never succeed for
		// caps below the buffer size.
		burst := int(bytesPerSecond)
		if burst < probeBufferSize {
			burst = probeBufferSize
		}
		limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
	}

	return &Prober{
		client: &http.Client{
			Transport: clonedTransport(),
			Timeout:   time.Duration(config.Timeout) * time.Second,
		},
		semaphore: semaphore,
		limiter:   limiter,
		dbPath:    config.TargetDB.Path(),
		progress:  !config.NoProgress,
	}
}

// Probe performs one timed transfer per candidate and returns the results
// keyed by candidate URL. Per-candidate failures are recorded, never
// escalated; the only error returned is context cancellation.
func (p *Prober) Probe(ctx context.Context, candidates []Candidate) (map[string]*ProbeResult, error) {
	results := make(chan *ProbeResult, len(candidates))
	byURL := make(map[string]*ProbeResult, len(candidates))

	var bar *pb.ProgressBar
	if p.progress {
		bar = pb.New(len(candidates))
		bar.SetWriter(os.Stderr)
		bar.Start()
		defer bar.Finish()
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		defer close(results)

		// Workers must finish before the results channel closes.
		workerGroup, workerCtx := errgroup.WithContext(ctx)
		defer func() {
			_ = workerGroup.Wait()
		}()

		for i := range candidates {
			candidate := candidates[i]

			// A done context must win even when a token is free; the
			// blocking select below picks randomly among ready cases.
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.semaphore:
			}

			workerGroup.Go(func() error {
				// Probe failures are per-candidate and never abort
				// the pool.
				p.probeOne(workerCtx, &candidate, results)
				return nil
			})
		}
		return nil
	})

	group.Go(func() error {
		for r := range results {
			if bar != nil {
				bar.Increment()
			}
			if r.OK {
				slog.Debug("probe finished", "url", r.URL, "elapsed", r.Elapsed, "bytes", r.Bytes, "rate", r.Rate)
			} else {
				slog.Debug("probe failed", "url", r.URL, "error", r.Err)
			}
			byURL[r.URL] = r
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return byURL, nil
}

// probeOne downloads the target database file once from the candidate and
// sends its result. The semaphore token is returned before the result is
// sent, as in a fixed worker pool.
func (p *Prober) probeOne(ctx context.Context, candidate *Candidate, ch chan<- *ProbeResult) {
	r := &ProbeResult{
		URL: candidate.URL,
	}
	defer func() {
		p.semaphore <- struct{}{}
		ch <- r
	}()

	probeURL := strings.TrimSuffix(candidate.URL, "/") + "/" + p.dbPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		r.Err = err
		return
	}
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		r.Err = err
		return
	}
	defer closeRespBody(resp)

	if resp.StatusCode != http.StatusOK {
		r.Err = fmt.Errorf("status %d for %s", resp.StatusCode, probeURL)
		return
	}

	total, smoothed, err := p.readTimed(ctx, resp.Body, start)
	elapsed := time.Since(start)
	if err != nil {
		r.Err = err
		return
	}
	if total == 0 {
		r.Err = fmt.Errorf("empty response for %s", probeURL)
		return
	}

	if elapsed < minElapsed {
		elapsed = minElapsed
	}
	r.OK = true
	r.Elapsed = elapsed
	r.Bytes = total
	r.Rate = float64(total) / elapsed.Seconds()
	r.SmoothedRate = smoothed
	if r.SmoothedRate == 0 {
		// Transfer ended within the first sample slice.
		r.SmoothedRate = r.Rate
	}
}

// readTimed drains the response body, counting bytes and sampling the
// instantaneous rate into a moving average. The optional limiter caps
// probe bandwidth so measurement does not saturate the uplink.
func (p *Prober) readTimed(ctx context.Context, body io.Reader, start time.Time) (int64, float64, error) {
	average := ewma.NewMovingAverage()
	buffer := make([]byte, probeBufferSize)

	var total, sliceBytes int64
	sliceStart := start

	for {
		n, err := body.Read(buffer)
		total += int64(n)
		sliceBytes += int64(n)

		// Charge only what arrived; a short read must not consume a full
		// buffer's worth of tokens.
		if p.limiter != nil && n > 0 {
			if waitErr := p.limiter.WaitN(ctx, n); waitErr != nil {
				return total, average.Value(), waitErr
			}
		}

		if now := time.Now(); now.Sub(sliceStart) >= rateSampleSlice {
			average.Add(float64(sliceBytes) / now.Sub(sliceStart).Seconds())
			sliceStart = now
			sliceBytes = 0
		}

		if err == io.EOF {
			return total, average.Value(), nil
		}
		if err != nil {
			return total, average.Value(), err
		}
	}
}
