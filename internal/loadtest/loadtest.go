// Package loadtest exercises live collections under concurrent writers.
//
// A run opens Observers live collections on one filter key, then lets
// Writers users post MessagesPerWriter rows each through their own live
// collection. It measures write latency (request to store acknowledgement),
// echo latency (request to the row appearing in each observer) and checks
// that every observer converges to exactly the rows and order the store
// returns.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"log"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/reelroom/reel/internal/backend/api"
	"github.com/reelroom/reel/internal/backend/db"
	"github.com/reelroom/reel/internal/backend/realtime"
	"github.com/reelroom/reel/internal/backend/schema"
	"github.com/reelroom/reel/internal/livesync"
	"github.com/reelroom/reel/internal/session"
)

// Connector provides backend access for one simulated user.
type Connector func(ctx context.Context, user string) (livesync.Deps, error)

// InProcess connects users directly to a database and hub.
func InProcess(database *db.DB, hub *realtime.Hub) Connector {
	return func(ctx context.Context, user string) (livesync.Deps, error) {
		return livesync.Deps{
			Fetcher:    database,
			Subscriber: hub,
			Writer:     database,
			Session:    session.Static(user),
		}, nil
	}
}

// Remote connects users to a running server, logging each one in.
func Remote(baseURL string, logger *log.Logger) Connector {
	return func(ctx context.Context, user string) (livesync.Deps, error) {
		client := api.NewClient(baseURL)
		token, err := client.Login(ctx, schema.Profile{ID: user, FirstName: "Load", LastName: user})
		if err != nil {
			return livesync.Deps{}, fmt.Errorf("failed to log in %s: %w", user, err)
		}
		sess, err := session.Parse(token)
		if err != nil {
			return livesync.Deps{}, err
		}
		rt, err := realtime.NewClient(realtime.ClientConfig{BaseURL: baseURL, Token: token, Logger: logger})
		if err != nil {
			return livesync.Deps{}, err
		}
		return livesync.Deps{
			Fetcher:    client,
			Subscriber: rt,
			Writer:     client,
			Session:    sess,
		}, nil
	}
}

// Options configures a run. Zero values select the defaults.
type Options struct {
	Writers           int              // default 4
	Observers         int              // default 8
	MessagesPerWriter int              // default 25
	Key               schema.FilterKey // default: community messages
	Timeout           time.Duration    // default 30s, bounds the wait for echoes
	Logger            *log.Logger
}

func (o *Options) applyDefaults() {
	if o.Writers <= 0 {
		o.Writers = 4
	}
	if o.Observers <= 0 {
		o.Observers = 8
	}
	if o.MessagesPerWriter <= 0 {
		o.MessagesPerWriter = 25
	}
	if o.Key.Table == "" {
		o.Key = schema.FilterKey{Table: schema.TableCommunityMessages}
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard, "", 0)
	}
}

// Result is the outcome of a run.
type Result struct {
	Writes    *LatencyStats
	Echoes    *LatencyStats
	Observers int
	Records   int // rows matching the key after the run
	Converged bool
	Missing   int // echoes not observed before the timeout
	Duration  time.Duration
}

// observer tracks when each nonce first shows up in one live collection.
type observer struct {
	handle *livesync.Handle

	mu   sync.Mutex
	seen map[string]time.Time
}

func (o *observer) onChange(st livesync.State) {
	now := time.Now()
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, r := range st.Records {
		nonce := r.String("content")
		if _, ok := o.seen[nonce]; !ok {
			o.seen[nonce] = now
		}
	}
}

func (o *observer) seenAt(nonce string) (time.Time, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.seen[nonce]
	return t, ok
}

// Run performs one load test.
func Run(ctx context.Context, connect Connector, opts Options) (*Result, error) {
	opts.applyDefaults()
	start := time.Now()

	observers := make([]*observer, 0, opts.Observers)
	defer func() {
		for _, o := range observers {
			_ = o.handle.Close()
		}
	}()

	for i := 0; i < opts.Observers; i++ {
		o := &observer{seen: make(map[string]time.Time)}
		h, err := open(ctx, connect, fmt.Sprintf("loadtest-observer-%d", i), opts, o.onChange)
		if err != nil {
			return nil, err
		}
		o.handle = h
		observers = append(observers, o)
	}

	sent, writeDurations, err := write(ctx, connect, opts)
	if err != nil {
		return nil, err
	}

	// Wait for every observer to see every write.
	deadline := time.Now().Add(opts.Timeout)
	missing := countMissing(observers, sent)
	for missing > 0 && time.Now().Before(deadline) && ctx.Err() == nil {
		time.Sleep(10 * time.Millisecond)
		missing = countMissing(observers, sent)
	}

	var echoes []time.Duration
	for _, o := range observers {
		for nonce, sentAt := range sent {
			if seenAt, ok := o.seenAt(nonce); ok {
				echoes = append(echoes, seenAt.Sub(sentAt))
			}
		}
	}

	deps, err := connect(ctx, "loadtest-checker")
	if err != nil {
		return nil, err
	}
	truth, err := deps.Fetcher.Fetch(ctx, opts.Key, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch final rows: %w", err)
	}
	want := make([]string, len(truth))
	for i, r := range truth {
		want[i] = r.ID
	}

	converged := missing == 0
	for _, o := range observers {
		if !slices.Equal(o.handle.State().IDs(), want) {
			converged = false
		}
	}

	return &Result{
		Writes:    computeLatencyStats(writeDurations),
		Echoes:    computeLatencyStats(echoes),
		Observers: len(observers),
		Records:   len(truth),
		Converged: converged,
		Missing:   missing,
		Duration:  time.Since(start),
	}, nil
}

func open(ctx context.Context, connect Connector, user string, opts Options, onChange func(livesync.State)) (*livesync.Handle, error) {
	deps, err := connect(ctx, user)
	if err != nil {
		return nil, err
	}
	syncer, err := livesync.New(deps, livesync.Config{
		Limit:    livesync.Unbounded,
		Logger:   opts.Logger,
		OnChange: onChange,
	})
	if err != nil {
		return nil, err
	}
	h, err := syncer.Open(ctx, opts.Key)
	if err != nil {
		return nil, err
	}
	if _, err := h.Wait(ctx); err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("%s failed to load: %w", user, err)
	}
	return h, nil
}

// write runs the writers concurrently and returns the send time of every
// nonce plus the store acknowledgement latencies.
func write(ctx context.Context, connect Connector, opts Options) (map[string]time.Time, []time.Duration, error) {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		sent      = make(map[string]time.Time, opts.Writers*opts.MessagesPerWriter)
		durations = make([]time.Duration, 0, opts.Writers*opts.MessagesPerWriter)
		firstErr  error
	)

	for i := 0; i < opts.Writers; i++ {
		wg.Add(1)
		go func(writerID int) {
			defer wg.Done()

			h, err := open(ctx, connect, fmt.Sprintf("loadtest-writer-%d", writerID), opts, nil)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			defer h.Close()

			for j := 0; j < opts.MessagesPerWriter; j++ {
				nonce := fmt.Sprintf("loadtest w%d m%d %d", writerID, j, time.Now().UnixNano())
				begin := time.Now()
				mu.Lock()
				sent[nonce] = begin
				mu.Unlock()

				_, err := h.RequestCreate(ctx, schema.Payload{"content": nonce})
				elapsed := time.Since(begin)

				mu.Lock()
				if err != nil {
					delete(sent, nonce)
					if firstErr == nil {
						firstErr = fmt.Errorf("writer %d message %d failed: %w", writerID, j, err)
					}
					mu.Unlock()
					return
				}
				durations = append(durations, elapsed)
				mu.Unlock()
			}
		}(i)
	}

	wg.Wait()
	if firstErr != nil {
		return nil, nil, firstErr
	}
	return sent, durations, nil
}

func countMissing(observers []*observer, sent map[string]time.Time) int {
	missing := 0
	for _, o := range observers {
		for nonce := range sent {
			if _, ok := o.seenAt(nonce); !ok {
				missing++
			}
		}
	}
	return missing
}

// LatencyStats captures latency percentiles.
type LatencyStats struct {
	Min   time.Duration
	Max   time.Duration
	Mean  time.Duration
	P50   time.Duration // Median
	P95   time.Duration
	P99   time.Duration
	Count int
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Mean:  sum / time.Duration(len(durations)),
		P50:   sorted[len(sorted)*50/100],
		P95:   sorted[len(sorted)*95/100],
		P99:   sorted[len(sorted)*99/100],
		Count: len(durations),
	}
}

// PrintStats formats latency statistics under a title.
func (s *LatencyStats) PrintStats(w io.Writer, title string) {
	fmt.Fprintf(w, "%s:\n", title)
	fmt.Fprintf(w, "  Count:         %d\n", s.Count)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
