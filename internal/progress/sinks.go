package progress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrQueueFull is returned by AsyncSink when its buffer is full and the
// record was dropped.
var ErrQueueFull = errors.New("progress: queue full")

// ErrSinkClosed is returned by AsyncSink after Close.
var ErrSinkClosed = errors.New("progress: sink closed")

// MultiSink reports to every sink and joins their errors.
type MultiSink []Sink

// Report implements Sink.
func (m MultiSink) Report(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Report(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HTTPSink POSTs records as JSON to a remote persistence endpoint.
type HTTPSink struct {
	URL    string
	Client *http.Client
	// Token, if set, is sent as a bearer token.
	Token string
}

// NewHTTPSink returns a sink posting to url with the given client timeout.
func NewHTTPSink(url string, timeout time.Duration) *HTTPSink {
	return &HTTPSink{URL: url, Client: &http.Client{Timeout: timeout}}
}

// Report implements Sink.
func (h *HTTPSink) Report(ctx context.Context, rec Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode progress: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.Token)
	}

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post progress: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("progress endpoint returned %s", resp.Status)
	}
	return nil
}

// AsyncSink hands records to a worker goroutine through a bounded queue so
// the caller never blocks on delivery. Records are dropped when the queue
// is full.
type AsyncSink struct {
	next    Sink
	queue   chan Record
	done    chan struct{}
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
	sent    atomic.Int64
}

// NewAsyncSink starts the worker. Close must be called to stop it.
func NewAsyncSink(next Sink, size int, timeout time.Duration, logger *zap.Logger) *AsyncSink {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &AsyncSink{
		next:    next,
		queue:   make(chan Record, size),
		done:    make(chan struct{}),
		timeout: timeout,
		logger:  logger,
	}
	go a.run()
	return a
}

// Report enqueues rec. It never blocks.
func (a *AsyncSink) Report(_ context.Context, rec Record) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrSinkClosed
	}
	select {
	case a.queue <- rec:
		return nil
	default:
		a.dropped.Add(1)
		return ErrQueueFull
	}
}

func (a *AsyncSink) run() {
	defer close(a.done)
	for rec := range a.queue {
		ctx := context.Background()
		var cancel context.CancelFunc = func() {}
		if a.timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, a.timeout)
		}
		if err := a.next.Report(ctx, rec); err != nil {
			a.logger.Warn("async progress delivery failed",
				zap.String("experiment", rec.ExperimentID),
				zap.Error(err))
		} else {
			a.sent.Add(1)
		}
		cancel()
	}
}

// Close stops accepting records, drains the queue and waits for the worker.
func (a *AsyncSink) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	<-a.done
	return nil
}

// Dropped is the number of records lost to a full queue.
func (a *AsyncSink) Dropped() int64 { return a.dropped.Load() }

// Sent is the number of records the next sink accepted.
func (a *AsyncSink) Sent() int64 { return a.sent.Load() }
