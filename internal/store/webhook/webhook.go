package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/agentsh/shellgate/pkg/types"
)

// Store batches events and POSTs them as a JSON array. A batch is sent when
// it reaches batchSize or when the flush ticker fires, whichever is first.
type Store struct {
	url       string
	batchSize int
	timeout   time.Duration
	headers   map[string]string
	client    *http.Client
	logger    *slog.Logger

	mu     sync.Mutex
	buf    []types.Event
	closed bool

	stop chan struct{}
	done chan struct{}
}

func New(url string, batchSize int, flushInterval, timeout time.Duration, headers map[string]string) (*Store, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook url is empty")
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 10 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	hcopy := make(map[string]string, len(headers))
	for k, v := range headers {
		hcopy[k] = v
	}
	s := &Store{
		url:       url,
		batchSize: batchSize,
		timeout:   timeout,
		headers:   hcopy,
		client:    &http.Client{Timeout: timeout},
		logger:    slog.Default().With("component", "webhook"),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go s.loop(flushInterval)
	return s, nil
}

func (s *Store) AppendEvent(ctx context.Context, ev types.Event) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("webhook store closed")
	}
	s.buf = append(s.buf, ev)
	var batch []types.Event
	if len(s.buf) >= s.batchSize {
		batch = s.takeLocked()
	}
	s.mu.Unlock()

	if batch == nil {
		return nil
	}
	return s.post(ctx, batch)
}

func (s *Store) QueryEvents(_ context.Context, _ types.EventQuery) ([]types.Event, error) {
	return nil, fmt.Errorf("webhook store does not support queries")
}

// Close stops the ticker and sends whatever is still buffered.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	batch := s.takeLocked()
	s.mu.Unlock()

	close(s.stop)
	<-s.done

	if len(batch) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.post(ctx, batch)
}

func (s *Store) loop(interval time.Duration) {
	defer close(s.done)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			s.mu.Lock()
			batch := s.takeLocked()
			s.mu.Unlock()
			if len(batch) == 0 {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
			if err := s.post(ctx, batch); err != nil {
				s.logger.Warn("webhook flush failed", "events", len(batch), "error", err)
			}
			cancel()
		}
	}
}

func (s *Store) takeLocked() []types.Event {
	if len(s.buf) == 0 {
		return nil
	}
	batch := s.buf
	s.buf = nil
	return batch
}

func (s *Store) post(ctx context.Context, batch []types.Event) error {
	b, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook responded %s", resp.Status)
	}
	return nil
}
