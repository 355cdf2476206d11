package keys

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/osvaldoandrade/tokengate/internal/backoff"
)

const maxDocumentBytes = 1 << 20

// DocumentSource returns a raw JWKS document.
type DocumentSource interface {
	FetchDocument(ctx context.Context) ([]byte, error)
}

// HTTPSource downloads a JWKS document over HTTP and retries transient
// failures (network errors, 429 and 5xx) with backoff.
type HTTPSource struct {
	URL         string
	Client      *http.Client
	MaxAttempts int
	Policy      string
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Logger      *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

var (
	_ Source         = (*HTTPSource)(nil)
	_ DocumentSource = (*HTTPSource)(nil)
)

// NewHTTPSource returns a source for url with three attempts and
// exponential full-jitter backoff between 200ms and 2s.
func NewHTTPSource(url string, client *http.Client, logger *slog.Logger) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPSource{
		URL:         url,
		Client:      client,
		MaxAttempts: 3,
		Policy:      backoff.ExpFullJitter,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Logger:      logger,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *HTTPSource) Fetch(ctx context.Context) ([]Material, error) {
	doc, err := s.FetchDocument(ctx)
	if err != nil {
		return nil, err
	}
	return ParseJWKS(doc)
}

func (s *HTTPSource) FetchDocument(ctx context.Context) ([]byte, error) {
	attempts := s.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := s.delay(attempt - 1)
			s.logger().Debug("retrying jwks fetch", "url", s.URL, "attempt", attempt+1, "delay", delay, "err", lastErr)
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}
		doc, err := s.get(ctx)
		if err == nil {
			return doc, nil
		}
		lastErr = err
		var perm *permanentError
		if errors.As(err, &perm) || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// permanentError marks failures that a retry cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func (s *HTTPSource) get(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, &permanentError{err: fmt.Errorf("build jwks request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", s.URL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDocumentBytes))
		return nil, fmt.Errorf("jwks endpoint returned status %d", resp.StatusCode)
	default:
		return nil, &permanentError{err: fmt.Errorf("jwks endpoint returned status %d", resp.StatusCode)}
	}

	doc, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("read jwks body: %w", err)
	}
	return doc, nil
}

func (s *HTTPSource) delay(attempt int) time.Duration {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return backoff.Compute(s.Policy, s.BaseDelay, s.MaxDelay, attempt, s.rng)
}

func (s *HTTPSource) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
