package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/covid-at-etl/internal/domain"
	"github.com/jonboulle/clockwork"
)

// ErrFetch marks every failure to retrieve the report page.
var ErrFetch = errors.New("fetch report")

// FetchError describes a failed retrieval. Status is zero for transport errors.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: status %d", ErrFetch, e.URL, e.Status)
	}
	return fmt.Sprintf("%s %s: %v", ErrFetch, e.URL, e.Err)
}

func (e *FetchError) Is(target error) bool { return target == ErrFetch }

func (e *FetchError) Unwrap() error { return e.Err }

// Options configures a Fetcher.
type Options struct {
	URL       string
	Timeout   time.Duration
	MaxBytes  int64
	UserAgent string
}

// Fetcher downloads the ministry report page. It implements pipeline.Fetcher.
type Fetcher struct {
	url        string
	maxBytes   int64
	userAgent  string
	httpClient *http.Client
	clock      clockwork.Clock
	logger     *slog.Logger
}

// NewFetcher creates a Fetcher for a fixed URL.
func NewFetcher(opts Options, clock clockwork.Clock, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		url:       opts.URL,
		maxBytes:  opts.MaxBytes,
		userAgent: opts.UserAgent,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		clock:  clock,
		logger: logger,
	}
}

// Fetch performs one GET of the report URL. Timeouts, transport errors,
// non-2xx responses and oversized bodies all yield a *FetchError.
// There is no retry here.
func (f *Fetcher) Fetch(ctx context.Context) (domain.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return domain.Document{}, &FetchError{URL: f.url, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return domain.Document{}, &FetchError{URL: f.url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck // drain for connection reuse
		return domain.Document{}, &FetchError{URL: f.url, Status: resp.StatusCode}
	}

	// Read one byte past the cap so truncation is detectable.
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return domain.Document{}, &FetchError{URL: f.url, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(body)) > f.maxBytes {
		return domain.Document{}, &FetchError{URL: f.url, Err: fmt.Errorf("body exceeds %d bytes", f.maxBytes)}
	}

	sum := sha256.Sum256(body)
	doc := domain.Document{
		URL:         f.url,
		Body:        body,
		FetchedAt:   f.clock.Now().UTC(),
		ContentHash: hex.EncodeToString(sum[:]),
	}
	f.logger.Debug("report fetched", "url", f.url, "bytes", len(body), "hash", doc.ContentHash[:12])
	return doc, nil
}
