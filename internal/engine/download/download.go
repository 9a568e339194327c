// Package download fetches binary assets to local files with bounded retry
// and skip-if-exists semantics.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/anatolykoptev/go_iwara/internal/engine"
)

// Resource is one remote asset and its local target.
type Resource struct {
	URL  string
	Path string
}

// Outcome of a successful Fetch. Skipped is set when the target already
// existed and no request was made.
type Outcome struct {
	Path    string
	Skipped bool
}

// NotFoundError is a permanent failure: the asset is gone (404/410) or has
// no downloadable variant. It is never retried.
type NotFoundError struct {
	URL string
	Err error
}

func (e *NotFoundError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("not found: %s: %v", e.URL, e.Err)
	}
	return "not found: " + e.URL
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// TransientIOError covers network errors, non-2xx statuses and local write
// failures. These are retried.
type TransientIOError struct {
	URL    string
	Status int // 0 when no response was received
	Err    error
}

func (e *TransientIOError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("download %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *TransientIOError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a permanent missing-asset failure.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// Fetcher downloads resources with one shared client.
type Fetcher struct {
	client    *http.Client
	policy    engine.RetryPolicy
	userAgent string
}

// NewFetcher returns a Fetcher. A nil client gets a default one with the
// download timeout.
func NewFetcher(client *http.Client, policy engine.RetryPolicy) *Fetcher {
	if client == nil {
		client = engine.NewHTTPClient(engine.DefaultConfig().DownloadTimeout)
	}
	return &Fetcher{client: client, policy: policy, userAgent: engine.RandomUserAgent()}
}

// Fetch downloads res once. An existing target is reported as skipped with
// no network call. On error nothing is left at res.Path.
func (f *Fetcher) Fetch(ctx context.Context, res Resource) (Outcome, error) {
	if _, err := os.Stat(res.Path); err == nil {
		slog.Debug("download: already present", slog.String("path", res.Path))
		engine.IncrDownload("skipped")
		return Outcome{Path: res.Path, Skipped: true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, res.URL, nil)
	if err != nil {
		return Outcome{}, &NotFoundError{URL: res.URL, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return Outcome{}, &TransientIOError{URL: res.URL, Err: err}
	}
	defer resp.Body.Close()

	code := resp.StatusCode
	switch {
	case code >= 200 && code <= 299:
	case code == http.StatusNotFound || code == http.StatusGone:
		return Outcome{}, &NotFoundError{URL: res.URL, Err: fmt.Errorf("status %d", code)}
	case code >= 400 && code < 500 && !engine.IsRetryableStatus(code):
		// a stale signed link fails the same way every time
		return Outcome{}, &NotFoundError{URL: res.URL, Err: fmt.Errorf("status %d", code)}
	default:
		return Outcome{}, &TransientIOError{URL: res.URL, Status: code}
	}

	w, err := engine.NewAtomicWriter(res.Path)
	if err != nil {
		return Outcome{}, &TransientIOError{URL: res.URL, Err: err}
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		w.Abort()
		return Outcome{}, &TransientIOError{URL: res.URL, Err: err}
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		w.Abort()
		return Outcome{}, &TransientIOError{URL: res.URL, Err: fmt.Errorf("short body: %d of %d bytes", n, resp.ContentLength)}
	}
	if err := w.Commit(); err != nil {
		return Outcome{}, &TransientIOError{URL: res.URL, Err: err}
	}

	slog.Debug("download: done", slog.String("path", res.Path), slog.Int64("bytes", n))
	return Outcome{Path: res.Path}, nil
}

// FetchWithRetry runs Fetch under the fetcher's retry policy. NotFoundError
// and context cancellation stop immediately.
func (f *Fetcher) FetchWithRetry(ctx context.Context, res Resource) (Outcome, error) {
	out, err := engine.RetryDo(ctx, f.policy, "download", func() (Outcome, error) {
		o, err := f.Fetch(ctx, res)
		if err != nil && IsNotFound(err) {
			return o, engine.Permanent(err)
		}
		return o, err
	})
	Count(out, err)
	return out, err
}

// Count records the final result of a retried download. Skips are already
// counted by Fetch.
func Count(out Outcome, err error) {
	switch {
	case err == nil && out.Skipped:
	case err == nil:
		engine.IncrDownload("ok")
	case IsNotFound(err):
		engine.IncrDownload("not_found")
	default:
		engine.IncrDownload("failed")
	}
}
