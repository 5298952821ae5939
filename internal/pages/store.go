// Package pages materializes per-page content for a batch: the rendered page
// image and its text layer, read from a plan document on demand.
//
// Nothing is cached between calls. Each batch downloads and parses the whole
// document again so any batch can be retried or resumed in isolation.
package pages

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

// DocumentStore resolves a document reference to its bytes.
type DocumentStore interface {
	Download(ctx context.Context, ref string) ([]byte, error)
}

// FileStore reads documents from a local directory standing in for object
// storage. References are keys relative to Root, or file:// URLs.
type FileStore struct {
	Root string
}

// Download reads the document at ref.
func (s *FileStore) Download(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func (s *FileStore) resolve(ref string) (string, error) {
	if strings.HasPrefix(ref, "file://") {
		u, err := url.Parse(ref)
		if err != nil {
			return "", fmt.Errorf("invalid file url %q: %w", ref, err)
		}
		return u.Path, nil
	}
	if filepath.IsAbs(ref) {
		return ref, nil
	}
	key := filepath.Clean(ref)
	if key == "." || key == ".." || strings.HasPrefix(key, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("document key %q escapes the store root", ref)
	}
	return filepath.Join(s.Root, key), nil
}

// HTTPStore fetches documents from direct or signed URLs.
type HTTPStore struct {
	Client   *http.Client
	Attempts uint
	Delay    time.Duration
}

// NewHTTPStore creates an HTTPStore with a bounded client timeout.
func NewHTTPStore(timeout time.Duration) *HTTPStore {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &HTTPStore{
		Client:   &http.Client{Timeout: timeout},
		Attempts: 3,
		Delay:    500 * time.Millisecond,
	}
}

// Download GETs ref. Server errors and network failures are retried; 4xx
// responses are not.
func (s *HTTPStore) Download(ctx context.Context, ref string) ([]byte, error) {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	attempts := s.Attempts
	if attempts == 0 {
		attempts = 1
	}

	var data []byte
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				err := fmt.Errorf("GET %s: status %d", redact(ref), resp.StatusCode)
				if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
					return retry.Unrecoverable(err)
				}
				return err
			}
			data, err = io.ReadAll(resp.Body)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(s.Delay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// redact drops the query string, which carries signatures for signed URLs.
func redact(ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	u.RawQuery = ""
	return u.String()
}

// Router sends http(s) references to HTTP and everything else to Files.
type Router struct {
	Files *FileStore
	HTTP  *HTTPStore
}

// NewRouter creates a Router rooted at a documents directory.
func NewRouter(root string, httpTimeout time.Duration) *Router {
	return &Router{
		Files: &FileStore{Root: root},
		HTTP:  NewHTTPStore(httpTimeout),
	}
}

// Download implements DocumentStore.
func (r *Router) Download(ctx context.Context, ref string) ([]byte, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, errors.New("empty document reference")
	}
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return r.HTTP.Download(ctx, ref)
	}
	return r.Files.Download(ctx, ref)
}

var (
	_ DocumentStore = (*FileStore)(nil)
	_ DocumentStore = (*HTTPStore)(nil)
	_ DocumentStore = (*Router)(nil)
)
