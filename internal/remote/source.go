// Package remote fetches the directory record set from its upstream
// source.
//
// A source returns the full current record set in one call; there is no
// pagination, delta fetch, or retry policy here. Retries, if any, belong
// to the syncer. Failures are classified into two sentinel errors so the
// syncer can report them distinctly:
//
//	if errors.Is(err, remote.ErrNetwork) {
//	    // endpoint unreachable, timeout, or server-side failure
//	}
//	if errors.Is(err, remote.ErrFormat) {
//	    // payload received but unparsable
//	}
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/Sashemishi/userdir/internal/record"
)

var (
	// ErrNetwork is returned when the source cannot be reached or the
	// transfer fails before a usable payload arrives.
	ErrNetwork = errors.New("remote source unreachable")

	// ErrFormat is returned when a payload arrives but cannot be parsed
	// as a record array.
	ErrFormat = errors.New("malformed remote payload")
)

// Source fetches the full current record set.
type Source interface {
	// FetchAll returns every record the source currently holds.
	// Fails with ErrNetwork or ErrFormat (wrapped); no side effects
	// beyond the fetch itself.
	FetchAll(ctx context.Context) ([]record.RemoteRecord, error)
}

// HTTPSource fetches records from a single GET endpoint returning a JSON
// array of objects with fields id (integer), name, email, phone (strings).
type HTTPSource struct {
	url    string
	client *http.Client
}

// NewHTTPSource creates a source for the given endpoint URL.
//
// If client is nil, http.DefaultClient is used. No request timeout is
// imposed here; a hung fetch only delays freshness, it never blocks
// reads. Callers that want a deadline pass it through ctx.
func NewHTTPSource(url string, client *http.Client) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSource{url: url, client: client}
}

// FetchAll implements Source.
func (s *HTTPSource) FetchAll(ctx context.Context) ([]record.RemoteRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid request for %s: %v", ErrNetwork, s.url, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: server returned %s", ErrNetwork, resp.Status)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: unexpected status %s", ErrFormat, resp.Status)
	}

	var records []record.RemoteRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	return records, nil
}

// FileSource reads records from a local JSON snapshot file.
//
// It serves offline development and the serve daemon's watch mode, where
// fsnotify re-triggers a refresh whenever the snapshot changes. The error
// taxonomy matches HTTPSource: an unreadable file is ErrNetwork, an
// unparsable one is ErrFormat.
type FileSource struct {
	path string
}

// NewFileSource creates a source backed by the JSON file at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Path returns the snapshot file path.
func (s *FileSource) Path() string {
	return s.path
}

// FetchAll implements Source.
func (s *FileSource) FetchAll(ctx context.Context) ([]record.RemoteRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	var records []record.RemoteRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	return records, nil
}
