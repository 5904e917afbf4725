// Package fetcher downloads site resources and decides, against the
// processed file ledger, whether a document has changed since it was last
// ingested.
package fetcher

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"github.com/piculi-bot/piculi-engine/pkg/apperrors"
	"github.com/piculi-bot/piculi-engine/pkg/config"
)

// Outcome classifies a Fetch call.
type Outcome int

const (
	// Unchanged means the ledger already holds this content and its artifact exists.
	Unchanged Outcome = iota
	// Updated means the content is new or differs from the ledger.
	Updated
	// FetchFailed means the resource could not be retrieved this cycle.
	FetchFailed
)

func (o Outcome) String() string {
	switch o {
	case Unchanged:
		return "unchanged"
	case Updated:
		return "updated"
	case FetchFailed:
		return "fetch_failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Result is the outcome of one Fetch. Body and Hash are set unless the
// fetch failed, in which case Err is.
type Result struct {
	Outcome Outcome
	Body    []byte
	Hash    string
	Err     error
}

// HashLookup reads the last recorded content hash for a ledger key.
// It returns apperrors.ErrNotFound when the key has never been recorded.
type HashLookup interface {
	GetHash(ctx context.Context, filename string) (string, error)
}

// Fetcher performs GET requests against the university site.
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	ledger     HashLookup
	logger     *zap.Logger
}

// New creates a fetcher using the site's timeout and user agent.
func New(cfg config.SiteConfig, ledger HashLookup, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		userAgent:  cfg.UserAgent,
		ledger:     ledger,
		logger:     logger.Named("fetcher"),
	}
}

// Hash returns the lowercase hex MD5 of data, the ledger's content key.
func Hash(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// Fetch downloads url and compares it with the ledger entry for filename.
// The result is Unchanged only when the hashes match and artifactPath exists
// on disk; an empty artifactPath means no local copy is required.
// Fetch never writes to the ledger.
func (f *Fetcher) Fetch(ctx context.Context, url, filename, artifactPath string) Result {
	body, err := f.Get(ctx, url)
	if err != nil {
		return Result{Outcome: FetchFailed, Err: err}
	}

	hash := Hash(body)
	prev, err := f.ledger.GetHash(ctx, filename)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		prev = ""
	case err != nil:
		f.logger.Warn("Ledger lookup failed, treating as new",
			zap.String("filename", filename),
			zap.Error(err))
		prev = ""
	}

	if prev == hash && artifactExists(artifactPath) {
		return Result{Outcome: Unchanged, Body: body, Hash: hash}
	}
	return Result{Outcome: Updated, Body: body, Hash: hash}
}

// Get returns the body of a successful GET. Any status other than 200 is an error.
func (f *Fetcher) Get(ctx context.Context, url string) ([]byte, error) {
	resp, err := f.do(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", url, err)
	}
	return body, nil
}

// Text fetches an HTML page and decodes it to UTF-8 using the response's
// declared or sniffed charset.
func (f *Fetcher) Text(ctx context.Context, url string) (string, error) {
	resp, err := f.do(ctx, url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	r, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return "", fmt.Errorf("failed to detect charset of %s: %w", url, err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", fmt.Errorf("failed to read %s: %w", url, err)
	}
	return buf.String(), nil
}

// DecodeHTML wraps an already downloaded HTML body in a UTF-8 reader, using
// the charset declared in its meta tags.
func DecodeHTML(body []byte) (io.Reader, error) {
	r, err := charset.NewReader(bytes.NewReader(body), "text/html")
	if err != nil {
		return nil, fmt.Errorf("failed to detect charset: %w", err)
	}
	return r, nil
}

func (f *Fetcher) do(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s returned status %d", url, resp.StatusCode)
	}
	return resp, nil
}

func artifactExists(path string) bool {
	if path == "" {
		return true
	}
	_, err := os.Stat(path)
	return err == nil
}
