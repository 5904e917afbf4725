package fetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/piculi-bot/piculi-engine/pkg/apperrors"
	"github.com/piculi-bot/piculi-engine/pkg/config"
)

type fakeLedger struct {
	hashes map[string]string
	err    error
}

func (l *fakeLedger) GetHash(_ context.Context, filename string) (string, error) {
	if l.err != nil {
		return "", l.err
	}
	h, ok := l.hashes[filename]
	if !ok {
		return "", apperrors.ErrNotFound
	}
	return h, nil
}

func newTestFetcher(ledger HashLookup) *Fetcher {
	return New(config.SiteConfig{Timeout: 5 * time.Second, UserAgent: "piculi-test"}, ledger, zap.NewNop())
}

func newServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "piculi-test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=windows-1251")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHash(t *testing.T) {
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", Hash(nil))
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", Hash([]byte("abc")))
}

func TestFetch_NewDocumentIsUpdated(t *testing.T) {
	srv := newServer(t, "pdf-bytes")
	f := newTestFetcher(&fakeLedger{hashes: map[string]string{}})

	res := f.Fetch(context.Background(), srv.URL+"/a.pdf", "a.pdf", "")

	assert.Equal(t, Updated, res.Outcome)
	assert.Equal(t, []byte("pdf-bytes"), res.Body)
	assert.Equal(t, Hash([]byte("pdf-bytes")), res.Hash)
}

func TestFetch_SameHashAndArtifactIsUnchanged(t *testing.T) {
	srv := newServer(t, "pdf-bytes")
	artifact := filepath.Join(t.TempDir(), "a.pdf")
	require.NoError(t, os.WriteFile(artifact, []byte("pdf-bytes"), 0o644))

	f := newTestFetcher(&fakeLedger{hashes: map[string]string{"a.pdf": Hash([]byte("pdf-bytes"))}})

	res := f.Fetch(context.Background(), srv.URL+"/a.pdf", "a.pdf", artifact)

	assert.Equal(t, Unchanged, res.Outcome)
	assert.Equal(t, []byte("pdf-bytes"), res.Body)
}

func TestFetch_MissingArtifactIsUpdated(t *testing.T) {
	srv := newServer(t, "pdf-bytes")
	f := newTestFetcher(&fakeLedger{hashes: map[string]string{"a.pdf": Hash([]byte("pdf-bytes"))}})

	res := f.Fetch(context.Background(), srv.URL+"/a.pdf", "a.pdf", filepath.Join(t.TempDir(), "gone.pdf"))

	assert.Equal(t, Updated, res.Outcome)
}

func TestFetch_ChangedHashIsUpdated(t *testing.T) {
	srv := newServer(t, "new-bytes")
	f := newTestFetcher(&fakeLedger{hashes: map[string]string{"r.html": Hash([]byte("old-bytes"))}})

	res := f.Fetch(context.Background(), srv.URL+"/r.html", "r.html", "")

	assert.Equal(t, Updated, res.Outcome)
	assert.Equal(t, Hash([]byte("new-bytes")), res.Hash)
}

func TestFetch_LedgerErrorIsTreatedAsNew(t *testing.T) {
	srv := newServer(t, "pdf-bytes")
	f := newTestFetcher(&fakeLedger{err: errors.New("connection refused")})

	res := f.Fetch(context.Background(), srv.URL+"/a.pdf", "a.pdf", "")

	assert.Equal(t, Updated, res.Outcome)
}

func TestFetch_Non200IsFailure(t *testing.T) {
	srv := newServer(t, "")
	f := newTestFetcher(&fakeLedger{})

	res := f.Fetch(context.Background(), srv.URL+"/missing", "missing", "")

	assert.Equal(t, FetchFailed, res.Outcome)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "404")
}

func TestFetch_ConnectionErrorIsFailure(t *testing.T) {
	srv := newServer(t, "")
	url := srv.URL
	srv.Close()

	res := newTestFetcher(&fakeLedger{}).Fetch(context.Background(), url+"/a.pdf", "a.pdf", "")

	assert.Equal(t, FetchFailed, res.Outcome)
	assert.Error(t, res.Err)
}

func TestText_DecodesDeclaredCharset(t *testing.T) {
	// "Пн" in windows-1251
	srv := newServer(t, "<p>\xcf\xed</p>")
	f := newTestFetcher(&fakeLedger{})

	text, err := f.Text(context.Background(), srv.URL+"/index.html")

	require.NoError(t, err)
	assert.Equal(t, "<p>Пн</p>", text)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "unchanged", Unchanged.String())
	assert.Equal(t, "updated", Updated.String())
	assert.Equal(t, "fetch_failed", FetchFailed.String())
}

func TestDecodeHTML_UsesMetaCharset(t *testing.T) {
	body := []byte(`<html><head><meta charset="windows-1251"></head><body>` + "\xcf\xe0\xf0\xe0" + `</body></html>`)

	r, err := DecodeHTML(body)
	require.NoError(t, err)

	decoded, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Contains(t, string(decoded), "Пара")
}
