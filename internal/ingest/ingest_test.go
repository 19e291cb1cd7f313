package ingest_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kgraph/internal/config"
	"kgraph/internal/domain"
	"kgraph/internal/ingest"
	"kgraph/internal/kgerrors"
)

func testConfig() config.Ingest {
	return config.Ingest{
		TargetWords:      1000,
		OverlapWords:     200,
		MaxUploadBytes:   1 << 20,
		URLFetchTimeout:  5 * time.Second,
		URLMaxBytes:      1 << 20,
		AllowPrivateURLs: true,
	}
}

func newIntake(t *testing.T, cfg config.Ingest) (*ingest.Intake, *ingest.ObjectStore) {
	t.Helper()
	objects, err := ingest.NewObjectStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	fetcher := ingest.NewFetcher(cfg, zap.NewNop())
	return ingest.NewIntake(cfg, objects, fetcher, zap.NewNop()), objects
}

var pngBytes = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00, 0x00, 0x0D}

func TestTextNormalizesBeforeHashing(t *testing.T) {
	in, objects := newIntake(t, testConfig())

	crlf, err := in.Text("# Title\r\n\r\nBody text.", "a.md", "notes")
	require.NoError(t, err)
	lf, err := in.Text("# Title\n\nBody text.", "b.md", "notes")
	require.NoError(t, err)

	assert.Equal(t, crlf.Document.ContentHash, lf.Document.ContentHash)
	assert.Equal(t, crlf.Document.ID, lf.Document.ID)
	assert.Equal(t, domain.ContentTypeText, crlf.Document.ContentType)
	assert.Equal(t, "text/markdown", crlf.Document.MimeType)

	stored, err := objects.Get(crlf.Document.ObjectKey)
	require.NoError(t, err)
	assert.Equal(t, crlf.Text, string(stored))
}

func TestTextRejectsEmptyAndOversized(t *testing.T) {
	in, _ := newIntake(t, testConfig())

	_, err := in.Text("   \n  ", "x.md", "notes")
	assert.Equal(t, kgerrors.KindValidation, kgerrors.KindOf(err))

	small := testConfig()
	small.MaxUploadBytes = 16
	in2, _ := newIntake(t, small)
	_, err = in2.Text(strings.Repeat("word ", 100), "x.md", "notes")
	assert.Equal(t, kgerrors.KindValidation, kgerrors.KindOf(err))
}

func TestTextRequiresOntology(t *testing.T) {
	in, _ := newIntake(t, testConfig())
	_, err := in.Text("content", "x.md", "  ")
	assert.Equal(t, kgerrors.KindValidation, kgerrors.KindOf(err))
}

func TestFileRoutesByExtension(t *testing.T) {
	in, objects := newIntake(t, testConfig())

	text, err := in.File("notes.md", []byte("# Heading\n\nSome prose."), "notes")
	require.NoError(t, err)
	assert.Equal(t, domain.ContentTypeText, text.Document.ContentType)

	img, err := in.File("scan.png", pngBytes, "notes")
	require.NoError(t, err)
	assert.Equal(t, domain.ContentTypeImage, img.Document.ContentType)
	assert.Equal(t, "image/png", img.Document.MimeType)
	assert.True(t, strings.HasSuffix(img.Document.ObjectKey, ".png"))
	assert.Equal(t, pngBytes, img.Image)

	stored, err := objects.Get(img.Document.ObjectKey)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, stored)
}

func TestFileRejectsUnknownBinary(t *testing.T) {
	in, _ := newIntake(t, testConfig())
	_, err := in.File("blob.xyz", []byte{0x00, 0x01, 0x02, 0xff}, "notes")
	assert.Equal(t, kgerrors.KindValidation, kgerrors.KindOf(err))
}

func TestObjectStoreRoundTrip(t *testing.T) {
	objects, err := ingest.NewObjectStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, objects.Put("objects/x.bin", []byte("payload")))
	data, err := objects.Get("objects/x.bin")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	require.NoError(t, objects.Delete("objects/x.bin"))
	_, err = objects.Get("objects/x.bin")
	assert.Equal(t, kgerrors.KindNotFound, kgerrors.KindOf(err))

	// deleting again is fine
	require.NoError(t, objects.Delete("objects/x.bin"))
}

func TestObjectStoreRejectsEscapingKeys(t *testing.T) {
	objects, err := ingest.NewObjectStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	for _, key := range []string{"../evil", "/etc/passwd", "a/../../b", "."} {
		err := objects.Put(key, []byte("x"))
		assert.Equal(t, kgerrors.KindValidation, kgerrors.KindOf(err), "key %q", key)
	}
}

const articleHTML = `<!DOCTYPE html>
<html><head><title>My Test Page</title></head>
<body>
<nav>Home | About | Contact</nav>
<article>
<h1>Sleep and Memory</h1>
<p>Sleep deprivation impairs hippocampal function and reduces the brain's
capacity to consolidate memories acquired during the day. Studies with
restricted sleep schedules consistently show degraded recall performance
on both declarative and procedural tasks.</p>
<p>Cortisol elevation during extended wakefulness further suppresses
neurogenesis in the dentate gyrus, compounding the memory deficit over
successive nights of restriction and recovery cycles.</p>
<p>Conversely, slow-wave sleep appears to actively replay and strengthen
recently formed memory traces, transferring them toward neocortical
long-term storage through coordinated oscillations.</p>
</article>
</body></html>`

func TestURLIngestsReadableArticle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer server.Close()

	in, _ := newIntake(t, testConfig())
	sub, err := in.URL(context.Background(), server.URL, "web")
	require.NoError(t, err)

	assert.Equal(t, domain.ContentTypeText, sub.Document.ContentType)
	assert.Equal(t, server.URL, sub.Document.SourceURL)
	assert.Equal(t, "my-test-page.md", sub.Document.Filename)
	assert.Contains(t, sub.Text, "hippocampal")
}

func TestURLPlainTextPassesThrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("Plain notes about sleep.\n\nSecond paragraph."))
	}))
	defer server.Close()

	in, _ := newIntake(t, testConfig())
	sub, err := in.URL(context.Background(), server.URL, "web")
	require.NoError(t, err)
	assert.Contains(t, sub.Text, "Plain notes")
}

func TestFetchRejectsPrivateAddressByDefault(t *testing.T) {
	cfg := testConfig()
	cfg.AllowPrivateURLs = false
	fetcher := ingest.NewFetcher(cfg, zap.NewNop())

	_, err := fetcher.Fetch(context.Background(), "http://127.0.0.1:9/x")
	assert.Equal(t, kgerrors.KindValidation, kgerrors.KindOf(err))

	_, err = fetcher.Fetch(context.Background(), "ftp://example.com/file")
	assert.Equal(t, kgerrors.KindValidation, kgerrors.KindOf(err))
}

func TestFetchEnforcesSizeLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(strings.Repeat("x", 512)))
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.URLMaxBytes = 64
	fetcher := ingest.NewFetcher(cfg, zap.NewNop())

	_, err := fetcher.Fetch(context.Background(), server.URL)
	assert.Equal(t, kgerrors.KindValidation, kgerrors.KindOf(err))
}

func TestFetchSurfacesHTTPStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	fetcher := ingest.NewFetcher(testConfig(), zap.NewNop())
	_, err := fetcher.Fetch(context.Background(), server.URL)
	require.Error(t, err)
	assert.Equal(t, kgerrors.KindProvider, kgerrors.KindOf(err))
	assert.False(t, kgerrors.IsRetryable(err))
}
