package threatintel

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/logging"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scanner"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/storage"
)

func mustURL(t *testing.T, raw string) *scanner.Artifact {
	t.Helper()
	a, err := scanner.NewURLArtifact(raw)
	require.NoError(t, err)
	return a
}

func TestIndexMatchesParentDomains(t *testing.T) {
	idx := NewIndex()
	idx.Replace([]Indicator{
		{Type: TypeDomain, Value: "Evil.Example.", Severity: scanner.SeverityHigh, Source: "a"},
		{Type: TypeDomain, Value: "evil.example", Severity: scanner.SeverityMedium, Source: "b"},
		{Type: TypeIP, Value: "203.0.113.9", Severity: scanner.SeverityCritical, Source: "a"},
	})
	assert.Equal(t, 2, idx.Len())

	m, err := idx.Check(context.Background(), mustURL(t, "https://login.evil.example/account"))
	require.NoError(t, err)
	require.True(t, m.IsThreat)
	assert.Equal(t, scanner.SeverityHigh, m.MaxSeverity)
	assert.Equal(t, "a", m.Indicators[0].Source)

	m, err = idx.Check(context.Background(), mustURL(t, "http://203.0.113.9/x"))
	require.NoError(t, err)
	assert.Equal(t, scanner.SeverityCritical, m.MaxSeverity)

	m, err = idx.Check(context.Background(), mustURL(t, "https://example.org"))
	require.NoError(t, err)
	assert.False(t, m.IsThreat)
	assert.Equal(t, scanner.SeverityInfo, m.MaxSeverity)
}

func TestIndexChecksFileDigestAndEmbeddedURLs(t *testing.T) {
	file, err := scanner.NewFileArtifact("note.txt", "text/plain", []byte("hello"))
	require.NoError(t, err)
	file.Text = "please visit https://drop.bad.test/pay, today."

	idx := NewIndex()
	idx.Add(
		Indicator{Type: TypeSHA256, Value: strings.ToUpper(file.File.SHA256), Severity: scanner.SeverityLow},
		Indicator{Type: TypeURL, Value: "HTTPS://DROP.BAD.TEST/pay", Severity: scanner.SeverityCritical},
	)

	m, err := idx.Check(context.Background(), file)
	require.NoError(t, err)
	require.Len(t, m.Indicators, 2)
	assert.Equal(t, scanner.SeverityCritical, m.MaxSeverity)
	assert.Equal(t, TypeURL, m.Indicators[0].Type)
}

func TestIndexCheckHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewIndex().Check(ctx, mustURL(t, "https://example.com"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseFeedLines(t *testing.T) {
	feed := `# comment
0.0.0.0 ads.bad.test
phish.bad.test # inline
https://bad.test/login
198.51.100.7
not-an-indicator
` + strings.Repeat("a", 64) + "\n"
	inds, err := ParseFeed(strings.NewReader(feed), FormatLines, "list", "bogus")
	require.NoError(t, err)
	require.Len(t, inds, 5)
	assert.Equal(t, Indicator{Type: TypeDomain, Value: "ads.bad.test", Severity: scanner.SeverityHigh, Source: "list"}, inds[0])
	assert.Equal(t, TypeURL, inds[2].Type)
	assert.Equal(t, TypeIP, inds[3].Type)
	assert.Equal(t, TypeSHA256, inds[4].Type)
}

func TestParseFeedCSV(t *testing.T) {
	feed := "type,value,severity\ndomain,a.bad.test,critical\n,b.bad.test,\nurl,,low\n"
	inds, err := ParseFeed(strings.NewReader(feed), FormatCSV, "csv", scanner.SeverityMedium)
	require.NoError(t, err)
	require.Len(t, inds, 2)
	assert.Equal(t, scanner.SeverityCritical, inds[0].Severity)
	assert.Equal(t, TypeDomain, inds[1].Type)
	assert.Equal(t, scanner.SeverityMedium, inds[1].Severity)

	_, err = ParseFeed(strings.NewReader("type,indicator\n"), FormatCSV, "csv", scanner.SeverityLow)
	assert.Error(t, err)
	_, err = ParseFeed(strings.NewReader(""), "xml", "x", scanner.SeverityLow)
	assert.Error(t, err)
}

type signer struct {
	entity  *openpgp.Entity
	keyring []byte
}

func newSigner(t *testing.T) signer {
	t.Helper()
	entity, err := openpgp.NewEntity("feeds", "", "feeds@example.test", nil)
	require.NoError(t, err)
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, entity.Serialize(w))
	require.NoError(t, w.Close())
	return signer{entity: entity, keyring: buf.Bytes()}
}

func (s signer) sign(t *testing.T, data []byte) []byte {
	t.Helper()
	var sig bytes.Buffer
	require.NoError(t, openpgp.ArmoredDetachSign(&sig, s.entity, bytes.NewReader(data), nil))
	return sig.Bytes()
}

func TestVerifierDetachedSignature(t *testing.T) {
	s := newSigner(t)
	v, err := NewVerifier(s.keyring)
	require.NoError(t, err)

	data := []byte("bad.test\n")
	require.NoError(t, v.Verify(data, s.sign(t, data)))
	assert.ErrorIs(t, v.Verify([]byte("tampered\n"), s.sign(t, data)), ErrBadSignature)

	_, err = NewVerifier([]byte("not a key"))
	assert.Error(t, err)
}

func newTestUpdater(t *testing.T, cfg Config) (*Updater, *Index, *Store) {
	t.Helper()
	db, err := storage.NewInMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	if cfg.CacheDir == "" {
		cfg.CacheDir = t.TempDir()
	}
	idx := NewIndex()
	store := NewStore(db)
	return NewUpdater(cfg, idx, store, logging.Discard()), idx, store
}

func TestUpdaterDownloadsAndVerifies(t *testing.T) {
	s := newSigner(t)
	feed := []byte("phish.bad.test\n")
	sig := s.sign(t, feed)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/feed.txt":
			_, _ = w.Write(feed)
		case "/feed.txt.asc":
			_, _ = w.Write(sig)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	keyPath := filepath.Join(t.TempDir(), "keyring.asc")
	require.NoError(t, os.WriteFile(keyPath, s.keyring, 0o600))

	u, idx, store := newTestUpdater(t, Config{
		Enabled:     true,
		KeyringPath: keyPath,
		Sources: []SourceConfig{
			{ID: "signed", URL: srv.URL + "/feed.txt", SignatureURL: srv.URL + "/feed.txt.asc", Severity: scanner.SeverityCritical},
			{ID: "broken", URL: srv.URL + "/missing.txt"},
		},
	})

	status, err := u.Trigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, status.Indicators)
	assert.True(t, status.Sources["signed"].Verified)
	assert.NotEmpty(t, status.Sources["broken"].Error)
	assert.EqualValues(t, 3, hits.Load())

	m, err := idx.Check(context.Background(), mustURL(t, "https://phish.bad.test"))
	require.NoError(t, err)
	assert.Equal(t, scanner.SeverityCritical, m.MaxSeverity)

	persisted, err := store.LoadStatus()
	require.NoError(t, err)
	assert.Equal(t, 1, persisted.Indicators)
}

func TestUpdaterKeepsLastGoodIndicatorsOnFailure(t *testing.T) {
	dir := t.TempDir()
	feedPath := filepath.Join(dir, "list.txt")
	require.NoError(t, os.WriteFile(feedPath, []byte("one.bad.test\n"), 0o600))

	u, idx, _ := newTestUpdater(t, Config{
		Enabled: true,
		Sources: []SourceConfig{{ID: "local", URL: "file://" + feedPath}},
	})
	_, err := u.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, idx.Len())

	require.NoError(t, os.Remove(feedPath))
	status, err := u.Run(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, status.Sources["local"].Error)
	assert.Equal(t, 1, idx.Len())

	// A fresh index recovers the persisted set.
	u.index = NewIndex()
	n, err := u.Bootstrap()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpdaterRequiresSignatures(t *testing.T) {
	dir := t.TempDir()
	feedPath := filepath.Join(dir, "list.txt")
	require.NoError(t, os.WriteFile(feedPath, []byte("one.bad.test\n"), 0o600))

	u, idx, _ := newTestUpdater(t, Config{
		Enabled:           true,
		RequireSignatures: true,
		Sources:           []SourceConfig{{ID: "local", URL: "file://" + feedPath}},
	})
	status, err := u.Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, status.Sources["local"].Error, "signature")
	assert.Equal(t, 0, idx.Len())
}

func TestUpdaterAirgapBundle(t *testing.T) {
	s := newSigner(t)
	bundle := t.TempDir()
	data := []byte("type,value,severity\ndomain,air.bad.test,high\n")
	require.NoError(t, os.WriteFile(filepath.Join(bundle, "offline.csv"), data, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(bundle, "offline.csv.asc"), s.sign(t, data), 0o600))
	keyPath := filepath.Join(t.TempDir(), "keyring.asc")
	require.NoError(t, os.WriteFile(keyPath, s.keyring, 0o600))

	u, idx, _ := newTestUpdater(t, Config{
		Enabled:           true,
		AirgapImportPath:  bundle,
		KeyringPath:       keyPath,
		RequireSignatures: true,
		Sources:           []SourceConfig{{ID: "offline", URL: "https://unused.example/feed.csv"}},
	})
	status, err := u.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, status.AirgapMode)
	assert.True(t, status.Sources["offline"].Verified)
	assert.Equal(t, 1, idx.Len())
}

func TestUpdaterDisabled(t *testing.T) {
	u, _, _ := newTestUpdater(t, Config{})
	_, err := u.Trigger(context.Background())
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestSafeExtractPathRejectsTraversal(t *testing.T) {
	dest := t.TempDir()
	_, err := safeExtractPath(dest, "../escape.txt")
	assert.Error(t, err)
	p, err := safeExtractPath(dest, "feeds/list.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "feeds", "list.txt"), p)
}
