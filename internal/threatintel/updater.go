package threatintel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/logging"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scanner"
)

var ErrDisabled = errors.New("threat feed updates are disabled")

type SourceConfig struct {
	ID       string           `json:"id"`
	URL      string           `json:"url"`
	Format   Format           `json:"format"`
	Severity scanner.Severity `json:"severity"`
	// SignatureURL points at a detached OpenPGP signature of the feed.
	SignatureURL string `json:"signature_url,omitempty"`
}

type Config struct {
	Enabled           bool
	Sources           []SourceConfig
	CacheDir          string
	AirgapImportPath  string
	KeyringPath       string
	RequireSignatures bool
	Concurrency       int
	Timeout           time.Duration
	UserAgent         string
}

// Updater refreshes the indicator index from configured feeds. A source that
// fails keeps its last persisted indicators, so a feed outage never empties
// the gate.
type Updater struct {
	cfg     Config
	index   *Index
	store   *Store
	logger  *logging.Logger
	client  *http.Client
	cfgMu   sync.RWMutex
	mu      sync.Mutex
	nextRun func() time.Time
}

func NewUpdater(cfg Config, index *Index, store *Store, logger *logging.Logger) *Updater {
	return &Updater{
		cfg:    cfg,
		index:  index,
		store:  store,
		logger: logger,
		client: &http.Client{Timeout: 2 * time.Minute},
	}
}

// SetNextRun lets the scheduler report when the next refresh is due.
func (u *Updater) SetNextRun(fn func() time.Time) {
	u.cfgMu.Lock()
	u.nextRun = fn
	u.cfgMu.Unlock()
}

// Bootstrap loads persisted indicators into the index.
func (u *Updater) Bootstrap() (int, error) {
	if u.store == nil {
		return 0, nil
	}
	persisted, err := u.store.LoadIndicators()
	if err != nil {
		return 0, err
	}
	var all []Indicator
	for _, list := range persisted {
		all = append(all, list...)
	}
	u.index.Replace(all)
	return u.index.Len(), nil
}

func (u *Updater) Trigger(ctx context.Context) (Status, error) {
	if !u.getConfig().Enabled {
		return Status{}, ErrDisabled
	}
	return u.Run(ctx)
}

func (u *Updater) Status() (Status, error) {
	if u.store == nil {
		return Status{Sources: map[string]SourceStatus{}, Indicators: u.index.Len()}, nil
	}
	status, err := u.store.LoadStatus()
	if err != nil {
		return Status{}, err
	}
	status.Indicators = u.index.Len()
	return status, nil
}

// Run refreshes every source once. Runs are serialised.
func (u *Updater) Run(ctx context.Context) (Status, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	cfg := u.getConfig()
	status := Status{
		LastRun:          time.Now().UTC(),
		Sources:          map[string]SourceStatus{},
		AirgapMode:       cfg.AirgapImportPath != "",
		AirgapImportPath: cfg.AirgapImportPath,
	}
	u.cfgMu.RLock()
	next := u.nextRun
	u.cfgMu.RUnlock()
	if next != nil {
		status.NextRun = next()
	}

	var verifier *Verifier
	if cfg.KeyringPath != "" {
		v, err := LoadKeyring(cfg.KeyringPath)
		if err != nil {
			return status, err
		}
		verifier = v
	}

	if cfg.AirgapImportPath != "" {
		if err := importAirgap(cfg.AirgapImportPath, cfg.CacheDir); err != nil {
			status.Sources["airgap"] = SourceStatus{Source: "airgap", Error: err.Error()}
			u.saveStatus(status)
			return status, fmt.Errorf("airgap import: %w", err)
		}
	}

	type fetched struct {
		status     SourceStatus
		indicators []Indicator
		ok         bool
	}
	results := make([]fetched, len(cfg.Sources))
	g, gctx := errgroup.WithContext(ctx)
	limit := cfg.Concurrency
	if limit <= 0 {
		limit = 4
	}
	g.SetLimit(limit)
	for i, src := range cfg.Sources {
		i, src := i, src
		g.Go(func() error {
			st, inds, err := u.refreshSource(gctx, cfg, src, verifier)
			if err != nil {
				st.Error = err.Error()
				u.logger.Warn("threat feed update failed", logging.F("source", src.ID), logging.F("error", err))
			} else {
				u.logger.Info("threat feed updated", logging.F("source", src.ID), logging.F("indicators", len(inds)))
			}
			results[i] = fetched{status: st, indicators: inds, ok: err == nil}
			// Source failures are recorded, never propagated.
			return nil
		})
	}
	_ = g.Wait()

	persisted := map[string][]Indicator{}
	if u.store != nil {
		if p, err := u.store.LoadIndicators(); err == nil {
			persisted = p
		}
	}
	var all []Indicator
	for i, src := range cfg.Sources {
		r := results[i]
		status.Sources[src.ID] = r.status
		if r.ok {
			if u.store != nil {
				if err := u.store.SaveIndicators(src.ID, r.indicators); err != nil {
					u.logger.Warn("persist indicators failed", logging.F("source", src.ID), logging.F("error", err))
				}
			}
			all = append(all, r.indicators...)
			continue
		}
		all = append(all, persisted[src.ID]...)
	}
	u.index.Replace(all)
	status.Indicators = u.index.Len()
	u.saveStatus(status)
	return status, nil
}

func (u *Updater) refreshSource(ctx context.Context, cfg Config, src SourceConfig, verifier *Verifier) (SourceStatus, []Indicator, error) {
	st := SourceStatus{Source: src.ID, URL: src.URL}
	start := time.Now()
	if src.ID == "" {
		return st, nil, fmt.Errorf("source id is required")
	}

	var (
		data, sig []byte
		err       error
	)
	if cfg.AirgapImportPath != "" {
		st.Path, data, sig, err = readBundled(cfg.CacheDir, src.ID)
	} else {
		st.Path, data, err = u.download(ctx, cfg, src.URL, filepath.Join(cfg.CacheDir, src.ID))
		if err == nil && src.SignatureURL != "" {
			_, sig, err = u.download(ctx, cfg, src.SignatureURL, filepath.Join(cfg.CacheDir, src.ID))
		}
	}
	if err != nil {
		return st, nil, err
	}
	st.Bytes = int64(len(data))

	switch {
	case sig != nil && verifier != nil:
		if err := verifier.Verify(data, sig); err != nil {
			return st, nil, err
		}
		st.Verified = true
	case cfg.RequireSignatures:
		return st, nil, fmt.Errorf("%w: no signature or keyring for %s", ErrBadSignature, src.ID)
	}

	format := src.Format
	if format == "" && strings.HasSuffix(strings.ToLower(st.Path), ".csv") {
		format = FormatCSV
	}
	inds, err := ParseFeed(strings.NewReader(string(data)), format, src.ID, src.Severity)
	if err != nil {
		return st, nil, err
	}
	st.Indicators = len(inds)
	st.UpdatedAt = time.Now().UTC()
	st.Duration = time.Since(start).String()
	return st, inds, nil
}

// download fetches rawURL into destDir and returns the saved path and bytes.
// file:// URLs are read in place.
func (u *Updater) download(ctx context.Context, cfg Config, rawURL, destDir string) (string, []byte, error) {
	if rawURL == "" {
		return "", nil, fmt.Errorf("no URL configured")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", nil, fmt.Errorf("parse feed url: %w", err)
	}
	if parsed.Scheme == "file" {
		data, err := os.ReadFile(parsed.Path)
		return parsed.Path, data, err
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return "", nil, fmt.Errorf("create dest dir: %w", err)
	}
	filename := filenameForURL(rawURL)
	if filename == "" {
		filename = "latest.data"
	}
	dest := filepath.Join(destDir, filename)
	tmp, err := os.CreateTemp(destDir, "download-*")
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", nil, fmt.Errorf("build request: %w", err)
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "elara-threatintel/1.0"
	}
	req.Header.Set("User-Agent", ua)
	resp, err := u.client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("download status %d", resp.StatusCode)
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return "", nil, fmt.Errorf("write download: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", nil, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", nil, fmt.Errorf("rename download: %w", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		return "", nil, err
	}
	return dest, data, nil
}

// readBundled finds "<id>.*" in an unpacked airgap bundle, plus an optional
// "<file>.sig" or "<file>.asc" signature next to it.
func readBundled(dir, id string) (string, []byte, []byte, error) {
	matches, err := filepath.Glob(filepath.Join(dir, id+".*"))
	if err != nil {
		return "", nil, nil, err
	}
	for _, m := range matches {
		if strings.HasSuffix(m, ".sig") || strings.HasSuffix(m, ".asc") {
			continue
		}
		data, err := os.ReadFile(m)
		if err != nil {
			return m, nil, nil, err
		}
		var sig []byte
		for _, ext := range []string{".sig", ".asc"} {
			if s, err := os.ReadFile(m + ext); err == nil {
				sig = s
				break
			}
		}
		return m, data, sig, nil
	}
	return "", nil, nil, fmt.Errorf("source %s not found in airgap bundle", id)
}

func (u *Updater) saveStatus(status Status) {
	if u.store == nil {
		return
	}
	if err := u.store.SaveStatus(status); err != nil {
		u.logger.Warn("save feed status failed", logging.F("error", err))
	}
}

func (u *Updater) UpdateConfig(cfg Config) {
	u.cfgMu.Lock()
	u.cfg = cfg
	u.cfgMu.Unlock()
}

func (u *Updater) getConfig() Config {
	u.cfgMu.RLock()
	defer u.cfgMu.RUnlock()
	cfg := u.cfg
	cfg.Sources = append([]SourceConfig{}, cfg.Sources...)
	return cfg
}

func filenameForURL(raw string) string {
	base := strings.TrimSpace(path.Base(strings.Split(raw, "?")[0]))
	if base == "." || base == "/" || base == "" {
		return ""
	}
	return base
}
