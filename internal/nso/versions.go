package nso

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Fallback client version strings, used when the live lookups fail or are
// disabled. Kept current with the upstream app releases.
const (
	FallbackAppVersion     = "3.2.0"
	FallbackWebViewVersion = "10.0.0-cba84fcd"
)

const versionTTL = 6 * time.Hour

// versionCache resolves and caches the NSO app version advertised by the
// signing service's config endpoint. Cached per Authenticator instance, not
// process wide, so independent credential sets and tests don't share state.
type versionCache struct {
	configURL  string
	httpClient *http.Client
	logger     *slog.Logger

	// Explicit overrides pin a version and disable the lookup.
	appOverride     string
	webViewOverride string

	mu         sync.Mutex
	appVersion string
	fetchedAt  time.Time
	now        func() time.Time
}

func newVersionCache(configURL string, httpClient *http.Client, logger *slog.Logger) *versionCache {
	return &versionCache{
		configURL:  configURL,
		httpClient: httpClient,
		logger:     logger,
		now:        time.Now,
	}
}

// AppVersion returns the NSO app version to advertise in coral headers.
// Failures fall back to FallbackAppVersion; a stale cache entry is reused.
func (v *versionCache) AppVersion(ctx context.Context) string {
	if v.appOverride != "" {
		return v.appOverride
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.appVersion != "" && v.now().Sub(v.fetchedAt) < versionTTL {
		return v.appVersion
	}

	ver, err := v.fetchAppVersion(ctx)
	if err != nil {
		v.logger.WarnContext(ctx, "nso app version lookup failed", "error", err)
		if v.appVersion != "" {
			return v.appVersion
		}
		return FallbackAppVersion
	}

	v.appVersion = ver
	v.fetchedAt = v.now()
	return ver
}

// WebViewVersion returns the SplatNet3 web view version for the
// X-Web-View-Ver header.
func (v *versionCache) WebViewVersion(ctx context.Context) string {
	if v.webViewOverride != "" {
		return v.webViewOverride
	}
	return FallbackWebViewVersion
}

func (v *versionCache) fetchAppVersion(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.configURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", signerUserAgent)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	var cfg struct {
		NSOVersion string `json:"nso_version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return "", err
	}
	if cfg.NSOVersion == "" {
		return "", errors.New("config response missing nso_version")
	}
	return cfg.NSOVersion, nil
}
