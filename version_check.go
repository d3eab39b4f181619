package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-reporter/internal/types"
	"github.com/oszuidwest/zwfm-reporter/internal/util"
	"golang.org/x/mod/semver"
)

const (
	githubRepo = "oszuidwest/zwfm-reporter"

	releasePollInterval = 24 * time.Hour
	releasePollDelay    = 30 * time.Second // first poll waits out the bring-up
	releasePollTimeout  = 30 * time.Second
	releasePollRetries  = 3
	releaseRetryDelay   = 1 * time.Minute
)

// VersionChecker polls GitHub releases and reports whether a newer build
// exists. Safe for concurrent use.
type VersionChecker struct {
	mu     sync.RWMutex
	latest string
	etag   string // conditional requests, 304 keeps the cached answer
	stopCh chan struct{}
}

// NewVersionChecker starts the daily release poll in the background.
func NewVersionChecker() *VersionChecker {
	c := &VersionChecker{stopCh: make(chan struct{})}
	go c.poll()
	return c
}

// Stop ends the poll goroutine.
func (c *VersionChecker) Stop() {
	close(c.stopCh)
}

func (c *VersionChecker) poll() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in version checker", "panic", r)
		}
	}()

	select {
	case <-time.After(releasePollDelay):
	case <-c.stopCh:
		return
	}
	c.checkWithRetry()

	ticker := time.NewTicker(releasePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.checkWithRetry()
		case <-c.stopCh:
			return
		}
	}
}

func (c *VersionChecker) checkWithRetry() {
	for attempt := range releasePollRetries {
		if c.check() {
			return
		}
		if attempt == releasePollRetries-1 {
			return
		}
		select {
		case <-time.After(releaseRetryDelay):
		case <-c.stopCh:
			return
		}
	}
}

// githubRelease is the subset of the releases API response we read.
type githubRelease struct {
	TagName    string `json:"tag_name"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
}

// check fetches the latest release. Returns true when the cycle is done,
// false when the caller should retry (network failure, rate limit, 5xx).
func (c *VersionChecker) check() bool {
	ctx, cancel := context.WithTimeoutCause(
		context.Background(),
		releasePollTimeout,
		errors.New("github API request timeout"),
	)
	defer cancel()

	url := "https://api.github.com/repos/" + githubRepo + "/releases/latest"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return false
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "zwfm-reporter/"+Version)

	c.mu.RLock()
	etag := c.etag
	c.mu.RUnlock()
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to the decode below
	case resp.StatusCode == http.StatusNotModified:
		return true
	case resp.StatusCode == http.StatusNotFound:
		// No releases published yet.
		return true
	case resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return false
	default:
		// Other client errors will not improve with a retry.
		return true
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return false
	}
	if release.Draft || release.Prerelease {
		return true
	}
	if release.TagName == "" {
		return false
	}

	c.mu.Lock()
	c.latest = strings.TrimPrefix(strings.TrimSpace(release.TagName), "v")
	if newEtag := resp.Header.Get("ETag"); newEtag != "" {
		c.etag = newEtag
	}
	c.mu.Unlock()

	return true
}

// Info returns the version information shown in the status page.
func (c *VersionChecker) Info() types.VersionInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	current := strings.TrimPrefix(strings.TrimSpace(Version), "v")
	info := types.VersionInfo{
		Current:   current,
		Latest:    c.latest,
		Commit:    Commit,
		BuildTime: util.FormatHumanTime(BuildTime),
	}
	if c.latest != "" && current != "dev" && current != "unknown" {
		info.UpdateAvail = semver.Compare("v"+c.latest, "v"+current) > 0
	}
	return info
}
