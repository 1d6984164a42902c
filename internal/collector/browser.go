// Copyright (c) 2025 Fleetwatch
// SPDX-License-Identifier: MIT

package collector

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/fleetwatch/agent/internal/event"
	"github.com/fleetwatch/agent/internal/log"
	"github.com/fleetwatch/agent/internal/policy"
)

const (
	browserRiskHigh     = 88.0
	browserRiskBase     = 2.0
	browserBlockAt      = 85.0
	chromiumEpochOffset = 11_644_473_600_000_000 // µs between 1601-01-01 and 1970-01-01
	chromiumVisitQuery  = "SELECT url, title, visit_count, last_visit_time FROM urls WHERE last_visit_time > ? ORDER BY last_visit_time ASC LIMIT 50"
	firefoxVisitQuery   = "SELECT url, title, visit_count, last_visit_date FROM moz_places WHERE last_visit_date IS NOT NULL AND last_visit_date > ? ORDER BY last_visit_date ASC LIMIT 50"
)

var suspiciousURLTokens = []string{"phish", "malware", "stealer", "credential", "free-crypto", ".ru/login"}

// defaultBrowsers is scanned when the policy does not name any.
var defaultBrowsers = []string{"chrome", "edge", "firefox"}

// BrowserHistory tails each configured browser's history database. The live
// database is usually locked by the browser, so every pass copies it to a
// scratch file first. A per-browser watermark of the highest raw visit
// timestamp keeps passes incremental; one broken browser never spoils the
// others.
type BrowserHistory struct {
	computerID int64
	userID     *int64
	logger     zerolog.Logger

	historyPath func(browser string) string
	lastSeen    map[string]int64
}

func NewBrowserHistory(computerID int64, userID *int64) *BrowserHistory {
	return &BrowserHistory{
		computerID:  computerID,
		userID:      userID,
		logger:      log.WithComponent("collector").With().Str(log.FieldCollector, "browser_history").Logger(),
		historyPath: defaultHistoryPath,
		lastSeen:    map[string]int64{},
	}
}

func (c *BrowserHistory) Name() string { return "browser_history" }

func (c *BrowserHistory) Collect(ctx context.Context, pol policy.Policy) ([]event.ActivityEvent, error) {
	if !pol.Bool(policy.KeyEnableBrowser, true) {
		return nil, nil
	}

	browsers := pol.Strings(policy.KeyBrowsers)
	if len(browsers) == 0 {
		browsers = defaultBrowsers
	}

	var events []event.ActivityEvent
	for _, browser := range browsers {
		browser = strings.ToLower(browser)
		collected, err := c.collectBrowser(ctx, browser)
		if err != nil {
			c.logger.Debug().
				Err(err).
				Str(log.FieldBrowser, browser).
				Msg("browser history pass failed")
			continue
		}
		events = append(events, collected...)
	}
	return events, nil
}

func (c *BrowserHistory) collectBrowser(ctx context.Context, browser string) ([]event.ActivityEvent, error) {
	dbPath := c.historyPath(browser)
	if dbPath == "" {
		return nil, nil
	}
	if _, err := os.Stat(dbPath); err != nil {
		return nil, nil
	}

	// The browser holds the database open and often locked; read a copy.
	scratch, err := os.MkdirTemp("", "agent_hist_")
	if err != nil {
		return nil, fmt.Errorf("scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	copied := filepath.Join(scratch, uuid.NewString()+".sqlite")
	if err := copyFile(dbPath, copied); err != nil {
		return nil, fmt.Errorf("copy history db: %w", err)
	}

	switch browser {
	case "chrome", "edge":
		return c.queryVisits(ctx, browser, copied, chromiumVisitQuery, chromiumVisitTime)
	case "firefox":
		return c.queryVisits(ctx, browser, copied, firefoxVisitQuery, firefoxVisitTime)
	default:
		return nil, nil
	}
}

// queryVisits runs one watermarked pass over a copied history database.
// toTime converts the browser's raw visit timestamp into wall time.
func (c *BrowserHistory) queryVisits(ctx context.Context, browser, dbPath, query string, toTime func(int64) time.Time) ([]event.ActivityEvent, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	defer db.Close()

	lastSeen := c.lastSeen[browser]
	rows, err := db.QueryContext(ctx, query, lastSeen)
	if err != nil {
		return nil, fmt.Errorf("query visits: %w", err)
	}
	defer rows.Close()

	var events []event.ActivityEvent
	maxSeen := lastSeen
	for rows.Next() {
		var (
			url        sql.NullString
			title      sql.NullString
			visitCount sql.NullInt64
			visitRaw   sql.NullInt64
		)
		if err := rows.Scan(&url, &title, &visitCount, &visitRaw); err != nil {
			return nil, fmt.Errorf("scan visit: %w", err)
		}
		if url.String == "" {
			continue
		}
		if visitRaw.Int64 > maxSeen {
			maxSeen = visitRaw.Int64
		}

		riskScore := browserRiskBase
		if suspiciousURL(url.String) {
			riskScore = browserRiskHigh
		}

		e := event.New(c.computerID, event.TypeBrowserVisit)
		e.Timestamp = event.Timestamp(toTime(visitRaw.Int64))
		e.URL = url.String
		e.RiskScore = riskScore
		e.IsBlocked = riskScore >= browserBlockAt
		e.Details = map[string]any{
			"browser":       browser,
			"title":         title.String,
			"visit_count":   visitCount.Int64,
			"agent_user_id": userIDValue(c.userID),
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate visits: %w", err)
	}

	c.lastSeen[browser] = maxSeen
	return events, nil
}

// chromiumVisitTime converts Chromium's microseconds-since-1601 clock.
func chromiumVisitTime(raw int64) time.Time {
	return time.UnixMicro(raw - chromiumEpochOffset)
}

// firefoxVisitTime converts Firefox's microseconds-since-epoch clock.
func firefoxVisitTime(raw int64) time.Time {
	return time.UnixMicro(raw)
}

func suspiciousURL(url string) bool {
	hay := strings.ToLower(url)
	for _, token := range suspiciousURLTokens {
		if strings.Contains(hay, token) {
			return true
		}
	}
	return false
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// defaultHistoryPath resolves where each browser keeps its history database
// on this platform. Firefox keeps per-profile databases; the most recently
// modified profile wins.
func defaultHistoryPath(browser string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}

	switch runtime.GOOS {
	case "windows":
		local := os.Getenv("LOCALAPPDATA")
		roaming := os.Getenv("APPDATA")
		switch browser {
		case "chrome":
			return filepath.Join(local, "Google", "Chrome", "User Data", "Default", "History")
		case "edge":
			return filepath.Join(local, "Microsoft", "Edge", "User Data", "Default", "History")
		case "firefox":
			return latestFirefoxPlaces(filepath.Join(roaming, "Mozilla", "Firefox", "Profiles"))
		}
	case "darwin":
		switch browser {
		case "chrome":
			return filepath.Join(home, "Library", "Application Support", "Google", "Chrome", "Default", "History")
		case "edge":
			return filepath.Join(home, "Library", "Application Support", "Microsoft Edge", "Default", "History")
		case "firefox":
			return latestFirefoxPlaces(filepath.Join(home, "Library", "Application Support", "Firefox", "Profiles"))
		}
	default:
		switch browser {
		case "chrome":
			return filepath.Join(home, ".config", "google-chrome", "Default", "History")
		case "edge":
			return filepath.Join(home, ".config", "microsoft-edge", "Default", "History")
		case "firefox":
			return latestFirefoxPlaces(filepath.Join(home, ".mozilla", "firefox"))
		}
	}
	return ""
}

func latestFirefoxPlaces(profilesRoot string) string {
	matches, err := filepath.Glob(filepath.Join(profilesRoot, "*.default*", "places.sqlite"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	best := ""
	var bestMod time.Time
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestMod) {
			best = m
			bestMod = info.ModTime()
		}
	}
	return best
}
