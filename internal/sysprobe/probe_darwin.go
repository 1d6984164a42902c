//go:build darwin

package sysprobe

import (
	"context"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const cgSessionPath = "/System/Library/CoreServices/Menu Extras/User.menu/Contents/Resources/CGSession"

var hidIdleRe = regexp.MustCompile(`"HIDIdleTime"\s*=\s*(\d+)`)

func detectCapabilities() Capabilities {
	_, cgErr := os.Stat(cgSessionPath)
	return Capabilities{
		Platform:     "macos",
		IdleTime:     anyInPath("ioreg"),
		ActiveWindow: anyInPath("osascript"),
		Lock:         cgErr == nil || anyInPath("pmset"),
	}
}

func idleTimeMS(ctx context.Context) int64 {
	// ioreg exposes HIDIdleTime in nanoseconds.
	out := runCapture(ctx, 2*time.Second, "ioreg", "-c", "IOHIDSystem")
	if out == "" {
		return 0
	}
	m := hidIdleRe.FindStringSubmatch(out)
	if m == nil {
		return 0
	}
	nanos, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0
	}
	return nanos / 1_000_000
}

func activeWindowTitle(ctx context.Context) string {
	// Needs Automation/Accessibility permission for System Events on some setups.
	script := []string{
		`tell application "System Events"`,
		`set p to first process whose frontmost is true`,
		`set appName to name of p`,
		`try`,
		`set winName to name of front window of p`,
		`on error`,
		`set winName to ""`,
		`end try`,
		`if winName is "" then`,
		`return appName`,
		`else`,
		`return appName & " — " & winName`,
		`end if`,
		`end tell`,
	}
	args := make([]string, 0, len(script)*2)
	for _, line := range script {
		args = append(args, "-e", line)
	}
	out := runCapture(ctx, 3*time.Second, "osascript", args...)
	if out == "" || strings.Contains(strings.ToLower(out), "not authorized") {
		return ""
	}
	return out
}

func lockWorkstation(ctx context.Context) bool {
	if _, err := os.Stat(cgSessionPath); err == nil {
		if runOK(ctx, 3*time.Second, cgSessionPath, "-suspend") {
			return true
		}
	}
	// Sleeping the display triggers the lock when password-on-wake is set.
	return runOK(ctx, 3*time.Second, "pmset", "displaysleepnow")
}
