//go:build linux

package sysprobe

import (
	"context"
	"os/exec"
	"regexp"
	"strconv"
	"time"
)

var (
	activeWindowIDRe    = regexp.MustCompile(`window id # (0x[0-9a-fA-F]+)`)
	windowNamePropRe    = regexp.MustCompile(`=\s*"(.+)"`)
	linuxLockCandidates = [][]string{
		{"loginctl", "lock-session"},
		{"gnome-screensaver-command", "-l"},
		{"dm-tool", "lock"},
		{"qdbus", "org.freedesktop.ScreenSaver", "/ScreenSaver", "Lock"},
		{"qdbus-qt5", "org.freedesktop.ScreenSaver", "/ScreenSaver", "Lock"},
		{"qdbus6", "org.freedesktop.ScreenSaver", "/ScreenSaver", "Lock"},
	}
)

func detectCapabilities() Capabilities {
	return Capabilities{
		Platform:     "linux",
		IdleTime:     anyInPath("xprintidle", "xssstate"),
		ActiveWindow: anyInPath("xdotool", "xprop"),
		Lock:         anyInPath("loginctl", "gnome-screensaver-command", "dm-tool", "qdbus", "qdbus-qt5", "qdbus6"),
	}
}

func idleTimeMS(ctx context.Context) int64 {
	for _, cmd := range [][]string{{"xprintidle"}, {"xssstate", "-i"}} {
		out := runCapture(ctx, 2*time.Second, cmd[0], cmd[1:]...)
		if out == "" {
			continue
		}
		if v, err := strconv.ParseFloat(out, 64); err == nil {
			return int64(v)
		}
	}
	return 0
}

func activeWindowTitle(ctx context.Context) string {
	// X11 path via xdotool.
	if out := runCapture(ctx, 2*time.Second, "xdotool", "getactivewindow", "getwindowname"); out != "" {
		return out
	}

	// Fallback via xprop.
	root := runCapture(ctx, 2*time.Second, "xprop", "-root", "_NET_ACTIVE_WINDOW")
	if root == "" {
		return ""
	}
	m := activeWindowIDRe.FindStringSubmatch(root)
	if m == nil {
		return ""
	}
	props := runCapture(ctx, 2*time.Second, "xprop", "-id", m[1], "_NET_WM_NAME", "WM_NAME")
	if props == "" {
		return ""
	}
	// _NET_WM_NAME(UTF8_STRING) comes first when set, then WM_NAME.
	if q := windowNamePropRe.FindStringSubmatch(props); q != nil {
		return q[1]
	}
	return ""
}

func lockWorkstation(ctx context.Context) bool {
	for _, cmd := range linuxLockCandidates {
		if _, err := exec.LookPath(cmd[0]); err != nil {
			continue
		}
		if runOK(ctx, 3*time.Second, cmd[0], cmd[1:]...) {
			return true
		}
	}
	return false
}
