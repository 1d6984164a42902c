//go:build !linux && !darwin && !windows

package sysprobe

import (
	"context"
	"runtime"
)

func detectCapabilities() Capabilities {
	return Capabilities{Platform: runtime.GOOS}
}

func idleTimeMS(context.Context) int64 { return 0 }

func activeWindowTitle(context.Context) string { return "" }

func lockWorkstation(context.Context) bool { return false }
