//go:build windows

package sysprobe

import (
	"context"
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32   = windows.NewLazySystemDLL("user32.dll")
	kernel32 = windows.NewLazySystemDLL("kernel32.dll")

	procGetLastInputInfo     = user32.NewProc("GetLastInputInfo")
	procGetForegroundWindow  = user32.NewProc("GetForegroundWindow")
	procGetWindowTextLengthW = user32.NewProc("GetWindowTextLengthW")
	procGetWindowTextW       = user32.NewProc("GetWindowTextW")
	procLockWorkStation      = user32.NewProc("LockWorkStation")
	procGetTickCount64       = kernel32.NewProc("GetTickCount64")
)

type lastInputInfo struct {
	cbSize uint32
	dwTime uint32
}

func detectCapabilities() Capabilities {
	return Capabilities{Platform: "windows", IdleTime: true, ActiveWindow: true, Lock: true}
}

func idleTimeMS(context.Context) int64 {
	info := lastInputInfo{}
	info.cbSize = uint32(unsafe.Sizeof(info))
	ok, _, _ := procGetLastInputInfo.Call(uintptr(unsafe.Pointer(&info)))
	if ok == 0 {
		return 0
	}
	tick, _, _ := procGetTickCount64.Call()
	idle := int64(tick) - int64(info.dwTime)
	if idle < 0 {
		return 0
	}
	return idle
}

func activeWindowTitle(context.Context) string {
	hwnd, _, _ := procGetForegroundWindow.Call()
	if hwnd == 0 {
		return ""
	}
	length, _, _ := procGetWindowTextLengthW.Call(hwnd)
	if length == 0 {
		return ""
	}
	buf := make([]uint16, length+1)
	copied, _, _ := procGetWindowTextW.Call(hwnd, uintptr(unsafe.Pointer(&buf[0])), length+1)
	if copied == 0 {
		return ""
	}
	return strings.TrimSpace(windows.UTF16ToString(buf[:copied]))
}

func lockWorkstation(context.Context) bool {
	ok, _, _ := procLockWorkStation.Call()
	return ok != 0
}
