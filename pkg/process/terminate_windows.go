//go:build windows

package process

import (
	"golang.org/x/sys/windows"
)

// SendTerminationSignal delivers Ctrl-Break to the process group; the
// caller falls back to Kill if the process ignores it.
func SendTerminationSignal(pid int) error {
	return windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, uint32(pid))
}
