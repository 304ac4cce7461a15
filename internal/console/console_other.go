//go:build !windows

// Package console provides cross-platform console detection and signal handling.
// Non-Windows platforms always have a console and reliable signals, so these
// are stubs.
package console

// IsRunningFromConsole always returns true on non-Windows platforms.
func IsRunningFromConsole() bool {
	return true
}

// SetupConsoleHandler is a no-op on non-Windows platforms; os.Interrupt
// handling covers Ctrl+C there.
func SetupConsoleHandler(shutdownChan chan struct{}) func() {
	return func() {}
}
