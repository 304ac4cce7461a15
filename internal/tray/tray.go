package tray

import (
	"log"
	"sync"
	"sync/atomic"

	"fyne.io/systray"
)

// ShutdownFunc is called when "Exit" is clicked
type ShutdownFunc func()

// RecalibrateFunc is called when "Recalibrate Wheel" is clicked
type RecalibrateFunc func()

// Tray manages the system tray icon and menu
type Tray struct {
	shutdownFunc    ShutdownFunc
	recalibrateFunc RecalibrateFunc
	once            sync.Once
	shuttingDown    atomic.Bool
	menuRecal       *systray.MenuItem
	menuExit        *systray.MenuItem
}

// New creates a new Tray instance
func New(shutdownFn ShutdownFunc, recalibrateFn RecalibrateFunc) *Tray {
	return &Tray{
		shutdownFunc:    shutdownFn,
		recalibrateFunc: recalibrateFn,
	}
}

// Run initializes and runs the system tray (blocks until Quit())
func (t *Tray) Run(iconData []byte) {
	systray.Run(func() {
		t.onReady(iconData)
	}, func() {
		t.onExit()
	})
}

// onReady is called when the tray is ready
func (t *Tray) onReady(iconData []byte) {
	if iconData != nil {
		systray.SetIcon(iconData)
	}
	systray.SetTitle("WheelBridge")
	systray.SetTooltip("WheelBridge - wheel to virtual gamepad")

	t.menuRecal = systray.AddMenuItem("Recalibrate Wheel", "Run the calibration wizard again")
	t.menuExit = systray.AddMenuItem("Exit", "Quit application")

	// Handle menu clicks in separate goroutines to prevent blocking
	go t.handleMenuClicks()

	log.Println("System tray initialized")
}

// handleMenuClicks processes menu item clicks without blocking
func (t *Tray) handleMenuClicks() {
	for {
		select {
		case <-t.menuRecal.ClickedCh:
			if !t.shuttingDown.Load() && t.recalibrateFunc != nil {
				t.recalibrateFunc()
			}
		case <-t.menuExit.ClickedCh:
			if t.shuttingDown.CompareAndSwap(false, true) {
				t.once.Do(t.shutdownFunc)
				systray.Quit()
				return
			}
		}
	}
}

// onExit is called when the tray is exiting
func (t *Tray) onExit() {
	t.shuttingDown.Store(true)
	log.Println("System tray exiting")
}
