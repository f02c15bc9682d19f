package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// xvfbReadyTimeout bounds the wait for the display socket.
const xvfbReadyTimeout = 3 * time.Second

var errDisplayNotReady = errors.New("display socket did not appear")

// startXvfb launches the virtual display for headful mode and waits until
// its X socket exists.
func (m *Manager) startXvfb(ctx context.Context) error {
	if m.xvfb != nil {
		return nil
	}

	display := m.cfg.XvfbDisplay
	cmd := exec.Command("Xvfb", display, "-screen", "0", "1920x1080x24", "-ac", "-nolisten", "tcp")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start xvfb %s: %w", display, err)
	}
	m.xvfb = cmd

	err := waitForPath(ctx, displaySocket(display), xvfbReadyTimeout, 50*time.Millisecond)
	switch {
	case errors.Is(err, errDisplayNotReady):
		// Chrome retries the connection itself; a slow display is not fatal.
		m.cfg.Logger.Warn("browser: xvfb socket not ready", "display", display, "after", xvfbReadyTimeout)
	case err != nil:
		m.stopXvfb()
		return err
	}

	m.cfg.Logger.Info("browser: xvfb started", "display", display, "pid", cmd.Process.Pid)
	return nil
}

func (m *Manager) stopXvfb() {
	if m.xvfb == nil {
		return
	}
	if m.xvfb.Process != nil {
		m.xvfb.Process.Kill()
		m.xvfb.Wait()
	}
	m.cfg.Logger.Info("browser: xvfb stopped", "display", m.cfg.XvfbDisplay)
	m.xvfb = nil
}

// displaySocket maps ":99" or ":99.0" to /tmp/.X11-unix/X99.
func displaySocket(display string) string {
	n := strings.TrimPrefix(display, ":")
	if i := strings.IndexByte(n, '.'); i >= 0 {
		n = n[:i]
	}
	return "/tmp/.X11-unix/X" + n
}

// waitForPath polls until path exists, ctx ends or timeout elapses.
func waitForPath(ctx context.Context, path string, timeout, every time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(every)
	defer tick.Stop()

	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return errDisplayNotReady
		case <-tick.C:
		}
	}
}
