// Package host provides terminal implementations of the reminder host
// capabilities for running the agent from a shell or under systemd.
package host

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"homesched/internal/reminder"
	logx "homesched/pkg/logx"
)

// Terminal prints alerts to W and rings the bell for haptics. A nil W
// resolves to logx.Stdout() at call time, so MCP mode can redirect it.
type Terminal struct {
	W io.Writer
	// Bell enables the BEL character as haptic feedback.
	Bell bool

	mu sync.Mutex
}

var (
	_ reminder.Alerter = (*Terminal)(nil)
	_ reminder.Haptics = (*Terminal)(nil)
)

func (t *Terminal) out() io.Writer {
	if t.W != nil {
		return t.W
	}
	return logx.Stdout()
}

// ShowAlert writes a framed alert and calls done when the write succeeded.
func (t *Terminal) ShowAlert(a reminder.Alert, done func()) {
	lines := []string{a.Title}
	lines = append(lines, strings.Split(a.Body, "\n")...)
	if a.ConfirmText != "" {
		lines = append(lines, "["+a.ConfirmText+"]")
	}
	width := 0
	for _, l := range lines {
		if n := len([]rune(l)); n > width {
			width = n
		}
	}
	rule := "+" + strings.Repeat("-", width+2) + "+"

	var b strings.Builder
	b.WriteString(rule + "\n")
	for i, l := range lines {
		fmt.Fprintf(&b, "| %s%s |\n", l, strings.Repeat(" ", width-len([]rune(l))))
		if i == 0 {
			b.WriteString(rule + "\n")
		}
	}
	b.WriteString(rule + "\n")

	t.mu.Lock()
	_, err := io.WriteString(t.out(), b.String())
	t.mu.Unlock()
	if err == nil && done != nil {
		done()
	}
}

func (t *Terminal) Vibrate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Bell {
		_, _ = io.WriteString(t.out(), "\a")
	}
}

// SetBell toggles haptics on a running terminal.
func (t *Terminal) SetBell(on bool) {
	t.mu.Lock()
	t.Bell = on
	t.mu.Unlock()
}

// Reminder returns the capabilities as a reminder.Host; n may be nil.
func (t *Terminal) Reminder(n reminder.LocalNotifier) reminder.Host {
	return reminder.Host{Alerter: t, Haptics: t, Notifier: n}
}
