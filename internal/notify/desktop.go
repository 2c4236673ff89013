package notify

import (
	"os/exec"
	"runtime"
	"strings"
)

// DesktopNotifier surfaces outcomes on the workstation the pipeline
// runs on, via the platform's native notification command.
type DesktopNotifier struct {
	enabled bool
}

func NewDesktopNotifier(enabled bool) *DesktopNotifier {
	return &DesktopNotifier{enabled: enabled}
}

func (d *DesktopNotifier) Send(n Notification) error {
	if !d.enabled {
		return nil
	}

	switch runtime.GOOS {
	case "darwin":
		return d.sendMacOS(n)
	case "linux":
		return d.sendLinux(n)
	default:
		return nil // no native channel
	}
}

func (d *DesktopNotifier) sendMacOS(n Notification) error {
	script := `display notification "` + escapeOSAScript(n.Body()) +
		`" with title "` + escapeOSAScript(n.Title()) + `"`
	return exec.Command("osascript", "-e", script).Run()
}

func (d *DesktopNotifier) sendLinux(n Notification) error {
	args := []string{"-u", urgencyFor(n.Type), "-i", iconFor(n.Type), n.Title(), n.Body()}
	return exec.Command("notify-send", args...).Run()
}

// escapeOSAScript neutralizes the AppleScript string delimiters; run
// messages carry arbitrary tool stderr.
func escapeOSAScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

func urgencyFor(t NotificationType) string {
	switch t {
	case NotifyError:
		return "critical"
	case NotifyWarning:
		return "normal"
	default:
		return "low"
	}
}

func iconFor(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return "dialog-positive"
	case NotifyWarning:
		return "dialog-warning"
	case NotifyError:
		return "dialog-error"
	default:
		return "dialog-information"
	}
}
