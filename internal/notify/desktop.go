package notify

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// DesktopNotifier pops up a local notification through osascript or notify-send
type DesktopNotifier struct {
	enabled bool
	goos    string
	run     func(name string, args ...string) error
}

// NewDesktopNotifier creates a desktop notifier for the current OS
func NewDesktopNotifier(enabled bool) *DesktopNotifier {
	return &DesktopNotifier{
		enabled: enabled,
		goos:    runtime.GOOS,
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
	}
}

// Send shows the notification. Unsupported platforms are a no-op.
func (d *DesktopNotifier) Send(n Notification) error {
	if !d.enabled {
		return nil
	}
	name, args, ok := desktopCommand(d.goos, n)
	if !ok {
		return nil
	}
	if err := d.run(name, args...); err != nil {
		return fmt.Errorf("desktop notification via %s: %w", name, err)
	}
	return nil
}

// desktopCommand builds the command line showing n on goos
func desktopCommand(goos string, n Notification) (string, []string, bool) {
	body := n.Message
	if summary := n.FieldSummary(); summary != "" {
		body += "\n" + summary
	}

	switch goos {
	case "darwin":
		script := fmt.Sprintf(`display notification "%s" with title "posterbadge" subtitle "%s"`,
			escapeAppleScript(body), escapeAppleScript(n.Title))
		return "osascript", []string{"-e", script}, true
	case "linux":
		urgency := "normal"
		if n.Type == NotifyError {
			urgency = "critical"
		}
		return "notify-send", []string{"-a", "posterbadge", "-u", urgency, "-i", IconForType(n.Type), n.Title, body}, true
	}
	return "", nil, false
}

// IconForType returns the freedesktop icon name for a notification type
func IconForType(t NotificationType) string {
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

func escapeAppleScript(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", " ").Replace(s)
}
