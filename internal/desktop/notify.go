package desktop

import (
	"context"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/openprism/desktop/internal/cmdrun"
)

// Notifier shows a fatal message to the user.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) Notify(ctx context.Context, title, message string) error {
	logger := n.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Error(title, zap.String("detail", message))
	return nil
}

// dialogTimeout keeps a blocking dialog open long enough for a user to read it.
const dialogTimeout = 10 * time.Minute

// DialogNotifier shows a blocking error dialog through the platform's dialog
// tool and falls back to the log when none is installed.
type DialogNotifier struct {
	Runner   *cmdrun.Runner
	Fallback Notifier
	GOOS     string
	LookPath func(string) (string, error)
}

// Command returns the dialog invocation, or "" when no tool is available.
func (n *DialogNotifier) Command(title, message string) (string, []string) {
	goos := n.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	lookPath := n.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	switch goos {
	case "darwin":
		script := `display alert "` + appleQuote(title) + `" message "` + appleQuote(message) + `" as critical`
		return "osascript", []string{"-e", script}
	case "windows":
		ps := "Add-Type -AssemblyName PresentationFramework; [System.Windows.MessageBox]::Show('" +
			psQuote(message) + "','" + psQuote(title) + "')"
		return "powershell", []string{"-NoProfile", "-Command", ps}
	default:
		if _, err := lookPath("zenity"); err == nil {
			return "zenity", []string{"--error", "--title", title, "--text", message}
		}
		if _, err := lookPath("kdialog"); err == nil {
			return "kdialog", []string{"--title", title, "--error", message}
		}
		return "", nil
	}
}

func (n *DialogNotifier) Notify(ctx context.Context, title, message string) error {
	name, args := n.Command(title, message)
	if name != "" {
		runner := n.Runner
		if runner == nil {
			runner = &cmdrun.Runner{}
		}
		res := runner.RunTimeout(ctx, dialogTimeout, name, args...)
		if res.OK {
			return nil
		}
	}
	if n.Fallback != nil {
		return n.Fallback.Notify(ctx, title, message)
	}
	return nil
}

func appleQuote(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

func psQuote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
