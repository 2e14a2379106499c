package navguard

import (
	"context"
	"runtime"

	"github.com/openprism/desktop/internal/cmdrun"
)

// CommandOpener opens URLs with the platform's launcher command.
type CommandOpener struct {
	Runner *cmdrun.Runner
	GOOS   string
}

// Command returns the launcher invocation for url.
func (o *CommandOpener) Command(url string) (string, []string) {
	goos := o.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	switch goos {
	case "darwin":
		return "open", []string{url}
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", url}
	default:
		return "xdg-open", []string{url}
	}
}

// Open implements Opener.
func (o *CommandOpener) Open(ctx context.Context, url string) error {
	runner := o.Runner
	if runner == nil {
		runner = &cmdrun.Runner{}
	}
	name, args := o.Command(url)
	return runner.Run(ctx, name, args...).Err()
}
