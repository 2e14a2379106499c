package diagnostics

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

// Packages lists the plotting packages checked in the discovered interpreter.
var Packages = []string{"matplotlib", "pandas", "seaborn"}

const executableScript = "import sys;print(sys.executable)"

// Python describes the interpreter the host offers, if any.
type Python struct {
	OK         bool            `json:"ok"`
	Command    string          `json:"command"`
	Executable string          `json:"executable"`
	Version    string          `json:"version"`
	Packages   map[string]bool `json:"packages"`
}

// Interpreter is a candidate that answered the executable probe.
type Interpreter struct {
	Command    string
	Executable string
	Version    string
}

// Candidates returns the interpreter commands to try, in priority order:
// the explicit override, the active conda environment, then python3 and
// python on PATH. Blank and duplicate entries are dropped.
func (p *Prober) Candidates() []string {
	var list []string
	if explicit := strings.TrimSpace(p.getenv("OPENPRISM_PYTHON")); explicit != "" {
		list = append(list, explicit)
	}
	if prefix := strings.TrimSpace(p.getenv("CONDA_PREFIX")); prefix != "" {
		list = append(list, condaPython(prefix))
	}
	list = append(list, "python3", "python")

	seen := make(map[string]bool, len(list))
	out := list[:0]
	for _, c := range list {
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

func condaPython(prefix string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(prefix, "python.exe")
	}
	return filepath.Join(prefix, "bin", "python")
}

// DetectInterpreter tries each candidate in order and returns the first that
// reports its executable path. It returns nil when none does.
func (p *Prober) DetectInterpreter(ctx context.Context) *Interpreter {
	for _, candidate := range p.Candidates() {
		if _, err := p.lookPath(candidate); err != nil {
			p.logger().Debug("python candidate not found", zap.String("command", candidate), zap.Error(err))
			continue
		}
		res := p.run(ctx, candidate, "-c", executableScript)
		if !res.OK {
			p.logger().Debug("python candidate failed",
				zap.String("command", candidate), zap.String("error", failureSummary(res)))
			continue
		}
		executable := FirstLine(res.Stdout)
		if executable == "" {
			continue
		}
		interp := &Interpreter{Command: candidate, Executable: executable}
		if ver := p.run(ctx, candidate, "--version"); ver.OK {
			interp.Version = FirstLine(ver.Stdout)
			if interp.Version == "" {
				interp.Version = FirstLine(ver.Stderr)
			}
		}
		return interp
	}
	return nil
}

// DetectPackages asks command which of Packages it can import. Any failure
// leaves every package marked unavailable.
func (p *Prober) DetectPackages(ctx context.Context, command string) map[string]bool {
	result := allUnavailable()
	res := p.run(ctx, command, "-c", packageScript(Packages))
	if !res.OK {
		p.logger().Debug("package probe failed", zap.String("command", command), zap.String("error", failureSummary(res)))
		return result
	}
	var found map[string]any
	if err := json.Unmarshal([]byte(FirstLine(res.Stdout)), &found); err != nil {
		p.logger().Debug("package probe output unreadable", zap.String("command", command), zap.Error(err))
		return result
	}
	for _, name := range Packages {
		if ok, isBool := found[name].(bool); isBool {
			result[name] = ok
		}
	}
	return result
}

func packageScript(names []string) string {
	quoted, _ := json.Marshal(names)
	return fmt.Sprintf(
		"import importlib.util, json; print(json.dumps({n: importlib.util.find_spec(n) is not None for n in %s}))",
		quoted)
}

func allUnavailable() map[string]bool {
	out := make(map[string]bool, len(Packages))
	for _, name := range Packages {
		out[name] = false
	}
	return out
}
