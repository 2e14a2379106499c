//go:build windows

package supervisor

import "os"

// Windows has no deliverable SIGTERM; the graceful step is already a kill.
func terminate(p *os.Process) error {
	return p.Kill()
}
