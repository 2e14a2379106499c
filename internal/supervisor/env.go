package supervisor

import (
	"os"
	"strconv"
	"strings"
)

// Backend environment contract.
const (
	EnvPort     = "PORT"
	EnvDesktop  = "OPENPRISM_DESKTOP"
	EnvTunnel   = "OPENPRISM_TUNNEL"
	EnvDataDir  = "OPENPRISM_DATA_DIR"
	EnvRepoRoot = "OPENPRISM_REPO_ROOT"
	EnvListenFD = "OPENPRISM_LISTEN_FD"

	// HealthPath is the readiness route every backend serves.
	HealthPath = "/api/health"
)

// listenFD is the descriptor number of the first ExtraFiles entry.
const listenFD = 3

// Environment composes the child environment: the parent's variables, then
// Spec.Env, then the contract. Later entries win. An inherited listen fd
// variable is dropped; it is only set when this spawn passes a socket.
func Environment(spec Spec) []string {
	var env []string
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, EnvListenFD+"=") {
			continue
		}
		env = append(env, kv)
	}
	env = append(env, spec.Env...)
	env = append(env,
		EnvPort+"="+strconv.Itoa(spec.Port),
		EnvDesktop+"=1",
		EnvTunnel+"=false",
		EnvDataDir+"="+spec.DataDir,
		EnvRepoRoot+"="+spec.RepoRoot,
	)
	if spec.Reservation != nil {
		env = append(env, EnvListenFD+"="+strconv.Itoa(listenFD))
	}
	return env
}

// HealthURL joins the readiness route onto a backend base URL.
func HealthURL(base string) string {
	return strings.TrimRight(base, "/") + HealthPath
}

// LocalURL is the base URL of a backend listening on the loopback port.
func LocalURL(port int) string {
	return "http://127.0.0.1:" + strconv.Itoa(port)
}
