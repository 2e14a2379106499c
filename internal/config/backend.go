package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// BackendConfig is the backend's reading of the environment contract.
type BackendConfig struct {
	Port       int
	ListenFD   int
	DataDir    string
	RepoRoot   string
	Desktop    bool
	TunnelMode string
	Addr       string
}

// BackendConfigFromEnv reads the contract. PORT defaults to 8787 like the
// standalone backend.
func BackendConfigFromEnv(getenv func(string) string) (BackendConfig, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := BackendConfig{
		Port:       8787,
		DataDir:    getenv("OPENPRISM_DATA_DIR"),
		RepoRoot:   getenv("OPENPRISM_REPO_ROOT"),
		Desktop:    getenv("OPENPRISM_DESKTOP") == "1",
		TunnelMode: strings.TrimSpace(getenv("OPENPRISM_TUNNEL")),
	}
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port < 0 || port > 65535 {
			return BackendConfig{}, fmt.Errorf("invalid PORT %q", v)
		}
		cfg.Port = port
	}
	if v := getenv("OPENPRISM_LISTEN_FD"); v != "" {
		fd, err := strconv.Atoi(v)
		if err != nil || fd < 3 {
			return BackendConfig{}, fmt.Errorf("invalid OPENPRISM_LISTEN_FD %q", v)
		}
		cfg.ListenFD = fd
	}
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultConfig().DataDir
	}
	cfg.Addr = "127.0.0.1:" + strconv.Itoa(cfg.Port)
	return cfg, nil
}
