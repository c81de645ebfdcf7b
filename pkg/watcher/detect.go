package watcher

import (
	"os"
	"strconv"
	"strings"
)

// EnvForcePolling forces the polling backend for every endpoint when truthy.
const EnvForcePolling = "MAILROOM_FORCE_POLLING"

var cgroupMarkers = []string{"docker", "kubepods", "containerd", "libpod", "lxc"}

type hostProbe struct {
	getenv   func(string) string
	exists   func(string) bool
	readFile func(string) ([]byte, error)
}

func defaultProbe() hostProbe {
	return hostProbe{
		getenv: os.Getenv,
		exists: func(path string) bool {
			_, err := os.Stat(path)
			return err == nil
		},
		readFile: os.ReadFile,
	}
}

// RequiresPolling reports whether native file notifications should not be
// trusted on this host, either because it runs inside a container or because
// EnvForcePolling is set.
func RequiresPolling() bool {
	return defaultProbe().requiresPolling()
}

func (p hostProbe) requiresPolling() bool {
	if value := strings.TrimSpace(p.getenv(EnvForcePolling)); value != "" {
		if enabled, err := strconv.ParseBool(value); err == nil && enabled {
			return true
		}
	}

	return p.inContainer()
}

func (p hostProbe) inContainer() bool {
	if p.exists("/.dockerenv") || p.exists("/run/.containerenv") {
		return true
	}
	if strings.TrimSpace(p.getenv("KUBERNETES_SERVICE_HOST")) != "" {
		return true
	}

	data, err := p.readFile("/proc/1/cgroup")
	if err != nil {
		return false
	}
	content := string(data)
	for _, marker := range cgroupMarkers {
		if strings.Contains(content, marker) {
			return true
		}
	}

	return false
}
