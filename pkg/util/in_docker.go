package util

import "os"

// InContainer reports whether the process runs in a container. Docker
// leaves /.dockerenv behind, podman and systemd-nspawn set $container.
func InContainer() bool {
	if os.Getenv("container") != "" {
		return true
	}

	_, err := os.Stat("/.dockerenv")
	return err == nil
}
