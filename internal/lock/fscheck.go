package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNetworkFilesystem means the PID file would live on a filesystem where
// flock(2) is not reliably honoured across hosts.
var ErrNetworkFilesystem = errors.New("pid file is on a network filesystem")

var networkFilesystems = map[string]struct{}{
	"9p":     {},
	"afpfs":  {},
	"afs":    {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// CheckFilesystem inspects the filesystem that holds (or would hold) path.
// It returns an error wrapping ErrNetworkFilesystem for network mounts, and a
// plain error when the type cannot be determined.
func CheckFilesystem(path string) error {
	return checkFilesystem(path, detectFilesystemType)
}

func checkFilesystem(path string, detect func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("pid file path is empty")
	}

	existing, err := nearestExistingPath(path)
	if err != nil {
		return fmt.Errorf("resolve pid file path %q: %w", path, err)
	}

	fsType, err := detect(existing)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", existing, err)
	}

	if isNetworkFilesystem(fsType) {
		return fmt.Errorf("%w: %s is on %s; use a local path for service.pid_file", ErrNetworkFilesystem, path, fsType)
	}
	return nil
}

func nearestExistingPath(path string) (string, error) {
	candidate, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", path)
		}
		candidate = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	_, found := networkFilesystems[strings.ToLower(strings.TrimSpace(fsType))]
	return found
}
