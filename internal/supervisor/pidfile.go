package supervisor

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// WritePIDFile records the current process id at path.
func WritePIDFile(path string) error {
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

// ReadPIDFile returns the pid stored at path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pid file %s: invalid content %q", path, strings.TrimSpace(string(data)))
	}
	return pid, nil
}

var signalProcess = func(pid int, sig unix.Signal) error {
	return unix.Kill(pid, sig)
}

// processAlive probes pid with signal 0. EPERM means the process exists but
// belongs to someone else.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := signalProcess(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
