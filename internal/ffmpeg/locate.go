package ffmpeg

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/shorty/shorty-agent/internal/encoder"
)

// Locate finds an ffmpeg-suite executable. A configured path must resolve;
// otherwise the directory of the running binary is tried before PATH, so a
// bundled encoder wins over a system one.
func Locate(preferred, name string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("%w: configured %s %q", encoder.ErrExecutableNotFound, name, preferred)
	}

	exe := name
	if runtime.GOOS == "windows" {
		exe += ".exe"
	}

	if self, err := os.Executable(); err == nil {
		bundled := filepath.Join(filepath.Dir(self), exe)
		if info, err := os.Stat(bundled); err == nil && !info.IsDir() {
			return bundled, nil
		}
	}

	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("%w: no %s binary found next to the agent or on PATH", encoder.ErrExecutableNotFound, name)
}
