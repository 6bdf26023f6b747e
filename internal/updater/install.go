package updater

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrUnsupportedInstaller is returned for downloads that cannot be launched,
// such as portable .zip builds.
var ErrUnsupportedInstaller = errors.New("unsupported installer")

// silentArgs are understood by the Inno Setup installer
var silentArgs = []string{"/SILENT", "/NORESTART"}

// launch starts cmd without waiting for it
var launch = func(cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}

// Install launches the installer at path and returns once it has started.
// The caller is expected to exit so the installer can replace the binary.
func Install(path string, silent bool) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("installer not found: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".exe":
	case ".zip":
		return fmt.Errorf("%w: zip archives must be extracted manually", ErrUnsupportedInstaller)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedInstaller, filepath.Base(path))
	}

	var args []string
	if silent {
		args = silentArgs
	}
	if err := launch(exec.Command(path, args...)); err != nil {
		return fmt.Errorf("failed to launch installer: %w", err)
	}
	return nil
}
