package ffmpeg

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
)

var (
	// ErrLaunch matches every *LaunchError
	ErrLaunch = errors.New("failed to launch process")

	// ErrNotFound means the binary is missing or not runnable
	ErrNotFound = errors.New("binary not found")

	// ErrNoStdin is returned by Quit when the process has no stdin pipe
	ErrNoStdin = errors.New("process has no stdin")
)

// LaunchError reports a capture, probe or preview process that could not be started
type LaunchError struct {
	Binary string
	Err    error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch %s: %v", e.Binary, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// Is matches ErrLaunch, and ErrNotFound when the binary does not exist
func (e *LaunchError) Is(target error) bool {
	switch target {
	case ErrLaunch:
		return true
	case ErrNotFound:
		return errors.Is(e.Err, exec.ErrNotFound) || errors.Is(e.Err, os.ErrNotExist)
	}
	return false
}
