package recorder

import (
	"errors"
	"fmt"

	"github.com/webcorder/webcorder/internal/resolver"
)

var (
	// ErrNoStream is returned by Start and Check when the page has no stream
	ErrNoStream = resolver.ErrNoStream

	// ErrEmptyOutput means ffmpeg exited cleanly but wrote nothing
	ErrEmptyOutput = errors.New("recording finished with an empty file")

	// ErrAbnormalExit matches every *ExitError
	ErrAbnormalExit = errors.New("capture process exited abnormally")
)

// ExitError reports a capture process that exited with a non-zero code
type ExitError struct {
	Code   int
	Output string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("ffmpeg exited with code %d", e.Code)
}

func (e *ExitError) Is(target error) bool {
	return target == ErrAbnormalExit
}
