package ffmpeg

import (
	"bufio"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// lineBuffer is how many stderr lines may queue before the process blocks
const lineBuffer = 256

// Process is a running external binary. Stderr lines are delivered on Lines
// and the exit status becomes visible through Exited once the process has
// been reaped and its stderr fully read.
type Process struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan string
	done  chan struct{}

	mu      sync.Mutex
	code    int
	waitErr error
	quit    bool
}

// startProcess starts cmd. When captureStderr is false stderr is discarded and
// Lines is closed immediately.
func startProcess(cmd *exec.Cmd, captureStderr bool) (*Process, error) {
	binary := cmd.Path
	if len(cmd.Args) > 0 {
		binary = cmd.Args[0]
	}
	launchErr := func(err error) error {
		return &LaunchError{Binary: binary, Err: err}
	}
	if cmd.Err != nil {
		return nil, launchErr(cmd.Err)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, launchErr(err)
	}

	var stderr io.ReadCloser
	if captureStderr {
		stderr, err = cmd.StderrPipe()
		if err != nil {
			return nil, launchErr(err)
		}
	}

	if err := cmd.Start(); err != nil {
		return nil, launchErr(err)
	}

	p := &Process{
		cmd:   cmd,
		stdin: stdin,
		lines: make(chan string, lineBuffer),
		done:  make(chan struct{}),
		code:  -1,
	}
	go p.reap(stderr)
	return p, nil
}

// reap reads stderr to EOF before waiting, as exec.Cmd requires
func (p *Process) reap(stderr io.Reader) {
	if stderr != nil {
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" {
				p.lines <- line
			}
		}
	}
	close(p.lines)

	err := p.cmd.Wait()

	p.mu.Lock()
	p.waitErr = err
	if p.cmd.ProcessState != nil {
		p.code = p.cmd.ProcessState.ExitCode()
	}
	p.mu.Unlock()

	close(p.done)
}

// PID returns the operating system process id
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Lines delivers trimmed non-empty stderr lines and is closed at EOF.
// Callers that capture stderr must drain it.
func (p *Process) Lines() <-chan string {
	return p.lines
}

// Done is closed once the process has exited and been reaped
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exited reports the exit code without blocking. A process killed by a
// signal reports -1.
func (p *Process) Exited() (int, bool) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.code, true
	default:
		return 0, false
	}
}

// Quit asks ffmpeg to finish the file and exit by writing "q" to its stdin
func (p *Process) Quit() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stdin == nil {
		return ErrNoStdin
	}
	if p.quit {
		return nil
	}
	if _, err := io.WriteString(p.stdin, "q\n"); err != nil {
		return err
	}
	p.quit = true
	return nil
}

// Kill terminates the process immediately. Killing an exited process is not
// an error.
func (p *Process) Kill() error {
	if _, exited := p.Exited(); exited {
		return nil
	}
	err := p.cmd.Process.Kill()
	if err != nil && errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
