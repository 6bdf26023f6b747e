//go:build !windows

package ffmpeg

import "os/exec"

const sdlVideoDriver = ""

func hideWindow(*exec.Cmd) {}
