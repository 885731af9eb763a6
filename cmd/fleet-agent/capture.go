// ABOUTME: Frame source backed by an external capture command
// ABOUTME: Substitutes {quality} into the configured command line and reads the JPEG from stdout

package main

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/ProCodeJH/PC-Management/internal/capture"
)

// captureTimeout bounds a single frame grab. A tool that hangs past this
// is killed; the loop treats it as a failed capture and keeps going.
const captureTimeout = 5 * time.Second

// frameSource builds the capture source for this machine. Screen grabbing
// is delegated to an external tool so the agent binary stays portable.
func (a *agent) frameSource() (capture.FrameSource, error) {
	if a.captureCmd == "" {
		return nil, fmt.Errorf("no capture command configured (-capture-cmd)")
	}
	return &execSource{command: a.captureCmd}, nil
}

// execSource runs a shell command per frame. The literal {quality} in the
// command line is replaced with the JPEG quality the loop is asking for.
type execSource struct {
	command string
}

func (s *execSource) Capture(quality int) ([]byte, error) {
	line := strings.ReplaceAll(s.command, "{quality}", strconv.Itoa(quality))

	ctx, cancel := context.WithTimeout(context.Background(), captureTimeout)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/C", line)
	} else {
		cmd = exec.CommandContext(ctx, "sh", "-c", line)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("capture command: %w (%s)", err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("capture command produced no output")
	}
	return stdout.Bytes(), nil
}
