// ABOUTME: Executes relayed commands on the local machine through an opaque exec boundary
// ABOUTME: Maps the command vocabulary to platform argv lines and reports execution as activity

package main

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/ProCodeJH/PC-Management/internal/relay"
)

const (
	// commandTimeout bounds any single relayed command.
	commandTimeout = time.Minute

	// screenshotQuality is used for one-off stills, independent of the
	// adaptive quality of a live stream.
	screenshotQuality = 80
)

// runCommand executes one relayed command. Execution is best-effort and
// at-most-once: the server gets no ack, only a voluntary activity report.
func (a *agent) runCommand(ctx context.Context, cmd relay.CommandPayload) {
	a.logger.Info("command received", "command", cmd.Command)

	switch cmd.Command {
	case relay.CmdScreenshot:
		a.takeScreenshot(ctx)
		return
	case relay.CmdMessage:
		a.showMessage(ctx, stringParam(cmd.Params, "text"))
		return
	}

	argv, err := a.argvFor(cmd)
	if err != nil {
		a.logger.Warn("command not supported", "command", cmd.Command, "error", err)
		return
	}

	execCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	out, err := exec.CommandContext(execCtx, argv[0], argv[1:]...).CombinedOutput()
	if err != nil {
		a.logger.Warn("command failed",
			"command", cmd.Command,
			"error", err,
			"output", strings.TrimSpace(string(out)),
		)
		a.reportActivity(ctx, "command-failed", cmd.Command)
		return
	}
	a.reportActivity(ctx, "command-executed", cmd.Command)
}

// argvFor maps a relayed command onto a local argv line. Only a few
// commands translate across platforms; the rest are Windows lab machines.
func (a *agent) argvFor(cmd relay.CommandPayload) ([]string, error) {
	windows := runtime.GOOS == "windows"

	switch cmd.Command {
	case relay.CmdShutdown:
		delay := intParam(cmd.Params, "delay", 30)
		if windows {
			return []string{"shutdown", "/s", "/t", fmt.Sprint(delay)}, nil
		}
		return []string{"shutdown", "-h", fmt.Sprintf("+%d", (delay+59)/60)}, nil

	case relay.CmdCancelShutdown:
		if windows {
			return []string{"shutdown", "/a"}, nil
		}
		return []string{"shutdown", "-c"}, nil

	case relay.CmdRestart:
		if windows {
			return []string{"shutdown", "/r", "/t", "0"}, nil
		}
		return []string{"shutdown", "-r", "now"}, nil

	case relay.CmdLock:
		if windows {
			return []string{"rundll32.exe", "user32.dll,LockWorkStation"}, nil
		}
		return []string{"loginctl", "lock-session"}, nil

	case relay.CmdLogoff:
		if windows {
			return []string{"shutdown", "/l"}, nil
		}
		return []string{"loginctl", "terminate-user", ""}, nil

	case relay.CmdKillProcess:
		proc := stringParam(cmd.Params, "process")
		if proc == "" {
			return nil, fmt.Errorf("kill-process requires a process name")
		}
		if windows {
			return []string{"taskkill", "/IM", proc, "/F"}, nil
		}
		return []string{"pkill", "-f", proc}, nil

	case relay.CmdOpenURL:
		url := stringParam(cmd.Params, "url")
		if url == "" {
			return nil, fmt.Errorf("open-url requires a url")
		}
		if windows {
			return []string{"rundll32", "url.dll,FileProtocolHandler", url}, nil
		}
		return []string{"xdg-open", url}, nil

	case relay.CmdRun:
		line := stringParam(cmd.Params, "line")
		if line == "" {
			return nil, fmt.Errorf("run requires a command line")
		}
		if windows {
			return []string{"cmd", "/C", line}, nil
		}
		return []string{"sh", "-c", line}, nil

	case relay.CmdBlockSite:
		// Requires hosts-file write access; handled by a separate
		// privileged helper in managed deployments.
		return nil, fmt.Errorf("block-site not supported by this agent build")

	default:
		return nil, fmt.Errorf("unknown command %q", cmd.Command)
	}
}

// takeScreenshot captures one still at full quality and sends it as its own
// event, independent of any live stream.
func (a *agent) takeScreenshot(ctx context.Context) {
	src, err := a.frameSource()
	if err != nil {
		a.logger.Warn("screenshot unavailable", "error", err)
		return
	}

	img, err := src.Capture(screenshotQuality)
	if err != nil {
		a.logger.Warn("screenshot failed", "error", err)
		return
	}

	err = a.send(ctx, relay.EventScreenshot, relay.ScreenshotPayload{
		Name:     a.name,
		Filename: fmt.Sprintf("%s-%d.jpg", a.name, time.Now().Unix()),
		Image:    img,
	})
	if err != nil {
		a.logger.Warn("screenshot upload failed", "error", err)
	}
}

// showMessage pops a notification for the logged-in user.
func (a *agent) showMessage(ctx context.Context, text string) {
	if text == "" {
		return
	}

	execCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var argv []string
	if runtime.GOOS == "windows" {
		argv = []string{"msg", "*", text}
	} else {
		argv = []string{"notify-send", "Fleet", text}
	}

	if err := exec.CommandContext(execCtx, argv[0], argv[1:]...).Run(); err != nil {
		a.logger.Warn("message display failed", "error", err)
		return
	}
	a.reportActivity(ctx, "message-shown", text)
}

func stringParam(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

func intParam(params map[string]any, key string, fallback int) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}
