package executor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

const maxCapturedOutput = 4 << 10

// resolveProgram maps a handler id to an executable under dir. Ids that could escape
// dir are never resolved.
func resolveProgram(dir, id string) (string, bool) {
	if dir == "" || id == "" || strings.HasPrefix(id, ".") || strings.ContainsAny(id, `/\`) {
		return "", false
	}
	path := filepath.Join(dir, id)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Mode().Perm()&0o111 == 0 {
		return "", false
	}
	return path, true
}

// cappedBuffer keeps the first maxCapturedOutput bytes written to it.
type cappedBuffer struct {
	buf bytes.Buffer
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if room := maxCapturedOutput - c.buf.Len(); room > 0 {
		if len(p) > room {
			c.buf.Write(p[:room])
		} else {
			c.buf.Write(p)
		}
	}
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	return strings.TrimSpace(c.buf.String())
}

type programResult struct {
	outcome Outcome
	output  string
	err     error
}

// runProgram runs path under the soft timeout. At the soft bound the process gets SIGTERM;
// whatever is still running at the hard bound is killed.
func runProgram(parent context.Context, path string, event Event, soft, hard time.Duration) programResult {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), soft)
	defer cancel()

	var out cappedBuffer
	cmd := exec.CommandContext(ctx, path)
	cmd.Env = append(os.Environ(),
		"RC_MESSAGE_TYPE="+event.MessageType,
		"RC_PAYLOAD="+event.Payload,
		"RC_QUEUE_KEY="+event.QueueKey,
		"RC_CORRELATION_ID="+event.CorrelationID,
	)
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = hard - soft

	err := cmd.Run()
	res := programResult{output: out.String(), err: err}

	switch {
	case cmd.ProcessState == nil:
		res.outcome = OutcomeNonZeroExit
	case killed(cmd.ProcessState):
		res.outcome = OutcomeHardKill
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.outcome = OutcomeSoftTimeout
	case cmd.ProcessState.ExitCode() != 0:
		res.outcome = OutcomeNonZeroExit
	default:
		res.outcome = OutcomeSuccess
	}
	return res
}

func killed(state *os.ProcessState) bool {
	status, ok := state.Sys().(syscall.WaitStatus)
	return ok && status.Signaled() && status.Signal() == syscall.SIGKILL
}
