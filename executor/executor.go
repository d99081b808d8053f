package executor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"interlude/types"
)

// ExitResult describes how a command sequence ended.
type ExitResult struct {
	ExitCode  int
	Cancelled bool
	Err       error
	Tail      []string // last lines of merged output
}

// Failed reports whether the sequence ended in an error the caller should
// treat as a failed deployment.
func (r ExitResult) Failed() bool {
	return !r.Cancelled && (r.ExitCode != 0 || r.Err != nil)
}

// Runner executes ordered command sequences, streaming merged output
// line-by-line to a broadcaster. One Runner is shared by all runs.
type Runner struct {
	grace     time.Duration // SIGTERM to SIGKILL escalation window
	tailLines int
}

// NewRunner creates a runner with the given cancellation grace period and
// tail retention.
func NewRunner(grace time.Duration, tailLines int) *Runner {
	if tailLines <= 0 {
		tailLines = 20
	}
	return &Runner{grace: grace, tailLines: tailLines}
}

// Run executes the commands strictly in order. Every line of merged
// stdout/stderr is published as an output event. If a command exits
// non-zero the remaining commands are skipped. Closing stop terminates the
// current child (graceful signal first, forced kill after the grace
// period) and yields a cancelled result. The run continues to completion
// even if every subscriber has disconnected.
//
// bestEffort runs the whole sequence regardless of individual exit codes;
// teardown sequences use it so one failing cleanup step never blocks the
// rest.
func (r *Runner) Run(runID string, commands [][]string, dir string, env map[string]string, bestEffort bool, stop <-chan struct{}, bus *Broadcaster) ExitResult {
	var result ExitResult
	tail := newTailBuffer(r.tailLines)

	for _, argv := range commands {
		// A cancellation landing between commands must not launch the next
		// one.
		select {
		case <-stop:
			return ExitResult{
				Cancelled: true,
				Err:       types.NewError(types.KindCancelled, "run was cancelled"),
				Tail:      tail.lines(),
			}
		default:
		}

		bus.Publish(types.StreamEvent{
			Type:      types.EventCommand,
			RunID:     runID,
			Timestamp: time.Now().UTC(),
			Command:   strings.Join(argv, " "),
		})

		one := r.runOne(runID, argv, dir, env, stop, bus, tail)
		if one.Cancelled {
			one.Tail = tail.lines()
			return one
		}
		if one.ExitCode != 0 || one.Err != nil {
			if bestEffort {
				result = one
				continue
			}
			one.Tail = tail.lines()
			return one
		}
	}

	result.Tail = tail.lines()
	return result
}

// runOne spawns a single command and pumps its merged output until exit.
func (r *Runner) runOne(runID string, argv []string, dir string, env map[string]string, stop <-chan struct{}, bus *Broadcaster, tail *tailBuffer) ExitResult {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	for key, value := range env {
		cmd.Env = append(cmd.Env, key+"="+value)
	}

	// Merge stdout and stderr through one pipe so subscribers see a single
	// interleaved-by-arrival stream.
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		return ExitResult{ExitCode: -1, Err: fmt.Errorf("failed to start %s: %w", argv[0], err)}
	}

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			tail.add(line)
			bus.Publish(types.StreamEvent{
				Type:      types.EventOutput,
				RunID:     runID,
				Timestamp: time.Now().UTC(),
				Message:   line,
			})
		}
	}()

	waitDone := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		pw.Close()
		waitDone <- err
	}()

	select {
	case err := <-waitDone:
		<-pumpDone
		return exitResultFromWait(err)

	case <-stop:
		log.Printf("Executor: cancelling %s, sending SIGTERM", argv[0])
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			log.Printf("Executor: SIGTERM failed: %v", err)
		}
		select {
		case <-waitDone:
		case <-time.After(r.grace):
			log.Printf("Executor: grace period elapsed, killing %s", argv[0])
			_ = cmd.Process.Kill()
			<-waitDone
		}
		<-pumpDone
		return ExitResult{Cancelled: true, Err: types.NewError(types.KindCancelled, "command %s was cancelled", argv[0])}
	}
}

func exitResultFromWait(err error) ExitResult {
	if err == nil {
		return ExitResult{}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		return ExitResult{ExitCode: code, Err: types.WrapError(types.KindCommandFailed, err, "command exited with code %d", code)}
	}
	return ExitResult{ExitCode: -1, Err: types.WrapError(types.KindCommandFailed, err, "command did not run to completion")}
}

// tailBuffer keeps the last n output lines for exit diagnostics.
type tailBuffer struct {
	n     int
	buf   []string
	start int
	full  bool
}

func newTailBuffer(n int) *tailBuffer {
	return &tailBuffer{n: n, buf: make([]string, n)}
}

func (t *tailBuffer) add(line string) {
	t.buf[t.start] = line
	t.start = (t.start + 1) % t.n
	if t.start == 0 {
		t.full = true
	}
}

func (t *tailBuffer) lines() []string {
	if !t.full {
		out := make([]string, t.start)
		copy(out, t.buf[:t.start])
		return out
	}
	out := make([]string, 0, t.n)
	out = append(out, t.buf[t.start:]...)
	out = append(out, t.buf[:t.start]...)
	return out
}
