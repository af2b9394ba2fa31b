// Package task spawns workspace-scoped shell commands and turns their
// output and lifecycle into workspace messages.
package task

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/workspace-hub/backend/internal/model"
)

// DefaultReadBufferSize is the buffer size for reading process output.
const DefaultReadBufferSize = 4096

// Frame types for the messages an execution emits.
const (
	frameInfo   = "info"
	frameOutput = "output"
	frameError  = "error"
	frameResult = "result"
)

// Publisher receives every message an execution emits, in emission
// order. The ws dispatcher implements it.
type Publisher interface {
	Deliver(frameType, project, workspace string, msg model.Message)
}

// Execution is the handle for one running command. It carries the
// workspace key and a completion channel; a future cancellation signal
// would attach here.
type Execution struct {
	Project   string
	Workspace string

	done chan struct{}
}

// Done returns a channel closed when the execution has emitted its
// final message.
func (e *Execution) Done() <-chan struct{} {
	return e.done
}

// Runner executes shell commands inside project directories. Results
// never come back from Run; they arrive as messages through the
// publisher.
type Runner struct {
	projectsDir string
	opencode    *OpenCode
	publisher   Publisher
}

// NewRunner creates a Runner rooted at the given projects directory.
func NewRunner(projectsDir string, opencode *OpenCode, publisher Publisher) *Runner {
	return &Runner{
		projectsDir: projectsDir,
		opencode:    opencode,
		publisher:   publisher,
	}
}

// Run starts a command for a workspace and returns immediately. The
// command runs as `bash -lc` in the project's directory with the
// inherited environment and no timeout. When useWrapper is set, the
// command is run through the opencode binary instead of directly.
func (r *Runner) Run(project, workspace, command string, useWrapper bool) *Execution {
	e := &Execution{
		Project:   project,
		Workspace: workspace,
		done:      make(chan struct{}),
	}

	go r.run(e, command, useWrapper)

	return e
}

func (r *Runner) run(e *Execution, command string, useWrapper bool) {
	defer close(e.done)

	projectDir := filepath.Join(r.projectsDir, e.Project)
	if info, err := os.Stat(projectDir); err != nil || !info.IsDir() {
		r.emit(e, frameError, model.KindError, fmt.Sprintf("Project directory %q not found.", e.Project))
		return
	}

	shellCommand := command
	if useWrapper {
		bin, err := r.opencode.Resolve()
		if err != nil {
			r.emit(e, frameError, model.KindError, "The opencode installation is not available.")
			return
		}
		// The user's command becomes a single argument to the
		// wrapper; quoting keeps embedded whitespace and shell
		// metacharacters intact.
		shellCommand = shellQuote(bin) + " " + shellQuote(command)
	}

	r.emit(e, frameInfo, model.KindInfo, "Running command: "+shellCommand)

	cmd := exec.Command("bash", "-lc", shellCommand)
	cmd.Dir = projectDir
	cmd.Env = os.Environ()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		r.emit(e, frameError, model.KindError, "Failed to start command: "+err.Error())
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		r.emit(e, frameError, model.KindError, "Failed to start command: "+err.Error())
		return
	}

	if err := cmd.Start(); err != nil {
		r.emit(e, frameError, model.KindError, "Failed to start command: "+err.Error())
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.stream(e, stdout, frameOutput, model.KindOutput)
	}()
	go func() {
		defer wg.Done()
		r.stream(e, stderr, frameError, model.KindError)
	}()
	wg.Wait()

	exitCode := 0
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			r.emit(e, frameError, model.KindError, "Command failed: "+err.Error())
			return
		}
	}

	kind := model.KindInfo
	if exitCode != 0 {
		kind = model.KindError
	}
	r.emit(e, frameResult, kind, fmt.Sprintf("Command finished with exit code %d.", exitCode))
}

// stream turns output chunks into messages as they arrive. Chunks are
// flushed opportunistically, not line-buffered; whitespace-only chunks
// are dropped so no empty message is ever emitted.
func (r *Runner) stream(e *Execution, src io.Reader, frameType string, kind model.Kind) {
	buf := make([]byte, DefaultReadBufferSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			chunk := strings.TrimSpace(string(buf[:n]))
			if chunk != "" {
				r.emit(e, frameType, kind, chunk)
			}
		}
		if err != nil {
			return
		}
	}
}

// emit publishes one system message for the execution's workspace.
func (r *Runner) emit(e *Execution, frameType string, kind model.Kind, content string) {
	msg := model.NewMessage(model.SenderSystem, kind, content)
	r.publisher.Deliver(frameType, e.Project, e.Workspace, msg)
}

// shellQuote wraps s in single quotes as one shell word.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
