package executors

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/noetl/noetl/internal/value"
	"github.com/noetl/noetl/internal/worker"
)

// CodeExecutor runs the "code" action type: the decoded `code` field
// (decodeActionSpec already base64-unwraps code_b64) is piped into an
// interpreter's stdin and run as a subprocess, grounded on
// original_source/noetl/worker/plugin/python.go's `execute_python_task`,
// generalized from its in-process `exec()` (no Go analog for arbitrary
// sandboxed code) to an out-of-process interpreter invocation in the manner
// of goadesign-goa-ai's features/mcp/runtime/stdiocaller.go's
// exec.CommandContext use. `interpreter` in `with`/actionSpec selects the
// binary (default "python3"); stdout is the result payload, non-zero exit is
// a retryable failure (the process may simply have been killed by resource
// limits), a non-zero exit with no output is treated the same way.
type CodeExecutor struct {
	timeout time.Duration
}

func NewCodeExecutor(timeout time.Duration) *CodeExecutor {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &CodeExecutor{timeout: timeout}
}

func (e *CodeExecutor) Execute(ctx context.Context, actionSpec, with value.Value) (worker.ExecutionResult, error) {
	code := firstNonEmpty(stringField(with, "code"), stringField(actionSpec, "code"))
	if code == "" {
		return worker.ExecutionResult{Status: "error", Error: "code: missing code", Retryable: false}, nil
	}
	interpreter := firstNonEmpty(stringField(with, "interpreter"), stringField(actionSpec, "interpreter"), "python3")

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, interpreter)
	cmd.Stdin = bytes.NewBufferString(code)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	data := value.Map(map[string]value.Value{
		"stdout": value.String(stdout.String()),
		"stderr": value.String(stderr.String()),
	})

	if err != nil {
		if runCtx.Err() != nil {
			return worker.ExecutionResult{Status: "error", Data: data, Error: fmt.Sprintf("code: timed out after %s", e.timeout), Retryable: true}, nil
		}
		return worker.ExecutionResult{Status: "error", Data: data, Error: fmt.Sprintf("code: %v", err), Retryable: true}, nil
	}
	return worker.ExecutionResult{Status: "success", Data: data}, nil
}
