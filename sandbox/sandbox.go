package sandbox

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"

	parley "github.com/novandi/parley"
)

//go:embed prelude.js
var preludeSource string

// postludeSource closes the async wrapper opened by buildScript and flushes
// the procedure's resolved value before exiting. An explicit exit is
// required: the stdin readline interface would otherwise keep the event
// loop alive forever.
const postludeSource = `
})().then((v) => {
  if (v !== undefined && v !== null) {
    _protoOut.write(JSON.stringify({ type: 'result', data: v }) + '\n');
  }
  process.exit(0);
}).catch((err) => {
  console.error((err && err.stack) || String(err));
  process.exit(1);
});
`

// blockedPatterns are checked before execution to reject obviously dangerous
// code. The real isolation boundary is the scrubbed subprocess; this is a
// cheap first filter.
var blockedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`require\s*\(\s*['"]child_process['"]`),
	regexp.MustCompile(`require\s*\(\s*['"]worker_threads['"]`),
	regexp.MustCompile(`require\s*\(\s*['"]fs['"]`),
	regexp.MustCompile(`process\.binding\s*\(`),
}

// SubprocessRunner executes handler procedures under Node.js in a subprocess
// with a JSON line protocol bridging the capability context (partial-message
// emission, outbound HTTP) back to the host. Implements parley.HandlerRunner.
//
// The subprocess sees a scrubbed environment and only the capabilities the
// host injects; the host's environment variables and credentials never cross
// the boundary.
type SubprocessRunner struct {
	nodeBin string
	cfg     runnerConfig
}

// compile-time check
var _ parley.HandlerRunner = (*SubprocessRunner)(nil)

// NewSubprocessRunner creates a SubprocessRunner that executes handler code
// via the given Node.js binary (e.g., "node").
func NewSubprocessRunner(nodeBin string, opts ...Option) *SubprocessRunner {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &SubprocessRunner{nodeBin: nodeBin, cfg: cfg}
}

// Run executes the decoded procedure body as an async function. Capability
// calls from the procedure are serviced synchronously relative to its own
// execution: emits are forwarded the moment they arrive, fetches block the
// procedure until the host replies.
//
// The timeout is a hard cancellation boundary; a hung procedure is killed
// and reported as failed, never left to block the caller.
func (r *SubprocessRunner) Run(ctx context.Context, req parley.HandlerRequest, caps parley.Capabilities) (parley.HandlerResult, error) {
	for _, pat := range blockedPatterns {
		if pat.MatchString(req.Source) {
			return parley.HandlerResult{
				Err:      fmt.Sprintf("blocked: code contains prohibited pattern: %s", pat.String()),
				ExitCode: 1,
			}, nil
		}
	}

	timeout := r.cfg.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	script, err := buildScript(req)
	if err != nil {
		return parley.HandlerResult{}, fmt.Errorf("sandbox: build script: %w", err)
	}

	tmpFile, err := os.CreateTemp("", "parley-handler-*.js")
	if err != nil {
		return parley.HandlerResult{}, fmt.Errorf("sandbox: create temp file: %w", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.WriteString(script); err != nil {
		tmpFile.Close()
		return parley.HandlerResult{}, fmt.Errorf("sandbox: write script: %w", err)
	}
	tmpFile.Close()

	cmd := exec.CommandContext(ctx, r.nodeBin, "--no-warnings", tmpFile.Name())
	cmd.Dir = r.resolveWorkspace()
	cmd.Env = r.buildEnv()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return parley.HandlerResult{}, fmt.Errorf("sandbox: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return parley.HandlerResult{}, fmt.Errorf("sandbox: stdout pipe: %w", err)
	}

	// Capture stderr (console.error output + crash stacks).
	var stderrBuf strings.Builder
	cmd.Stderr = &stderrWriter{w: &stderrBuf, max: r.cfg.maxOutput}

	if err := cmd.Start(); err != nil {
		return parley.HandlerResult{}, fmt.Errorf("sandbox: start subprocess: %w", err)
	}

	finalOutput := relay(ctx, stdout, stdin, caps, r.cfg.maxOutput)

	err = cmd.Wait()
	logs := stderrBuf.String()
	if len(logs) > r.cfg.maxOutput {
		logs = logs[:r.cfg.maxOutput] + "\n... (truncated)"
	}

	result := parley.HandlerResult{
		Output: finalOutput,
		Logs:   logs,
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			result.Err = fmt.Sprintf("execution timed out after %s", timeout)
			result.ExitCode = -1
		} else if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			result.Err = firstLine(logs)
			if result.Err == "" {
				result.Err = fmt.Sprintf("exit code %d", exitErr.ExitCode())
			}
		} else {
			result.Err = err.Error()
			result.ExitCode = -1
		}
	}

	return result, nil
}

// buildScript assembles prelude + frozen capability context + user code +
// postlude. The procedure body runs as the body of an async function, so
// `return` resolves it and `await` works on capability calls.
func buildScript(req parley.HandlerRequest) (string, error) {
	contextData, err := json.Marshal(struct {
		Params  map[string]any    `json:"params"`
		Request map[string]string `json:"request"`
	}{Params: req.Params, Request: req.Request})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(preludeSource)
	b.WriteString("\nconst context = _makeContext(")
	b.Write(contextData)
	b.WriteString(");\n(async () => {\n")
	b.WriteString(req.Source)
	b.WriteString("\n")
	b.WriteString(postludeSource)
	return b.String(), nil
}

// resolveWorkspace returns the working directory for the subprocess.
func (r *SubprocessRunner) resolveWorkspace() string {
	if r.cfg.workspace != "" {
		return r.cfg.workspace
	}
	return os.TempDir()
}

// buildEnv constructs the scrubbed environment for the subprocess. The
// host's environment is never passed through.
func (r *SubprocessRunner) buildEnv() []string {
	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"LANG=en_US.UTF-8",
	}
	for k, v := range r.cfg.envVars {
		env = append(env, k+"="+v)
	}
	return env
}

// --- Protocol types ---

type protocolMessage struct {
	Type    string              `json:"type"`
	ID      string              `json:"id,omitempty"`
	Data    json.RawMessage     `json:"data,omitempty"`
	Request parley.FetchRequest `json:"request,omitempty"`
}

type protocolReply struct {
	Type     string               `json:"type"`
	ID       string               `json:"id,omitempty"`
	Response *parley.FetchResponse `json:"response,omitempty"`
	Error    string               `json:"error,omitempty"`
}

// relay runs the protocol loop: it reads JSON messages from the sandbox's
// stdout, services capability calls, writes replies to stdin, and returns
// the procedure's resolved value once the stream ends.
func relay(ctx context.Context, stdout io.Reader, stdin io.Writer, caps parley.Capabilities, maxOutput int) string {
	var finalOutput string

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, maxOutput), maxOutput)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		var msg protocolMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			continue // skip non-protocol output
		}

		switch msg.Type {
		case "emit":
			if caps.Emit != nil {
				var text string
				if err := json.Unmarshal(msg.Data, &text); err == nil {
					caps.Emit(text)
				}
			}

		case "http_fetch":
			writeJSON(stdin, handleFetch(ctx, msg, caps))

		case "result":
			// A bare JSON string resolves to its unquoted value; anything
			// else keeps its JSON encoding.
			var text string
			if err := json.Unmarshal(msg.Data, &text); err == nil {
				finalOutput = text
			} else {
				finalOutput = string(msg.Data)
			}
		}
	}

	return finalOutput
}

// handleFetch services one outbound-HTTP capability call.
func handleFetch(ctx context.Context, msg protocolMessage, caps parley.Capabilities) protocolReply {
	if caps.Fetch == nil {
		return protocolReply{Type: "http_error", ID: msg.ID, Error: "http fetch is not available to this handler"}
	}
	resp, err := caps.Fetch(ctx, msg.Request)
	if err != nil {
		return protocolReply{Type: "http_error", ID: msg.ID, Error: err.Error()}
	}
	return protocolReply{Type: "http_result", ID: msg.ID, Response: &resp}
}

// writeJSON writes a JSON-encoded reply to the writer, followed by a newline.
func writeJSON(w io.Writer, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "%s\n", data)
}

// firstLine returns the first non-empty line of s, for short error details.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			return strings.TrimSpace(line)
		}
	}
	return ""
}

// stderrWriter limits stderr capture to a maximum size.
type stderrWriter struct {
	w   *strings.Builder
	max int
}

// Write keeps at most max bytes and silently discards the rest. It always
// reports the full length consumed; a short-write return would surface as
// an exec error and fail handlers that merely log a lot.
func (sw *stderrWriter) Write(p []byte) (int, error) {
	n := len(p)
	if sw.w.Len() < sw.max {
		remaining := sw.max - sw.w.Len()
		if len(p) > remaining {
			p = p[:remaining]
		}
		sw.w.Write(p)
	}
	return n, nil
}
