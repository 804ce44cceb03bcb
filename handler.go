package parley

import (
	"context"
	"time"
)

// HandlerRunner executes a FUNCTIONAL intent handler's procedure in an
// isolated environment. Implementations control the runtime (subprocess,
// container, Wasm) and must enforce the request timeout as a hard
// cancellation boundary: a hung procedure may never block the outer stream.
//
// The sandbox sees nothing of the host process (no environment variables,
// file system, or credentials) except the capabilities explicitly passed in.
type HandlerRunner interface {
	Run(ctx context.Context, req HandlerRequest, caps Capabilities) (HandlerResult, error)
}

// DefaultHandlerTimeout bounds a sandboxed handler's wall-clock run time.
const DefaultHandlerTimeout = 60 * time.Second

// HandlerRequest is the input to HandlerRunner.Run.
type HandlerRequest struct {
	// Source is the decoded procedure body. Decoding the configured base64
	// content is the executor's job; source never appears elsewhere.
	Source string
	// Params are the parameters extracted during intent detection.
	Params map[string]any
	// Request carries transport request metadata (headers) exposed to the
	// procedure read-only.
	Request map[string]string
	// Timeout overrides DefaultHandlerTimeout when positive.
	Timeout time.Duration
}

// HandlerResult is the outcome of a sandboxed execution.
type HandlerResult struct {
	// Output is the procedure's resolved value, empty when it resolved
	// nothing.
	Output string
	// Logs captures the procedure's console output.
	Logs string
	// ExitCode is the sandbox process exit code (0 = success).
	ExitCode int
	// Err describes an execution failure (timeout, crash, blocked code).
	// Empty on success.
	Err string
}

// Capabilities is the enumerated surface a sandboxed procedure may touch.
// It is the procedure's only window into the host: partial-message emission
// and outbound HTTP. Both are bridged synchronously relative to the
// procedure's own execution.
type Capabilities struct {
	// Emit forwards a partial message to the response stream. The engine
	// frames and flushes it immediately, never batched.
	Emit func(text string)
	// Fetch performs an outbound HTTP request on the procedure's behalf.
	Fetch func(ctx context.Context, req FetchRequest) (FetchResponse, error)
}

// FetchRequest is an outbound HTTP request made from sandboxed code.
type FetchRequest struct {
	Method  string            `json:"method,omitempty"` // default GET
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
	// Readable asks for readable-text extraction of HTML responses instead
	// of the raw body.
	Readable bool `json:"readable,omitempty"`
}

// FetchResponse is the result of a capability fetch.
type FetchResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body"`
}
