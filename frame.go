package parley

import (
	"io"
	"strings"
	"sync"
)

// Stream framing delimiters. Frames are concatenated on the wire with no
// separator; a consumer scans for the next start delimiter after each end
// delimiter. Delimiter-like substrings inside the payload are NOT escaped;
// this is a known limitation kept for wire compatibility with existing consumers.
const (
	MessageStart = "MESSAGE_START|"
	MessageEnd   = "|MESSAGE_END|"
	JSONStart    = "JSON_START|"
	JSONEnd      = "|JSON_END|"
)

// FrameMessage wraps a plain-text fragment in message delimiters.
func FrameMessage(text string) string {
	return MessageStart + text + MessageEnd
}

// FrameJSON wraps a JSON fragment in JSON delimiters.
func FrameJSON(text string) string {
	return JSONStart + text + JSONEnd
}

// Frame is one unframed payload recovered from a delimited stream.
type Frame struct {
	JSON    bool // true when the frame carried a JSON payload
	Content string
}

// UnframeAll splits a delimited stream back into its payloads in emission
// order. Input that does not start with a known delimiter is skipped until
// the next start delimiter; an unterminated trailing frame is ignored.
func UnframeAll(stream string) []Frame {
	var frames []Frame
	for stream != "" {
		mi := strings.Index(stream, MessageStart)
		ji := strings.Index(stream, JSONStart)
		switch {
		case mi >= 0 && (ji < 0 || mi < ji):
			rest := stream[mi+len(MessageStart):]
			end := strings.Index(rest, MessageEnd)
			if end < 0 {
				return frames
			}
			frames = append(frames, Frame{Content: rest[:end]})
			stream = rest[end+len(MessageEnd):]
		case ji >= 0:
			rest := stream[ji+len(JSONStart):]
			end := strings.Index(rest, JSONEnd)
			if end < 0 {
				return frames
			}
			frames = append(frames, Frame{JSON: true, Content: rest[:end]})
			stream = rest[end+len(JSONEnd):]
		default:
			return frames
		}
	}
	return frames
}

// Flusher is implemented by writers that can push buffered bytes to the
// client immediately (e.g. http.ResponseWriter via http.Flusher).
type Flusher interface {
	Flush()
}

// Emitter writes framed output to a stream. Every write is flushed
// immediately; nothing is buffered beyond the current write.
//
// Emitter also supports streamed frames: BeginMessage opens a message frame,
// Chunk appends raw payload bytes, EndMessage closes it. The open-frame flag
// lets the engine terminate a frame left open by a failed generation flow.
//
// Safe for use from the engine goroutine and a sandbox protocol goroutine:
// writes are serialized by an internal mutex.
type Emitter struct {
	mu   sync.Mutex
	w    io.Writer
	f    Flusher // nil when the writer cannot flush
	open bool
}

// NewEmitter wraps w. If w implements Flusher, every write is flushed.
func NewEmitter(w io.Writer) *Emitter {
	e := &Emitter{w: w}
	if f, ok := w.(Flusher); ok {
		e.f = f
	}
	return e
}

func (e *Emitter) write(s string) {
	io.WriteString(e.w, s)
	if e.f != nil {
		e.f.Flush()
	}
}

// Message writes one complete message frame.
func (e *Emitter) Message(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.write(FrameMessage(text))
}

// JSON writes one complete JSON frame.
func (e *Emitter) JSON(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.write(FrameJSON(text))
}

// BeginMessage opens a streamed message frame.
func (e *Emitter) BeginMessage() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.write(MessageStart)
	e.open = true
}

// Chunk appends payload bytes to the open streamed frame.
func (e *Emitter) Chunk(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.write(text)
}

// EndMessage closes the open streamed frame.
func (e *Emitter) EndMessage() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.write(MessageEnd)
	e.open = false
}

// CloseOpenFrame terminates a streamed frame left open by a failed flow, so
// the stream never ends mid-frame. No-op when no frame is open.
func (e *Emitter) CloseOpenFrame() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.open {
		e.write(MessageEnd)
		e.open = false
	}
}
