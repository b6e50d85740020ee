// Package output captures subprocess output into channels addressable by
// id, so build and watch command logs can be retrieved after the fact.
package output

import (
	"bytes"
	"strings"
	"sync"
	"time"
)

// Stream identifies the source stream.
type Stream int

const (
	// Stdout is standard output.
	Stdout Stream = iota
	// Stderr is standard error.
	Stderr
)

// String returns the stream name.
func (s Stream) String() string {
	switch s {
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	default:
		return "unknown"
	}
}

// Line is a single line of output.
type Line struct {
	// Content is the line content without the newline.
	Content string

	// Stream identifies the source.
	Stream Stream

	// Timestamp is when the line was received.
	Timestamp time.Time

	// Number is the sequential line number (1-based) across both streams.
	Number int
}

// Channel is a bounded ring of output lines.
type Channel struct {
	id    string
	label string

	mu       sync.RWMutex
	lines    []Line
	capacity int
	head     int
	count    int
	total    int

	// maxLine caps a single line; longer content is split.
	maxLine int

	subscribers []func(Line)
}

func newChannel(id, label string, capacity, maxLine int) *Channel {
	if capacity <= 0 {
		capacity = 1000
	}
	if maxLine <= 0 {
		maxLine = 64 * 1024
	}
	return &Channel{
		id:       id,
		label:    label,
		lines:    make([]Line, capacity),
		capacity: capacity,
		maxLine:  maxLine,
	}
}

// ID returns the channel id.
func (c *Channel) ID() string {
	return c.id
}

// Label returns the human-readable label.
func (c *Channel) Label() string {
	return c.label
}

// Subscribe registers fn to receive every subsequent line.
func (c *Channel) Subscribe(fn func(Line)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, fn)
}

// Append adds a line. Lines past the capacity evict the oldest.
func (c *Channel) Append(stream Stream, content string) {
	c.mu.Lock()
	c.total++
	line := Line{
		Content:   content,
		Stream:    stream,
		Timestamp: time.Now(),
		Number:    c.total,
	}
	idx := (c.head + c.count) % c.capacity
	c.lines[idx] = line
	if c.count < c.capacity {
		c.count++
	} else {
		c.head = (c.head + 1) % c.capacity
	}
	subs := c.subscribers
	c.mu.Unlock()

	for _, fn := range subs {
		fn(line)
	}
}

// Lines returns the retained lines in order.
func (c *Channel) Lines() []Line {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Line, c.count)
	for i := 0; i < c.count; i++ {
		out[i] = c.lines[(c.head+i)%c.capacity]
	}
	return out
}

// LastLines returns up to the last n retained lines.
func (c *Channel) LastLines(n int) []Line {
	lines := c.Lines()
	if n <= 0 {
		return nil
	}
	if n >= len(lines) {
		return lines
	}
	return lines[len(lines)-n:]
}

// Total returns the number of lines ever appended.
func (c *Channel) Total() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.total
}

// Content returns the retained lines joined by newlines.
func (c *Channel) Content() string {
	lines := c.Lines()
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = l.Content
	}
	return strings.Join(parts, "\n")
}

// Writer returns an io.Writer that splits written bytes into lines on
// stream. Call Flush on it after the writer's source is done to emit a
// trailing partial line.
func (c *Channel) Writer(stream Stream) *LineWriter {
	return &LineWriter{ch: c, stream: stream}
}

// LineWriter splits a byte stream into channel lines.
type LineWriter struct {
	ch     *Channel
	stream Stream

	mu  sync.Mutex
	buf bytes.Buffer
}

// Write implements io.Writer.
func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		data := w.buf.Bytes()
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			if len(data) >= w.ch.maxLine {
				w.emit(string(data[:w.ch.maxLine]))
				w.buf.Next(w.ch.maxLine)
				continue
			}
			break
		}
		if i > w.ch.maxLine {
			i = w.ch.maxLine
			w.emit(string(data[:i]))
			w.buf.Next(i)
			continue
		}
		w.emit(string(data[:i]))
		w.buf.Next(i + 1)
	}
	return len(p), nil
}

// Flush emits any buffered partial line.
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
}

func (w *LineWriter) emit(s string) {
	w.ch.Append(w.stream, strings.TrimSuffix(s, "\r"))
}
