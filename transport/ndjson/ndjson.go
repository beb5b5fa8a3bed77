// Package ndjson frames values as newline-delimited JSON: one compact JSON
// object per line, flushed as soon as it is written.
package ndjson

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/hupe1980/turnstream/core"
)

// ContentType is the media type used for event streams over HTTP.
const ContentType = "application/json"

// MaxLineSize bounds a single decoded line.
const MaxLineSize = 16 << 20

// flusher is implemented by http.ResponseWriter and bufio.Writer wrappers.
type flusher interface{ Flush() }

// errFlusher is implemented by bufio.Writer.
type errFlusher interface{ Flush() error }

// Encoder writes one JSON line per value. It is safe for concurrent use.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder returns an Encoder writing to w. When w can be flushed, every
// line is flushed after it is written.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes v as one line. Marshalling failures are returned as
// *core.SerializationError and leave the stream untouched.
func (e *Encoder) Encode(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return &core.SerializationError{Cause: err}
	}
	line = append(line, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(line); err != nil {
		return fmt.Errorf("write ndjson line: %w", err)
	}
	switch f := e.w.(type) {
	case errFlusher:
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flush ndjson line: %w", err)
		}
	case flusher:
		f.Flush()
	}
	return nil
}

// Decoder reads JSON lines. Blank lines are skipped.
type Decoder struct {
	scanner *bufio.Scanner
	line    int
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	return &Decoder{scanner: scanner}
}

// Decode reads the next line into v. It returns io.EOF at the end of input
// and *core.SerializationError for lines that are not valid JSON for v.
func (d *Decoder) Decode(v any) error {
	for d.scanner.Scan() {
		d.line++
		line := bytes.TrimSpace(d.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := json.Unmarshal(line, v); err != nil {
			return &core.SerializationError{Cause: fmt.Errorf("line %d: %w", d.line, err)}
		}
		return nil
	}
	if err := d.scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return &core.SerializationError{Cause: fmt.Errorf("line %d: %w", d.line+1, err)}
		}
		return err
	}
	return io.EOF
}

// ReadEvents decodes every event of r.
func ReadEvents(r io.Reader) ([]core.Event, error) {
	dec := NewDecoder(r)
	var events []core.Event
	for {
		var ev core.Event
		err := dec.Decode(&ev)
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}
