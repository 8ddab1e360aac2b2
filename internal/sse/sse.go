// Package sse frames turn events for the browser.
//
// Every event is a single "data: <json>" line followed by a blank line.
// The stream ends with the literal event "data: [DONE]". Encoder and
// Decoder are exact inverses of each other.
package sse

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/iammorganparry/clive/apps/tutor/internal/models"
)

// DoneToken is the payload of the terminal event.
const DoneToken = "[DONE]"

const dataPrefix = "data: "

// ErrClosed is returned when writing after the done marker.
var ErrClosed = errors.New("sse: stream already terminated")

// Flusher is implemented by writers that buffer, such as
// http.ResponseWriter.
type Flusher interface {
	Flush()
}

// Encoder writes framed events to w, flushing after each one when w
// supports it.
type Encoder struct {
	w    io.Writer
	done bool
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes one event. A done event writes the terminal marker; any
// later call fails with ErrClosed.
func (e *Encoder) Encode(ev models.StreamEvent) error {
	if e.done {
		return ErrClosed
	}
	if ev.Type == models.EventDone {
		e.done = true
		return e.write(DoneToken)
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("sse: marshal event: %w", err)
	}
	return e.write(string(payload))
}

func (e *Encoder) write(data string) error {
	if _, err := io.WriteString(e.w, dataPrefix+data+"\n\n"); err != nil {
		return err
	}
	if f, ok := e.w.(Flusher); ok {
		f.Flush()
	}
	return nil
}

// Decoder reads framed events.
type Decoder struct {
	reader *bufio.Reader
	done   bool
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{reader: bufio.NewReaderSize(r, 64*1024)}
}

// ErrMalformed is wrapped by every framing error.
var ErrMalformed = errors.New("sse: malformed event")

// Decode returns the next event. The terminal marker is returned as a
// done event; after it, Decode returns io.EOF. A stream that ends before
// the marker yields io.ErrUnexpectedEOF.
func (d *Decoder) Decode() (models.StreamEvent, error) {
	if d.done {
		return models.StreamEvent{}, io.EOF
	}

	var data string
	haveData := false
	for {
		line, err := d.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return models.StreamEvent{}, io.ErrUnexpectedEOF
			}
			return models.StreamEvent{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if !haveData {
				continue
			}
			break
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, dataPrefix) {
			return models.StreamEvent{}, fmt.Errorf("%w: unexpected line %q", ErrMalformed, line)
		}
		if haveData {
			return models.StreamEvent{}, fmt.Errorf("%w: more than one data line", ErrMalformed)
		}
		data = strings.TrimPrefix(line, dataPrefix)
		haveData = true
	}

	if data == DoneToken {
		d.done = true
		return models.DoneEvent(), nil
	}
	var ev models.StreamEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return models.StreamEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return ev, nil
}
