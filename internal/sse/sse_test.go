package sse

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iammorganparry/clive/apps/tutor/internal/models"
)

func TestEncoderFraming(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	require.NoError(t, enc.Encode(models.ContentEvent("line one\nline two")))
	require.NoError(t, enc.Encode(models.DoneEvent()))

	want := `data: {"type":"content","content":"line one\nline two"}` + "\n\n" + "data: [DONE]\n\n"
	assert.Equal(t, want, buf.String())
	assert.ErrorIs(t, enc.Encode(models.ContentEvent("late")), ErrClosed)
}

func TestRoundTrip(t *testing.T) {
	events := []models.StreamEvent{
		models.ContentEvent("The "),
		models.ContentEvent("proof\n\nfollows."),
		models.ErrorEvent(models.ErrorPayload{
			Kind:    models.ErrorKindConnectivity,
			Message: "ollama unreachable",
			Hint:    "start the backend",
			Target:  "http://localhost:11434",
		}),
		models.DoneEvent(),
	}

	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for _, ev := range events {
		require.NoError(t, enc.Encode(ev))
	}

	dec := NewDecoder(&buf)
	for _, want := range events {
		got, err := dec.Decode()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := dec.Decode()
	assert.Equal(t, io.EOF, err)
}

func TestDecoderSkipsCommentsAndBlankLines(t *testing.T) {
	in := ": keepalive\n\n\ndata: {\"type\":\"content\",\"content\":\"x\"}\r\n\r\ndata: [DONE]\n\n"
	dec := NewDecoder(strings.NewReader(in))

	ev, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, "x", ev.Content)

	ev, err = dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, models.EventDone, ev.Type)
}

func TestDecoderErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want error
	}{
		{"truncated before done", "data: {\"type\":\"content\"}\n\n", io.ErrUnexpectedEOF},
		{"unknown field", "event: content\n\n", ErrMalformed},
		{"two data lines", "data: {}\ndata: {}\n\n", ErrMalformed},
		{"bad json", "data: {nope\n\n", ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := NewDecoder(strings.NewReader(tt.in))
			var err error
			for err == nil {
				_, err = dec.Decode()
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
