package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const maxLineSize = 1 << 20

// ChatStream yields the generated text in arrival order. Streaming replies
// are newline-delimited JSON objects; a non-streaming reply is exposed as
// a single fragment.
type ChatStream struct {
	scanner *bufio.Scanner
	body    io.Closer
	cancel  context.CancelFunc
	client  *Client

	pending []string
	done    bool
	err     error
}

func newChatStream(body io.ReadCloser, cancel context.CancelFunc, c *Client) *ChatStream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &ChatStream{scanner: sc, body: body, cancel: cancel, client: c}
}

func newCompleteStream(content string) *ChatStream {
	return &ChatStream{pending: []string{content}, done: true}
}

// Next returns the next text fragment. It returns io.EOF after the
// backend's done marker. Empty fragments are skipped.
func (s *ChatStream) Next() (string, error) {
	for {
		if len(s.pending) > 0 {
			frag := s.pending[0]
			s.pending = s.pending[1:]
			return frag, nil
		}
		if s.err != nil {
			return "", s.err
		}
		if s.done {
			return "", io.EOF
		}
		s.readLine()
	}
}

func (s *ChatStream) readLine() {
	if !s.scanner.Scan() {
		err := s.scanner.Err()
		if err == nil {
			err = errors.New("unexpected end of stream")
			s.err = s.client.fail(KindProtocol, "chat", 0, err)
			return
		}
		s.err = s.client.fail(KindConnectivity, "chat", 0, err)
		return
	}
	line := s.scanner.Bytes()
	if len(line) == 0 {
		return
	}

	var chunk chatResponse
	if err := json.Unmarshal(line, &chunk); err != nil {
		s.err = s.client.fail(KindProtocol, "chat", 0, fmt.Errorf("decode stream chunk: %w", err))
		return
	}
	if chunk.Error != "" {
		s.err = s.client.fail(KindProtocol, "chat", 0, errors.New(chunk.Error))
		return
	}
	if chunk.Message.Content != "" {
		s.pending = append(s.pending, chunk.Message.Content)
	}
	if chunk.Done {
		s.done = true
	}
}

// Close releases the response body and the call's deadline.
func (s *ChatStream) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.body != nil {
		return s.body.Close()
	}
	return nil
}
