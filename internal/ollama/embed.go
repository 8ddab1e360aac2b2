package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns the embedding of text under the given embedding model.
func (c *Client) Embed(ctx context.Context, model, text string) ([]float32, error) {
	data, err := json.Marshal(embedRequest{Model: model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	ctx, cancel := withTimeout(ctx, c.generationTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embed", bytes.NewReader(data))
	if err != nil {
		return nil, c.fail(KindConnectivity, "embed", 0, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.fail(KindConnectivity, "embed", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError("embed", resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.fail(KindConnectivity, "embed", 0, fmt.Errorf("read embed response: %w", err))
	}
	var result embedResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, c.fail(KindProtocol, "embed", 0, fmt.Errorf("decode embed response: %w", err))
	}
	if len(result.Embeddings) == 0 {
		return nil, c.fail(KindProtocol, "embed", 0, errors.New("ollama returned no embeddings"))
	}
	return result.Embeddings[0], nil
}
