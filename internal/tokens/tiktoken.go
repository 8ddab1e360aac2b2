package tokens

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// Encoding is the BPE vocabulary used for counting.
const Encoding = "cl100k_base"

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c *tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// DefaultBackends returns the production tokenizer chain: tiktoken using
// its remote BPE loader, then tiktoken with the vocabulary embedded in the
// binary.
func DefaultBackends() []Backend {
	return []Backend{
		{Name: "tiktoken", Load: loadRemote},
		{Name: "tiktoken-offline", Load: loadOffline},
	}
}

func loadRemote() (Tokenizer, error) {
	enc, err := tiktoken.GetEncoding(Encoding)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", Encoding, err)
	}
	return &tiktokenCounter{enc: enc}, nil
}

func loadOffline() (Tokenizer, error) {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	enc, err := tiktoken.GetEncoding(Encoding)
	if err != nil {
		return nil, fmt.Errorf("load offline %s: %w", Encoding, err)
	}
	return &tiktokenCounter{enc: enc}, nil
}
