package llm

import (
	"context"
	"strings"
)

const echoChunkSize = 24

// EchoProvider is the deterministic development provider: it streams the
// request's user text back in fixed-size chunks. Useful for wiring tests
// and running the stack without an API key.
type EchoProvider struct{}

// NewEchoProvider creates the echo provider.
func NewEchoProvider() *EchoProvider {
	return &EchoProvider{}
}

func (*EchoProvider) Name() string { return "echo" }

func (*EchoProvider) Stream(ctx context.Context, req Request, onChunk ChunkFunc) (string, error) {
	var b strings.Builder
	runes := []rune(req.User)
	for start := 0; start < len(runes); start += echoChunkSize {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		end := start + echoChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunk := string(runes[start:end])
		b.WriteString(chunk)
		if onChunk != nil {
			if err := onChunk(chunk); err != nil {
				return "", err
			}
		}
	}
	return b.String(), nil
}
