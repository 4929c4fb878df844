package llm

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"forllm/internal/domain"
)

const stubExcerptRunes = 200

// StubClient is the local responder used when the model endpoint is
// unreachable. Its answer is deterministic and never empty.
type StubClient struct {
	Prefix string // prepended to every answer
}

// NewStubClient returns a stub responder with the given prefix.
func NewStubClient(prefix string) *StubClient {
	return &StubClient{Prefix: prefix}
}

// Generate implements domain.ModelClient. It quotes the last "User:" line of
// the prompt, which is the post being answered; the final instruction that
// follows it is skipped.
func (s *StubClient) Generate(ctx context.Context, model, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if model == "" {
		model = "model"
	}
	answer := fmt.Sprintf("%sThe %s endpoint is unavailable, so this is an automatic placeholder reply.", s.Prefix, model)
	if excerpt := lastUserLine(prompt); excerpt != "" {
		answer += "\n\n> " + excerpt
	}
	return answer, nil
}

func lastUserLine(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "User:") {
			continue
		}
		if utf8.RuneCountInString(line) > stubExcerptRunes {
			r := []rune(line)
			line = string(r[:stubExcerptRunes]) + "..."
		}
		return line
	}
	return ""
}

var _ domain.ModelClient = (*StubClient)(nil)
