package history

import (
	"math"
	"strings"

	"forllm/internal/domain"
)

// Default section headers used by the reply pipeline.
const (
	PrimaryHeader = "### Current conversation thread:"
	AmbientHeader = "### Other recent discussion in this topic (for awareness only):"
)

// Result is the outcome of pruning both history tiers.
type Result struct {
	PrimaryWithHeader string
	AmbientWithHeader string
	PrimaryBudget     int
	AmbientBudget     int
	PrimaryTokens     int // tokens of PrimaryWithHeader
	AmbientTokens     int // tokens of AmbientWithHeader
}

// Pruner fits history text into a token budget by dropping whole lines from
// the oldest end.
type Pruner struct {
	counter domain.TokenCounter
}

// NewPruner returns a Pruner. counter must not be nil.
func NewPruner(counter domain.TokenCounter) *Pruner {
	if counter == nil {
		panic("history: token counter must not be nil")
	}
	return &Pruner{counter: counter}
}

// PruneLines returns the longest line suffix of text whose token count is
// at most budget. It returns "" when no suffix fits.
func (p *Pruner) PruneLines(text string, budget int) string {
	if text == "" || budget < 0 {
		return ""
	}
	lines := strings.Split(text, "\n")
	for start := 0; start < len(lines); start++ {
		candidate := strings.Join(lines[start:], "\n")
		if p.counter.Count(candidate) <= budget {
			return candidate
		}
	}
	return ""
}

// withHeader joins header and content, or returns "" for empty content.
func withHeader(header, content string) string {
	if content == "" {
		return ""
	}
	if header == "" {
		return content
	}
	return header + "\n" + content
}

// headerCost is what a header adds in front of its content.
func (p *Pruner) headerCost(header string) int {
	if header == "" {
		return 0
	}
	return p.counter.Count(header + "\n")
}

// Prune splits available tokens between primary and ambient history.
// Primary is pruned first against floor(available*ratio) minus its header;
// ambient then gets whatever primary did not use, minus its header.
// Headers appear only in front of surviving content.
func (p *Pruner) Prune(rawPrimary, rawAmbient string, available int, ratio float64, primaryHeader, ambientHeader string) Result {
	if available < 0 {
		available = 0
	}
	if math.IsNaN(ratio) {
		ratio = domain.DefaultChatHistorySettings().PrimaryBudgetRatio
	}
	ratio = math.Max(0, math.Min(1, ratio))

	var res Result
	res.PrimaryBudget = int(math.Floor(float64(available) * ratio))
	if rawPrimary != "" {
		res.PrimaryBudget -= p.headerCost(primaryHeader)
	}
	res.PrimaryBudget = max(res.PrimaryBudget, 0)
	res.PrimaryWithHeader = withHeader(primaryHeader, p.PruneLines(rawPrimary, res.PrimaryBudget))
	res.PrimaryTokens = p.counter.Count(res.PrimaryWithHeader)

	res.AmbientBudget = available - res.PrimaryTokens
	if rawAmbient != "" {
		res.AmbientBudget -= p.headerCost(ambientHeader)
	}
	res.AmbientBudget = max(res.AmbientBudget, 0)
	res.AmbientWithHeader = withHeader(ambientHeader, p.PruneLines(rawAmbient, res.AmbientBudget))
	res.AmbientTokens = p.counter.Count(res.AmbientWithHeader)
	return res
}
