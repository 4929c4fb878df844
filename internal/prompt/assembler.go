package prompt

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"forllm/internal/domain"
)

const (
	// DefaultSafetyMargin reserves a tenth of the window for the answer.
	DefaultSafetyMargin = 0.9

	// DefaultFinalInstruction closes every reply prompt.
	DefaultFinalInstruction = "Write your reply to the last message in the conversation above. Stay in character and do not repeat the conversation."

	sectionSeparator = "\n\n"
)

// ErrPromptTooLarge is returned when the assembled prompt does not fit the
// model's budget. Such prompts are never sent.
var ErrPromptTooLarge = errors.New("prompt: exceeds token budget")

// Sections are the prompt parts in the order they are emitted.
type Sections struct {
	Attachments         string
	PersonaInstructions string
	Ambient             string // pruned, header included
	Primary             string // pruned, header included; ends with the answered post
	FinalInstruction    string // DefaultFinalInstruction when empty
}

// Assembled is a prompt with its token accounting.
type Assembled struct {
	Text      string
	Breakdown domain.TokenBreakdown
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithSafetyMargin sets the fraction of the context window a prompt may
// use. Values outside (0, 1] are ignored.
func WithSafetyMargin(m float64) Option {
	return func(a *Assembler) {
		if m > 0 && m <= 1 {
			a.safetyMargin = m
		}
	}
}

// Assembler builds bounded prompts.
type Assembler struct {
	counter domain.TokenCounter

	mu           sync.RWMutex
	safetyMargin float64
}

// NewAssembler returns an Assembler. counter must not be nil.
func NewAssembler(counter domain.TokenCounter, opts ...Option) *Assembler {
	if counter == nil {
		panic("prompt: token counter must not be nil")
	}
	a := &Assembler{counter: counter, safetyMargin: DefaultSafetyMargin}
	for _, o := range opts {
		o(a)
	}
	return a
}

// SafetyMargin returns the configured margin.
func (a *Assembler) SafetyMargin() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.safetyMargin
}

// SetSafetyMargin changes the margin for later prompts. Values outside
// (0, 1] are ignored.
func (a *Assembler) SetSafetyMargin(m float64) {
	a.mu.Lock()
	WithSafetyMargin(m)(a)
	a.mu.Unlock()
}

// MaxAllowed returns floor(contextWindow * safetyMargin).
func (a *Assembler) MaxAllowed(contextWindow int) int {
	return int(math.Floor(float64(contextWindow) * a.SafetyMargin()))
}

// AvailableForHistory returns the tokens left for the two history blocks
// once the fixed sections and their separators are accounted for. It never
// returns a negative number.
func (a *Assembler) AvailableForHistory(contextWindow int, fixed Sections) int {
	fixed.Ambient, fixed.Primary = "", ""
	used := a.counter.Count(join(fixed)) + 2*a.counter.Count(sectionSeparator)
	return max(a.MaxAllowed(contextWindow)-used, 0)
}

// Assemble joins the sections and checks the result against the budget.
// On ErrPromptTooLarge the returned Assembled still carries the breakdown
// so the failure can be reported.
func (a *Assembler) Assemble(s Sections, contextWindow int) (Assembled, error) {
	if s.FinalInstruction == "" {
		s.FinalInstruction = DefaultFinalInstruction
	}
	text := join(s)
	b := domain.TokenBreakdown{
		ContextWindow:       contextWindow,
		SafetyMargin:        a.SafetyMargin(),
		MaxAllowed:          a.MaxAllowed(contextWindow),
		AvailableForHistory: a.AvailableForHistory(contextWindow, s),
		Attachments:         a.counter.Count(s.Attachments),
		PersonaInstructions: a.counter.Count(s.PersonaInstructions),
		AmbientHistory:      a.counter.Count(s.Ambient),
		PrimaryHistory:      a.counter.Count(s.Primary),
		FinalInstruction:    a.counter.Count(s.FinalInstruction),
		Total:               a.counter.Count(text),
	}
	out := Assembled{Text: text, Breakdown: b}
	if b.Total > b.MaxAllowed {
		return out, fmt.Errorf("%w: prompt has %d tokens, limit is %d (context window %d at margin %.2f)",
			ErrPromptTooLarge, b.Total, b.MaxAllowed, contextWindow, b.SafetyMargin)
	}
	return out, nil
}

func join(s Sections) string {
	final := s.FinalInstruction
	if final == "" {
		final = DefaultFinalInstruction
	}
	parts := make([]string, 0, 5)
	for _, p := range []string{s.Attachments, s.PersonaInstructions, s.Ambient, s.Primary, final} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, sectionSeparator)
}

// FormatAttachments renders text attachments as one block, or "" when
// there are none.
func FormatAttachments(atts []domain.Attachment) string {
	if len(atts) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("--- Attached Files ---")
	for _, att := range atts {
		fmt.Fprintf(&b, "\nFile: %s\n%s\n", att.Filename, strings.TrimRight(att.Content, "\n"))
	}
	b.WriteString("--- End of Attached Files ---")
	return b.String()
}
