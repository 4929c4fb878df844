package prompt

import (
	"errors"
	"strings"
	"testing"

	"forllm/internal/domain"
)

type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

// =============================================================================
// Assemble
// =============================================================================

func TestAssembler_Assemble_ShouldOrderSections(t *testing.T) {
	a := NewAssembler(wordCounter{})

	got, err := a.Assemble(Sections{
		Attachments:         "ATTACH",
		PersonaInstructions: "PERSONA",
		Ambient:             "AMBIENT",
		Primary:             "PRIMARY\nUser: last",
		FinalInstruction:    "FINAL",
	}, 1000)

	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	want := "ATTACH\n\nPERSONA\n\nAMBIENT\n\nPRIMARY\nUser: last\n\nFINAL"
	if got.Text != want {
		t.Errorf("text:\n%q\nwant:\n%q", got.Text, want)
	}
}

func TestAssembler_Assemble_WhenOptionalSectionsEmpty_ShouldSkipThem(t *testing.T) {
	a := NewAssembler(wordCounter{})

	got, _ := a.Assemble(Sections{PersonaInstructions: "PERSONA", Primary: "User: hi"}, 1000)

	want := "PERSONA\n\nUser: hi\n\n" + DefaultFinalInstruction
	if got.Text != want {
		t.Errorf("text = %q, want %q", got.Text, want)
	}
}

func TestAssembler_Assemble_TotalShouldMatchPromptTokens(t *testing.T) {
	a := NewAssembler(wordCounter{})
	s := Sections{Attachments: "a b", PersonaInstructions: "c d e", Ambient: "f", Primary: "g h", FinalInstruction: "i"}

	got, err := a.Assemble(s, 100)

	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if got.Breakdown.Total != (wordCounter{}).Count(got.Text) {
		t.Errorf("total %d != tokens of prompt %d", got.Breakdown.Total, (wordCounter{}).Count(got.Text))
	}
	b := got.Breakdown
	if b.Attachments != 2 || b.PersonaInstructions != 3 || b.AmbientHistory != 1 || b.PrimaryHistory != 2 || b.FinalInstruction != 1 {
		t.Errorf("unexpected breakdown: %+v", b)
	}
	if b.MaxAllowed != 90 || b.ContextWindow != 100 || b.SafetyMargin != DefaultSafetyMargin {
		t.Errorf("unexpected budget fields: %+v", b)
	}
}

func TestAssembler_Assemble_WhenOverBudget_ShouldFail(t *testing.T) {
	// Given: a 10-token window at 0.9 margin -> 9 allowed
	a := NewAssembler(wordCounter{})
	s := Sections{PersonaInstructions: "one two three four five", Primary: "six seven eight nine", FinalInstruction: "ten"}

	// When: assembling a 10-token prompt
	got, err := a.Assemble(s, 10)

	// Then: it is rejected and still reports the breakdown
	if !errors.Is(err, ErrPromptTooLarge) {
		t.Fatalf("expected ErrPromptTooLarge, got %v", err)
	}
	if got.Breakdown.Total != 10 || got.Breakdown.MaxAllowed != 9 {
		t.Errorf("unexpected breakdown: %+v", got.Breakdown)
	}
	if !strings.Contains(err.Error(), "10 tokens") || !strings.Contains(err.Error(), "limit is 9") {
		t.Errorf("error should describe the overflow: %v", err)
	}
}

func TestAssembler_Assemble_WhenExactlyAtLimit_ShouldSucceed(t *testing.T) {
	a := NewAssembler(wordCounter{}, WithSafetyMargin(1.0))

	if _, err := a.Assemble(Sections{Primary: "a b c", FinalInstruction: "d"}, 4); err != nil {
		t.Fatalf("expected fit at limit, got %v", err)
	}
}

// =============================================================================
// Budget helpers
// =============================================================================

func TestAssembler_MaxAllowed_ShouldFloor(t *testing.T) {
	a := NewAssembler(wordCounter{}, WithSafetyMargin(0.75))

	if got := a.MaxAllowed(4095); got != 3071 {
		t.Errorf("MaxAllowed(4095) = %d, want 3071", got)
	}
}

func TestWithSafetyMargin_WhenOutOfRange_ShouldKeepDefault(t *testing.T) {
	for _, m := range []float64{0, -0.5, 1.5} {
		if got := NewAssembler(wordCounter{}, WithSafetyMargin(m)).SafetyMargin(); got != DefaultSafetyMargin {
			t.Errorf("margin %v: got %v", m, got)
		}
	}
}

func TestAssembler_AvailableForHistory_ShouldSubtractFixedSections(t *testing.T) {
	a := NewAssembler(wordCounter{})
	fixed := Sections{Attachments: "a b", PersonaInstructions: "c d e", FinalInstruction: "f", Primary: "ignored words here"}

	// 100 * 0.9 = 90, fixed = 6 words
	if got := a.AvailableForHistory(100, fixed); got != 84 {
		t.Errorf("AvailableForHistory = %d, want 84", got)
	}
}

func TestAssembler_AvailableForHistory_WhenFixedExceedsBudget_ShouldClampToZero(t *testing.T) {
	a := NewAssembler(wordCounter{})

	if got := a.AvailableForHistory(2, Sections{PersonaInstructions: "a b c d"}); got != 0 {
		t.Errorf("AvailableForHistory = %d, want 0", got)
	}
}

// =============================================================================
// FormatAttachments
// =============================================================================

func TestFormatAttachments(t *testing.T) {
	if FormatAttachments(nil) != "" {
		t.Error("expected empty block for no attachments")
	}
	got := FormatAttachments([]domain.Attachment{
		{Filename: "notes.txt", Content: "line one\n"},
		{Filename: "todo.md", Content: "- item"},
	})
	want := "--- Attached Files ---\nFile: notes.txt\nline one\n\nFile: todo.md\n- item\n--- End of Attached Files ---"
	if got != want {
		t.Errorf("got:\n%q\nwant:\n%q", got, want)
	}
}

func TestAssembler_SetSafetyMargin_ShouldApplyToLaterPrompts(t *testing.T) {
	a := NewAssembler(wordCounter{})

	a.SetSafetyMargin(0.5)
	a.SetSafetyMargin(1.5)

	if got := a.MaxAllowed(100); got != 50 {
		t.Errorf("expected 50 after reload, got %d", got)
	}
}
