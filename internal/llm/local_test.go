package llm

import (
	"context"
	"strings"
	"testing"
)

func TestStubClient_Generate_ShouldQuoteLastUserLine(t *testing.T) {
	stub := NewStubClient("[stub] ")

	got, err := stub.Generate(context.Background(), "llama3", "Instructions\n\nUser: first\nUser: what time is it?\n\nWrite your reply to the last message in the conversation above.")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.HasPrefix(got, "[stub] ") {
		t.Errorf("expected prefix, got %q", got)
	}
	if !strings.Contains(got, "llama3") {
		t.Errorf("expected model name in answer, got %q", got)
	}
	if !strings.HasSuffix(got, "> User: what time is it?") {
		t.Errorf("expected quoted last user line, got %q", got)
	}
}

func TestStubClient_Generate_WhenPromptEmpty_ShouldStillAnswer(t *testing.T) {
	got, err := NewStubClient("").Generate(context.Background(), "", "")
	if err != nil || got == "" {
		t.Fatalf("expected non-empty answer, got %q (%v)", got, err)
	}
}

func TestStubClient_Generate_WhenLongLine_ShouldTruncateExcerpt(t *testing.T) {
	long := "User: " + strings.Repeat("é", stubExcerptRunes+50)

	got, _ := NewStubClient("").Generate(context.Background(), "m", long)

	if !strings.HasSuffix(got, "...") {
		t.Errorf("expected truncated excerpt, got %q", got)
	}
}

func TestStubClient_Generate_WhenNoUserLine_ShouldOmitExcerpt(t *testing.T) {
	got, _ := NewStubClient("").Generate(context.Background(), "m", "Instructions only\nWrite your reply.")

	if strings.Contains(got, "> ") {
		t.Errorf("expected no excerpt, got %q", got)
	}
}

func TestStubClient_Generate_WhenContextCanceled_ShouldReturnError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewStubClient("").Generate(ctx, "m", "p"); err == nil {
		t.Fatal("expected error for canceled context")
	}
}
