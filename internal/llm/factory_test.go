package llm

import (
	"testing"
	"time"

	"forllm/internal/domain"
	"forllm/internal/retry"
)

func TestNewClients_WhenOllama_ShouldExposeInspector(t *testing.T) {
	clients, err := NewClients(&domain.Config{Model: domain.ModelConfig{Provider: "ollama"}}, nil)
	if err != nil {
		t.Fatalf("NewClients: %v", err)
	}
	if _, ok := clients.Inspector.(*OllamaClient); !ok {
		t.Errorf("expected OllamaClient inspector, got %T", clients.Inspector)
	}
	if clients.Responder == nil || clients.Direct == nil {
		t.Fatal("expected responder and direct clients")
	}
}

func TestNewClients_WhenEmptyProvider_ShouldDefaultToOllama(t *testing.T) {
	clients, err := NewClients(&domain.Config{}, nil)
	if err != nil {
		t.Fatalf("NewClients: %v", err)
	}
	if _, ok := clients.Direct.(*OllamaClient); !ok {
		t.Errorf("expected OllamaClient, got %T", clients.Direct)
	}
}

func TestNewClients_WhenOpenAI_ShouldHaveNoInspector(t *testing.T) {
	clients, err := NewClients(&domain.Config{Model: domain.ModelConfig{Provider: "openai", OpenAIBaseURL: "http://localhost:11434/v1"}}, nil)
	if err != nil {
		t.Fatalf("NewClients: %v", err)
	}
	if clients.Inspector != nil {
		t.Errorf("expected nil inspector, got %T", clients.Inspector)
	}
	if _, ok := clients.Direct.(*OpenAIClient); !ok {
		t.Errorf("expected OpenAIClient, got %T", clients.Direct)
	}
}

func TestNewClients_WhenLocal_ShouldUseStub(t *testing.T) {
	clients, err := NewClients(&domain.Config{Model: domain.ModelConfig{Provider: "local"}}, nil)
	if err != nil {
		t.Fatalf("NewClients: %v", err)
	}
	if _, ok := clients.Direct.(*StubClient); !ok {
		t.Errorf("expected StubClient, got %T", clients.Direct)
	}
}

func TestNewClients_WhenUnknownProvider_ShouldReturnError(t *testing.T) {
	if _, err := NewClients(&domain.Config{Model: domain.ModelConfig{Provider: "anthropic"}}, nil); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestNewClients_WhenNilConfig_ShouldReturnError(t *testing.T) {
	if _, err := NewClients(nil, nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestNewClients_WhenRetriesEnabled_ShouldWrapDirect(t *testing.T) {
	cfg := &domain.Config{Retry: domain.RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Second, Multiplier: 2}}

	clients, err := NewClients(cfg, nil)
	if err != nil {
		t.Fatalf("NewClients: %v", err)
	}
	if _, ok := clients.Direct.(*retry.RetryableClient); !ok {
		t.Errorf("expected RetryableClient, got %T", clients.Direct)
	}
}
