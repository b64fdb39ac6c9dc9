package config

import "testing"

func TestDefaults(t *testing.T) {
	c := defaults()
	if c.ChatMaxTokens != 2048 {
		t.Fatalf("expected default ChatMaxTokens=2048, got %d", c.ChatMaxTokens)
	}
	if c.SemanticMaxTokens != 4096 {
		t.Fatalf("expected default SemanticMaxTokens=4096, got %d", c.SemanticMaxTokens)
	}
	if c.BaseSessionTimeout.Minutes() != 20 {
		t.Fatalf("expected default BaseSessionTimeout=20m, got %v", c.BaseSessionTimeout)
	}
}

func TestValidateReportsProblems(t *testing.T) {
	c := defaults()
	problems := c.Validate()
	if len(problems) != 1 {
		t.Fatalf("expected 1 problem on an empty config (no chat endpoint), got %d: %v", len(problems), problems)
	}

	c.APIBase = "https://example.test/v1"
	if problems := c.Validate(); len(problems) != 0 {
		t.Fatalf("expected no problems once a chat endpoint is configured, got %v", problems)
	}
}

func TestSys2FallsBackToGeneric(t *testing.T) {
	c := defaults()
	c.APIBase = "https://example.test/v1"
	c.APIKey = "sk-test"
	c.Model = "gpt-test"
	base, key, model := c.Sys2()
	if base != c.APIBase || key != c.APIKey || model != c.Model {
		t.Fatalf("expected Sys2 to fall back to generic API_* fields, got %q %q %q", base, key, model)
	}

	c.Sys2APIBase = "https://sys2.test/v1"
	base, _, _ = c.Sys2()
	if base != "https://sys2.test/v1" {
		t.Fatalf("expected Sys2 override to take priority, got %q", base)
	}
}
