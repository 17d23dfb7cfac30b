package genai

import "testing"

func TestNewClientRequiresAPIKey(t *testing.T) {
	if _, err := NewClient(); err == nil {
		t.Fatal("NewClient without an API key should fail")
	}
	if _, err := NewClient(WithModel("gpt-4o")); err == nil {
		t.Fatal("a model alone is not enough configuration")
	}
}

func TestNewClientAppliesOptions(t *testing.T) {
	c, err := NewClient(WithAPIKey("test-key"))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if c.model != DefaultModel {
		t.Errorf("model = %q, want the default %q", c.model, DefaultModel)
	}

	c, err = NewClient(WithAPIKey("test-key"), WithModel("gpt-4o"))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if c.model != "gpt-4o" {
		t.Errorf("model = %q, want gpt-4o", c.model)
	}
}
