package tools

import (
	"context"
	"strings"
	"testing"
)

type echoTool struct {
	name string
}

func (t *echoTool) Name() string        { return t.name }
func (t *echoTool) Description() string { return "echoes back its input" }

func (t *echoTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"text": map[string]interface{}{"type": "string"},
		},
		"required": []string{"text"},
	}
}

func (t *echoTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	text, _ := args["text"].(string)
	return NewResult("echo: " + text)
}

func TestRegistryExecute(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&echoTool{name: "echo"})

	result := reg.Execute(context.Background(), "echo", map[string]interface{}{"text": "hi"})
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.ForLLM)
	}
	if result.ForLLM != "echo: hi" {
		t.Errorf("ForLLM = %q", result.ForLLM)
	}
}

func TestRegistryExecute_UnknownTool(t *testing.T) {
	reg := NewRegistry()

	result := reg.Execute(context.Background(), "nope", nil)
	if !result.IsError {
		t.Fatal("expected error result for unknown tool")
	}
	if !strings.Contains(result.ForLLM, "unknown tool: nope") {
		t.Errorf("ForLLM = %q", result.ForLLM)
	}
}

func TestRegistryProviderDefs(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&echoTool{name: "zeta"})
	reg.Register(&echoTool{name: "alpha"})

	defs := reg.ProviderDefs()
	if len(defs) != 2 {
		t.Fatalf("len(defs) = %d, want 2", len(defs))
	}
	if defs[0].Function.Name != "alpha" || defs[1].Function.Name != "zeta" {
		t.Errorf("defs not sorted by name: %s, %s", defs[0].Function.Name, defs[1].Function.Name)
	}
	for _, d := range defs {
		if d.Type != "function" {
			t.Errorf("def type = %q, want function", d.Type)
		}
		if d.Function.Parameters == nil {
			t.Errorf("def %s has nil parameters", d.Function.Name)
		}
	}
}

func TestRegistryRegister_Replaces(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&echoTool{name: "echo"})
	reg.Register(&echoTool{name: "echo"})

	if reg.Count() != 1 {
		t.Errorf("Count = %d, want 1", reg.Count())
	}
}
