package workflow

import (
	"encoding/json"
	"errors"
	"testing"
)

func mustContext(t *testing.T, input string) *Context {
	t.Helper()
	ctx, err := NewContext(json.RawMessage(input))
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	return ctx
}

func TestResolveRequestPaths(t *testing.T) {
	ctx := mustContext(t, `{"user":{"name":"Ada","age":36},"tags":["a","b"],"pi":3.14,"flag":true}`)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain string", "no variables here", "no variables here"},
		{"nested scalar", "hello ${request:user.name}", "hello Ada"},
		{"integer keeps form", "age=${request:user.age}", "age=36"},
		{"float keeps form", "pi=${request:pi}", "pi=3.14"},
		{"bool", "flag=${request:flag}", "flag=true"},
		{"array index", "first=${request:tags.0}", "first=a"},
		{"object as compact json", "u=${request:user}", `u={"age":36,"name":"Ada"}`},
		{"array as compact json", "t=${request:tags}", `t=["a","b"]`},
		{"default used", "v=${request:missing:fallback}", "v=fallback"},
		{"empty default used", "v=${request:missing:}", "v="},
		{"two tokens", "${request:user.name} is ${request:user.age}", "Ada is 36"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ctx.Resolve(tt.in)
			if err != nil {
				t.Fatalf("Resolve(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestResolveMissingPathFails(t *testing.T) {
	ctx := mustContext(t, `{"a":1}`)

	if _, err := ctx.Resolve("${request:nope}"); err == nil {
		t.Fatal("missing path with no default should fail")
	} else {
		var resErr *resolutionError
		if !errors.As(err, &resErr) {
			t.Errorf("error type = %T, want resolutionError", err)
		}
	}

	// lenient mode reads missing paths as empty
	got, err := ctx.ResolveLenient("${request:nope}")
	if err != nil {
		t.Fatalf("ResolveLenient: %v", err)
	}
	if got != "" {
		t.Errorf("lenient resolution = %q, want empty", got)
	}
}

func TestResolveStepPaths(t *testing.T) {
	ctx := mustContext(t, `{}`)
	if err := ctx.SetStepOutput("search", json.RawMessage(`{"documents":[{"id":"d1"}],"total":1}`)); err != nil {
		t.Fatalf("SetStepOutput: %v", err)
	}

	got, err := ctx.Resolve("found ${step:search:total} docs, first=${step:search:documents.0.id}")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if want := "found 1 docs, first=d1"; got != want {
		t.Errorf("Resolve = %q, want %q", got, want)
	}

	if _, err := ctx.Resolve("${step:unknown:total}"); err == nil {
		t.Error("reference to unknown step should fail")
	}
	if got, err := ctx.Resolve("${step:unknown:total:0}"); err != nil || got != "0" {
		t.Errorf("unknown step with default = %q, %v; want 0, nil", got, err)
	}
}

func TestResolveExplicitNull(t *testing.T) {
	ctx := mustContext(t, `{"v":null}`)
	got, err := ctx.Resolve("${request:v}")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "null" {
		t.Errorf("explicit null = %q, want null", got)
	}
}
