package worker

import (
	"context"
	"errors"
	"testing"

	"hireline/internal/domain"
)

func TestEvalExpression(t *testing.T) {
	cases := []struct {
		expr string
		want float64
	}{
		{"2+2", 4},
		{"2 + 3 * 4", 14},
		{"(2 + 3) * 4", 20},
		{"10 / 4", 2.5},
		{"-3 + 5", 2},
		{"2 * -3", -6},
		{"1 - 2 - 3", -4},
		{"((1))", 1},
		{"1.5 * 2 + 0.25", 3.25},
	}
	for _, tc := range cases {
		got, err := evalExpression(tc.expr)
		if err != nil {
			t.Fatalf("eval %q: %v", tc.expr, err)
		}
		if got != tc.want {
			t.Fatalf("eval %q = %g, want %g", tc.expr, got, tc.want)
		}
	}
}

func TestEvalExpressionErrors(t *testing.T) {
	for _, expr := range []string{"", "1/0", "(1+2", "2+", "abc", "1 2"} {
		if _, err := evalExpression(expr); err == nil {
			t.Fatalf("eval %q: expected error", expr)
		}
	}
}

func TestExtractExpressionFromProse(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"please calculate 12 * (3 + 4) for me", "12 * (3 + 4)"},
		{"what is 2+2?", "2+2"},
		{"no math here", ""},
		{"year 2024", ""},
	}
	for _, tc := range cases {
		if got := extractExpression(tc.text); got != tc.want {
			t.Fatalf("extract %q = %q, want %q", tc.text, got, tc.want)
		}
	}
}

func TestBuiltinCallMath(t *testing.T) {
	b := NewBuiltin()
	step := domain.PlannedStep{
		CapabilityID: "math",
		Parameters:   map[string]any{"task": "calculate 6 * 7"},
	}
	resp, err := b.Call(context.Background(), domain.WorkerEntry{ID: "calc"}, step)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if resp.Result.Kind != domain.ResultMath || resp.Result.Value != 42 {
		t.Fatalf("result = %+v", resp.Result)
	}
}

func TestBuiltinCallMathPrefersExpressionParam(t *testing.T) {
	b := NewBuiltin()
	step := domain.PlannedStep{
		CapabilityID: "math",
		Parameters:   map[string]any{"task": "ignore 1+1", "expression": "10/4"},
	}
	resp, err := b.Call(context.Background(), domain.WorkerEntry{ID: "calc"}, step)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if resp.Result.Value != 2.5 {
		t.Fatalf("value = %g", resp.Result.Value)
	}
}

func TestBuiltinCallWrapsErrors(t *testing.T) {
	b := NewBuiltin()
	step := domain.PlannedStep{
		CapabilityID: "math",
		Parameters:   map[string]any{"task": "nothing numeric"},
	}
	_, err := b.Call(context.Background(), domain.WorkerEntry{ID: "calc"}, step)
	if !errors.Is(err, ErrWorkerCall) {
		t.Fatalf("err = %v", err)
	}
}

func TestBuiltinDataAndTextResults(t *testing.T) {
	b := NewBuiltin()
	params := map[string]any{"task": "weather in Rome. Also tomorrow."}

	data := b.Degraded("data", params)
	if data.Kind != domain.ResultData || data.Data["query"] != "weather in Rome. Also tomorrow." {
		t.Fatalf("data result = %+v", data)
	}
	text := b.Degraded("text", params)
	if text.Kind != domain.ResultText || text.Text != "weather in Rome." {
		t.Fatalf("text result = %+v", text)
	}
	research := b.Degraded("research", params)
	if research.Kind != domain.ResultResearch || research.Source != "local" {
		t.Fatalf("research result = %+v", research)
	}
}

func TestDegradedIsTotal(t *testing.T) {
	b := NewBuiltin()
	got := b.Degraded("quantum-oracle", nil)
	if got.Kind != domain.ResultText || got.Text == "" {
		t.Fatalf("placeholder = %+v", got)
	}
	// math with no evaluable expression falls back to the generic stub
	got = b.Degraded("math", map[string]any{"task": "no numbers"})
	if got.Kind != domain.ResultText || got.Text == "" {
		t.Fatalf("placeholder = %+v", got)
	}
}
