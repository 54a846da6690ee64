package planner

import (
	"context"
	"errors"
	"testing"

	"hireline/internal/config"
)

func testPlanner() *Planner {
	return New(nil, config.Default())
}

func TestPlanRejectsEmptyTask(t *testing.T) {
	p := testPlanner()
	for _, task := range []string{"", "   ", "\n\t"} {
		if _, err := p.Plan(context.Background(), task); !errors.Is(err, ErrEmptyTask) {
			t.Fatalf("task %q: err = %v", task, err)
		}
	}
}

func TestFallbackMapsKeywords(t *testing.T) {
	p := testPlanner()
	cases := []struct {
		task string
		want []string
	}{
		{"What's the weather in Paris?", []string{"data", "research"}},
		{"calculate 2+2", []string{"math"}},
		{"summarize this article", []string{"text"}},
		{"explain how tides work", []string{"research"}},
		{"weather forecast, then compute the average temperature", []string{"data", "math"}},
		{"sum of 2 and 3", []string{"math"}},
		{"what is the price of gold", []string{"data", "research"}},
	}
	for _, tc := range cases {
		steps := p.Fallback(tc.task)
		if len(steps) != len(tc.want) {
			t.Fatalf("task %q: %d steps, want %d", tc.task, len(steps), len(tc.want))
		}
		for i, cat := range tc.want {
			if steps[i].CapabilityID != cat {
				t.Fatalf("task %q: step %d = %s, want %s", tc.task, i, steps[i].CapabilityID, cat)
			}
			if steps[i].Parameters["task"] != tc.task {
				t.Fatalf("task %q: step %d missing task parameter", tc.task, i)
			}
		}
	}
}

func TestContainsKeywordBoundaries(t *testing.T) {
	cases := []struct {
		text, kw string
		want     bool
	}{
		{"summarize this article", "sum", false},
		{"sum of 2 and 3", "sum", true},
		{"the sum", "sum", true},
		{"sum", "sum", true},
		{"sum, then average", "sum", true},
		{"assume nothing", "sum", false},
		{"what is the price of gold", "price of", true},
		{"caprice of the market", "price of", false},
		{"anything", "", false},
	}
	for _, tc := range cases {
		if got := containsKeyword(tc.text, tc.kw); got != tc.want {
			t.Fatalf("containsKeyword(%q, %q) = %v, want %v", tc.text, tc.kw, got, tc.want)
		}
	}
}

func TestFallbackIsTotal(t *testing.T) {
	p := testPlanner()
	steps := p.Fallback("zzzzz qqqq")
	if len(steps) != 1 {
		t.Fatalf("steps = %d", len(steps))
	}
	if steps[0].CapabilityID != "research" {
		t.Fatalf("default category = %s", steps[0].CapabilityID)
	}
}

func TestPlanWithoutCollaboratorUsesFallback(t *testing.T) {
	p := testPlanner()
	steps, err := p.Plan(context.Background(), "calculate 40+2")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(steps) != 1 || steps[0].CapabilityID != "math" {
		t.Fatalf("steps = %+v", steps)
	}
}
