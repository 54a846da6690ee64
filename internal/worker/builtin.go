package worker

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"hireline/internal/domain"
)

// Builtin serves capability calls in-process. It backs catalog workers
// that have no endpoint and produces the deterministic placeholder
// results used when self-healing exhausts every real alternative.
type Builtin struct{}

func NewBuiltin() *Builtin {
	return &Builtin{}
}

func (b *Builtin) Call(_ context.Context, entry domain.WorkerEntry, step domain.PlannedStep) (Response, error) {
	result, err := b.run(step.CapabilityID, step.Parameters)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %s: %v", ErrWorkerCall, entry.ID, err)
	}
	return Response{Result: result}, nil
}

// Degraded returns the capability-specific placeholder for a step no
// worker could complete. It is total: unknown capabilities get a
// generic text stub.
func (b *Builtin) Degraded(capabilityID string, params map[string]any) domain.StepResult {
	if result, err := b.run(capabilityID, params); err == nil {
		return result
	}
	return domain.TextResult(fmt.Sprintf("no worker could complete %q; result unavailable", capabilityID))
}

func (b *Builtin) run(capabilityID string, params map[string]any) (domain.StepResult, error) {
	task := stringParam(params, "task")
	switch capabilityID {
	case "math":
		expr := stringParam(params, "expression")
		if expr == "" {
			expr = extractExpression(task)
		}
		if expr == "" {
			return domain.StepResult{}, fmt.Errorf("no arithmetic expression in parameters")
		}
		value, err := evalExpression(expr)
		if err != nil {
			return domain.StepResult{}, err
		}
		return domain.MathResult(value), nil
	case "data":
		return domain.DataResult(map[string]any{
			"query":  task,
			"status": "unavailable",
			"note":   "no live data source reachable",
		}), nil
	case "text":
		return domain.TextResult(headline(task)), nil
	case "research":
		return domain.ResearchResult(
			fmt.Sprintf("No external research was performed for: %s", headline(task)),
			"local"), nil
	default:
		return domain.StepResult{}, fmt.Errorf("unknown builtin capability %q", capabilityID)
	}
}

func stringParam(params map[string]any, key string) string {
	if params == nil {
		return ""
	}
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

// headline trims a task string to its first sentence.
func headline(task string) string {
	task = strings.TrimSpace(task)
	if task == "" {
		return "(empty task)"
	}
	if i := strings.IndexAny(task, ".!?\n"); i > 0 {
		return task[:i+1]
	}
	return task
}

// extractExpression pulls the longest arithmetic-looking run out of
// free text.
func extractExpression(text string) string {
	best := ""
	current := strings.Builder{}
	flush := func() {
		candidate := strings.TrimSpace(current.String())
		if strings.ContainsAny(candidate, "+-*/") && len(candidate) > len(best) {
			best = candidate
		}
		current.Reset()
	}
	for _, r := range text {
		switch {
		case r >= '0' && r <= '9', r == '+', r == '-', r == '*', r == '/', r == '(', r == ')', r == '.', r == ' ':
			current.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return best
}

// evalExpression evaluates + - * / with parentheses via recursive
// descent. Deterministic by construction.
func evalExpression(expr string) (float64, error) {
	p := &exprParser{input: strings.TrimSpace(expr)}
	value, err := p.parseSum()
	if err != nil {
		return 0, err
	}
	p.skipSpaces()
	if p.pos != len(p.input) {
		return 0, fmt.Errorf("unexpected input at %q", p.input[p.pos:])
	}
	return value, nil
}

type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) skipSpaces() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}

func (p *exprParser) peek() byte {
	p.skipSpaces()
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *exprParser) parseSum() (float64, error) {
	left, err := p.parseProduct()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '+':
			p.pos++
			right, err := p.parseProduct()
			if err != nil {
				return 0, err
			}
			left += right
		case '-':
			p.pos++
			right, err := p.parseProduct()
			if err != nil {
				return 0, err
			}
			left -= right
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseProduct() (float64, error) {
	left, err := p.parseAtom()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '*':
			p.pos++
			right, err := p.parseAtom()
			if err != nil {
				return 0, err
			}
			left *= right
		case '/':
			p.pos++
			right, err := p.parseAtom()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			left /= right
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseAtom() (float64, error) {
	switch c := p.peek(); {
	case c == '(':
		p.pos++
		value, err := p.parseSum()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return value, nil
	case c == '-':
		p.pos++
		value, err := p.parseAtom()
		if err != nil {
			return 0, err
		}
		return -value, nil
	case c >= '0' && c <= '9', c == '.':
		start := p.pos
		for p.pos < len(p.input) && (p.input[p.pos] >= '0' && p.input[p.pos] <= '9' || p.input[p.pos] == '.') {
			p.pos++
		}
		value, err := strconv.ParseFloat(p.input[start:p.pos], 64)
		if err != nil {
			return 0, fmt.Errorf("bad number %q", p.input[start:p.pos])
		}
		return value, nil
	default:
		return 0, fmt.Errorf("unexpected character %q", string(c))
	}
}
