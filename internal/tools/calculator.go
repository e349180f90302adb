package tools

import (
	"context"
	"errors"
	"strings"

	calculator "github.com/tmc/langchaingo/tools"
)

// maxExpressionLength bounds accepted arithmetic expressions.
const maxExpressionLength = 100

// allowedExpressionChars is the character set an expression may contain
// after sanitization.
const allowedExpressionChars = "0123456789+-*/.() "

// CalculatorTool evaluates arithmetic expressions extracted from subtask
// descriptions.
type CalculatorTool struct {
	eval calculator.Calculator
}

// NewCalculatorTool creates a calculator tool.
func NewCalculatorTool() *CalculatorTool {
	return &CalculatorTool{}
}

func (c *CalculatorTool) Name() string {
	return "calculator"
}

func (c *CalculatorTool) Description() string {
	return "Evaluate arithmetic expressions using numbers, + - * /, and parentheses."
}

func (c *CalculatorTool) CapabilityTags() []string {
	return []string{"calculate", "compute", "math", "sum", "add", "multiply", "divide", "subtract", "total"}
}

// Invoke sanitizes the description down to an arithmetic expression and
// evaluates it. All failures here are permanent: a malformed expression
// will not get better on retry.
func (c *CalculatorTool) Invoke(ctx context.Context, input string) (string, error) {
	expr := sanitizeExpression(input)
	if expr == "" {
		return "", NewPermanentError(c.Name(), errors.New("no arithmetic expression found"))
	}
	if len(expr) > maxExpressionLength {
		return "", NewPermanentError(c.Name(), errors.New("expression too long"))
	}

	out, err := c.eval.Call(ctx, expr)
	if err != nil {
		return "", NewPermanentError(c.Name(), err)
	}
	out = strings.TrimSpace(out)
	// The evaluator reports parse failures in-band with a nil error.
	if strings.HasPrefix(out, "error from evaluator") {
		return "", NewPermanentError(c.Name(), errors.New(out))
	}
	return out, nil
}

// sanitizeExpression strips every character an arithmetic expression cannot
// contain, so "compute 2+2" reduces to "2+2".
func sanitizeExpression(input string) string {
	var b strings.Builder
	for _, r := range input {
		if strings.ContainsRune(allowedExpressionChars, r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
