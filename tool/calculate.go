package tool

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/Govcraft/acton-ai/types"
)

// CalculateTool evaluates basic arithmetic expressions. It supports the
// four operators, parentheses and unary minus over floating-point numbers.
type CalculateTool struct{}

func (CalculateTool) Definition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        "calculate",
		Description: "Evaluate an arithmetic expression, e.g. \"(2 + 3) * 4\".",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"expression": {"type": "string"}
			},
			"required": ["expression"]
		}`),
	}
}

func (CalculateTool) Execute(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
	var in struct {
		Expression string `json:"expression"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, types.NewError(types.ErrToolValidation, "invalid calculate arguments").WithCause(err)
	}

	p := &exprParser{input: in.Expression}
	value, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return nil, types.NewErrorf(types.ErrToolExecution, "unexpected input at position %d", p.pos)
	}

	return json.Marshal(map[string]float64{"result": value})
}

// exprParser is a minimal recursive-descent parser:
//
//	expr   = term (('+' | '-') term)*
//	term   = factor (('*' | '/') factor)*
//	factor = number | '-' factor | '(' expr ')'
type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		switch {
		case p.peek('+'):
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left += right
		case p.peek('-'):
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left -= right
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseTerm() (float64, error) {
	left, err := p.parseFactor()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		switch {
		case p.peek('*'):
			p.pos++
			right, err := p.parseFactor()
			if err != nil {
				return 0, err
			}
			left *= right
		case p.peek('/'):
			p.pos++
			right, err := p.parseFactor()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, types.NewError(types.ErrToolExecution, "division by zero")
			}
			left /= right
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseFactor() (float64, error) {
	p.skipSpace()
	if p.peek('-') {
		p.pos++
		v, err := p.parseFactor()
		return -v, err
	}
	if p.peek('(') {
		p.pos++
		v, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		p.skipSpace()
		if !p.peek(')') {
			return 0, types.NewError(types.ErrToolExecution, "missing closing parenthesis")
		}
		p.pos++
		return v, nil
	}

	start := p.pos
	for p.pos < len(p.input) && (isDigit(p.input[p.pos]) || p.input[p.pos] == '.') {
		p.pos++
	}
	if start == p.pos {
		return 0, types.NewErrorf(types.ErrToolExecution, "expected a number at position %d", start)
	}
	v, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return 0, types.NewErrorf(types.ErrToolExecution, "invalid number %q", p.input[start:p.pos]).WithCause(err)
	}
	return v, nil
}

func (p *exprParser) skipSpace() {
	p.pos += len(p.input[p.pos:]) - len(strings.TrimLeft(p.input[p.pos:], " \t"))
}

func (p *exprParser) peek(c byte) bool {
	return p.pos < len(p.input) && p.input[p.pos] == c
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
