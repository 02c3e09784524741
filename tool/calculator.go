package tool

import (
	"fmt"
	"strconv"

	"github.com/hupe1980/agentweave/core"
)

// Calculator returns a tool named "calculate" that evaluates arithmetic
// expressions (+, -, *, / and parentheses with the usual precedence). The
// result payload carries the value rendered as a string, e.g. {"result":"4"}.
func Calculator() *Function {
	return NewFunction(
		"calculate",
		"Evaluate an arithmetic expression with +, -, *, / and parentheses and return the numeric result",
		core.NewSchema(
			core.String("expression", "the arithmetic expression to evaluate"),
		),
		func(callCtx *CallContext, args map[string]any) (any, error) {
			expr, _ := args["expression"].(string)

			value, err := evalExpression(expr)
			if err != nil {
				return nil, err
			}

			return map[string]any{
				"result": strconv.FormatFloat(value, 'f', -1, 64),
			}, nil
		},
	)
}

// evalExpression evaluates an arithmetic expression via recursive descent.
func evalExpression(input string) (float64, error) {
	p := &exprParser{input: input}

	value, err := p.parseSum()
	if err != nil {
		return 0, err
	}

	p.skipSpace()
	if p.pos < len(p.input) {
		return 0, fmt.Errorf("unexpected character %q at position %d", p.input[p.pos], p.pos)
	}

	return value, nil
}

// exprParser is a minimal recursive descent parser over one expression.
// Grammar: sum = product (('+'|'-') product)*, product = factor (('*'|'/')
// factor)*, factor = '-' factor | '(' sum ')' | number.
type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

func (p *exprParser) peek() (byte, bool) {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0, false
	}
	return p.input[p.pos], true
}

func (p *exprParser) parseSum() (float64, error) {
	value, err := p.parseProduct()
	if err != nil {
		return 0, err
	}

	for {
		op, ok := p.peek()
		if !ok || (op != '+' && op != '-') {
			return value, nil
		}
		p.pos++

		rhs, err := p.parseProduct()
		if err != nil {
			return 0, err
		}

		if op == '+' {
			value += rhs
		} else {
			value -= rhs
		}
	}
}

func (p *exprParser) parseProduct() (float64, error) {
	value, err := p.parseFactor()
	if err != nil {
		return 0, err
	}

	for {
		op, ok := p.peek()
		if !ok || (op != '*' && op != '/') {
			return value, nil
		}
		p.pos++

		rhs, err := p.parseFactor()
		if err != nil {
			return 0, err
		}

		if op == '*' {
			value *= rhs
			continue
		}

		if rhs == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		value /= rhs
	}
}

func (p *exprParser) parseFactor() (float64, error) {
	ch, ok := p.peek()
	if !ok {
		return 0, fmt.Errorf("unexpected end of expression")
	}

	if ch == '-' {
		p.pos++
		value, err := p.parseFactor()
		return -value, err
	}

	if ch == '(' {
		p.pos++

		value, err := p.parseSum()
		if err != nil {
			return 0, err
		}

		if next, ok := p.peek(); !ok || next != ')' {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++

		return value, nil
	}

	return p.parseNumber()
}

func (p *exprParser) parseNumber() (float64, error) {
	p.skipSpace()

	start := p.pos
	for p.pos < len(p.input) && (p.input[p.pos] >= '0' && p.input[p.pos] <= '9' || p.input[p.pos] == '.') {
		p.pos++
	}

	if start == p.pos {
		return 0, fmt.Errorf("expected number at position %d", start)
	}

	value, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", p.input[start:p.pos])
	}

	return value, nil
}
