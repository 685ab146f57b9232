// Package workflow implements the DAG workflow engine: dependency-counted
// step lifecycle, the restricted guard/script expression grammar, and
// the processing/trigger cycles.
package workflow

import (
	"fmt"
	"strconv"
	"strings"
)

// Op is a guard/script comparison operator.
type Op string

const (
	OpEq        Op = "=="
	OpNeq       Op = "!="
	OpStrictEq  Op = "==="
	OpStrictNeq Op = "!=="
	OpGt        Op = ">"
	OpGte       Op = ">="
	OpLt        Op = "<"
	OpLte       Op = "<="
)

// Guard is a parsed `<path> <op> <literal>` expression. No general
// expression evaluation is permitted: this is the entire grammar.
type Guard struct {
	Path    string
	Op      Op
	Literal any
}

// ParseGuard parses a guard string of the form `<path> <op> <literal>`.
// Literal parsing supports booleans, null, quoted strings, and numbers.
// The operator token is recognized longest-match first so "===" is not
// mis-split as "==" followed by "=".
func ParseGuard(expr string) (Guard, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Guard{}, fmt.Errorf("empty guard expression")
	}

	path, op, rest, err := splitOnOperator(expr)
	if err != nil {
		return Guard{}, err
	}

	literal, err := parseLiteral(strings.TrimSpace(rest))
	if err != nil {
		return Guard{}, err
	}

	return Guard{Path: strings.TrimSpace(path), Op: op, Literal: literal}, nil
}

// operatorTokens is ordered longest-first so "===" matches before "==".
var operatorTokens = []Op{OpStrictEq, OpStrictNeq, OpEq, OpNeq, OpGte, OpLte, OpGt, OpLt}

func splitOnOperator(expr string) (path string, op Op, rest string, err error) {
	for _, candidate := range operatorTokens {
		tok := " " + string(candidate) + " "
		if idx := strings.Index(expr, tok); idx >= 0 {
			return expr[:idx], candidate, expr[idx+len(tok):], nil
		}
	}
	return "", "", "", fmt.Errorf("no recognized operator in guard expression %q", expr)
}

func parseLiteral(s string) (any, error) {
	switch s {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "null":
		return nil, nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1], nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, nil
	}
	return "", fmt.Errorf("unparseable literal %q", s)
}

// Eval evaluates g against a context bag resolved by dotted-key path
// lookup. This function assumes g is already a successfully parsed
// Guard.
func (g Guard) Eval(ctx map[string]any) bool {
	actual, ok := resolvePath(ctx, g.Path)
	if !ok {
		return false
	}
	return compare(actual, g.Op, g.Literal)
}

// EvalExpr parses and evaluates expr in one step, returning false on any
// parse failure so an unparsable guard never admits a step.
func EvalExpr(expr string, ctx map[string]any) bool {
	g, err := ParseGuard(expr)
	if err != nil {
		return false
	}
	return g.Eval(ctx)
}

// resolvePath resolves a dotted path (e.g. "steps.build.output.code")
// against nested map[string]any values only.
func resolvePath(ctx map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = ctx
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func compare(actual any, op Op, literal any) bool {
	switch op {
	case OpEq:
		return looseEqual(actual, literal)
	case OpNeq:
		return !looseEqual(actual, literal)
	case OpStrictEq:
		return strictEqual(actual, literal)
	case OpStrictNeq:
		return !strictEqual(actual, literal)
	case OpGt, OpGte, OpLt, OpLte:
		af, aok := toFloat(actual)
		lf, lok := toFloat(literal)
		if !aok || !lok {
			return false
		}
		switch op {
		case OpGt:
			return af > lf
		case OpGte:
			return af >= lf
		case OpLt:
			return af < lf
		case OpLte:
			return af <= lf
		}
	}
	return false
}

func strictEqual(a, b any) bool {
	if fmt.Sprintf("%T", a) != fmt.Sprintf("%T", b) {
		return false
	}
	return a == b
}

func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
