package skill

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Scope is the variable environment templates resolve against: the skill's
// resolved parameters, prior step results, and a fixed set of builtins
// (now, user, session_id). Nothing else is reachable from a template.
type Scope struct {
	// Params are the resolved skill parameters.
	Params map[string]any

	// Steps maps a step id to its stored outcome:
	// {"result": any, "status": string, "duration_ms": int64}.
	Steps map[string]map[string]any

	// Builtins are the fixed built-in variables.
	Builtins map[string]any
}

// exprPattern matches one {{ ... }} expression inside a template string.
var exprPattern = regexp.MustCompile(`\{\{(.*?)\}\}`)

// Eval evaluates a bare expression against the scope.
func Eval(expr string, scope *Scope) (any, error) {
	p := &parser{src: expr, scope: scope}
	p.lex()
	if p.err != nil {
		return nil, &TemplateResolutionError{Expr: expr, Reason: p.err.Error()}
	}
	v, err := p.parseOr()
	if err != nil {
		return nil, &TemplateResolutionError{Expr: expr, Reason: err.Error()}
	}
	if p.pos != len(p.tokens) {
		return nil, &TemplateResolutionError{Expr: expr, Reason: fmt.Sprintf("unexpected token %q", p.tokens[p.pos].text)}
	}
	return v, nil
}

// EvalCondition evaluates a step condition. The condition may be written
// bare or wrapped in a single {{ ... }}; it must yield a boolean.
func EvalCondition(cond string, scope *Scope) (bool, error) {
	expr := strings.TrimSpace(cond)
	if m := exprPattern.FindStringSubmatch(expr); m != nil && m[0] == expr {
		expr = m[1]
	}
	v, err := Eval(expr, scope)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, &TemplateResolutionError{Expr: cond, Reason: fmt.Sprintf("condition yields %T, want boolean", v)}
	}
	return b, nil
}

// ResolveString resolves a parameter template. A string that is exactly one
// {{ ... }} expression resolves to the expression's typed value; otherwise
// every embedded expression is interpolated into the surrounding text.
func ResolveString(s string, scope *Scope) (any, error) {
	trimmed := strings.TrimSpace(s)
	if m := exprPattern.FindStringSubmatch(trimmed); m != nil && m[0] == trimmed {
		return Eval(m[1], scope)
	}

	var resolveErr error
	out := exprPattern.ReplaceAllStringFunc(s, func(match string) string {
		inner := exprPattern.FindStringSubmatch(match)[1]
		v, err := Eval(inner, scope)
		if err != nil {
			if resolveErr == nil {
				resolveErr = err
			}
			return match
		}
		return stringify(v)
	})
	if resolveErr != nil {
		return nil, resolveErr
	}
	return out, nil
}

// ResolveParameters resolves every step parameter template against the scope.
func ResolveParameters(params map[string]string, scope *Scope) (map[string]any, error) {
	resolved := make(map[string]any, len(params))
	for name, tmpl := range params {
		v, err := ResolveString(tmpl, scope)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", name, err)
		}
		resolved[name] = v
	}
	return resolved, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// lookup resolves a dotted variable path. The root segment selects params,
// steps, or a builtin; a bare name falls back to params then builtins.
func (s *Scope) lookup(path string) (any, error) {
	segs := strings.Split(path, ".")
	var cur any
	switch segs[0] {
	case "params":
		if len(segs) < 2 {
			return nil, fmt.Errorf("incomplete reference %q", path)
		}
		cur = s.Params
		segs = segs[1:]
	case "steps":
		if len(segs) < 2 {
			return nil, fmt.Errorf("incomplete reference %q", path)
		}
		step, ok := s.Steps[segs[1]]
		if !ok {
			return nil, fmt.Errorf("unknown step %q", segs[1])
		}
		cur = step
		segs = segs[2:]
	default:
		if v, ok := s.Params[segs[0]]; ok {
			cur = v
		} else if v, ok := s.Builtins[segs[0]]; ok {
			cur = v
		} else {
			return nil, fmt.Errorf("unknown variable %q", segs[0])
		}
		segs = segs[1:]
	}

	for _, seg := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("cannot descend into %q: not a map", path)
		}
		cur, ok = m[seg]
		if !ok {
			return nil, fmt.Errorf("unknown field %q in %q", seg, path)
		}
	}
	return cur, nil
}

// --- lexer ---

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokNumber
	tokString
	tokOp
)

type token struct {
	kind tokenKind
	text string
}

type parser struct {
	src    string
	scope  *Scope
	tokens []token
	pos    int
	err    error
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c == '.' || c == '-' || (c >= '0' && c <= '9')
}

func (p *parser) lex() {
	src := p.src
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case isIdentStart(c):
			j := i + 1
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			p.tokens = append(p.tokens, token{tokIdent, src[i:j]})
			i = j
		case c >= '0' && c <= '9' || (c == '-' && i+1 < len(src) && src[i+1] >= '0' && src[i+1] <= '9' && p.numberPosition()):
			j := i + 1
			for j < len(src) && (src[j] >= '0' && src[j] <= '9' || src[j] == '.') {
				j++
			}
			p.tokens = append(p.tokens, token{tokNumber, src[i:j]})
			i = j
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			for j < len(src) && src[j] != quote {
				j++
			}
			if j >= len(src) {
				p.err = fmt.Errorf("unterminated string literal")
				return
			}
			p.tokens = append(p.tokens, token{tokString, src[i+1 : j]})
			i = j + 1
		case strings.HasPrefix(src[i:], "=="), strings.HasPrefix(src[i:], "!="),
			strings.HasPrefix(src[i:], "<="), strings.HasPrefix(src[i:], ">="),
			strings.HasPrefix(src[i:], "&&"), strings.HasPrefix(src[i:], "||"):
			p.tokens = append(p.tokens, token{tokOp, src[i : i+2]})
			i += 2
		case c == '<' || c == '>' || c == '!' || c == '(' || c == ')' || c == ',':
			p.tokens = append(p.tokens, token{tokOp, string(c)})
			i++
		default:
			p.err = fmt.Errorf("unexpected character %q", string(c))
			return
		}
	}
}

// numberPosition reports whether a '-' at the current lex position starts a
// negative literal (expression position) rather than trailing an identifier.
func (p *parser) numberPosition() bool {
	if len(p.tokens) == 0 {
		return true
	}
	last := p.tokens[len(p.tokens)-1]
	return last.kind == tokOp && last.text != ")"
}

// --- parser / evaluator ---

func (p *parser) peek() (token, bool) {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos], true
	}
	return token{}, false
}

func (p *parser) accept(kind tokenKind, text string) bool {
	if t, ok := p.peek(); ok && t.kind == kind && t.text == text {
		p.pos++
		return true
	}
	return false
}

func (p *parser) parseOr() (any, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.accept(tokOp, "||") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		lb, lok := left.(bool)
		rb, rok := right.(bool)
		if !lok || !rok {
			return nil, fmt.Errorf("|| requires boolean operands")
		}
		left = lb || rb
	}
	return left, nil
}

func (p *parser) parseAnd() (any, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.accept(tokOp, "&&") {
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		lb, lok := left.(bool)
		rb, rok := right.(bool)
		if !lok || !rok {
			return nil, fmt.Errorf("&& requires boolean operands")
		}
		left = lb && rb
	}
	return left, nil
}

func (p *parser) parseComparison() (any, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	t, ok := p.peek()
	if !ok {
		return left, nil
	}

	if t.kind == tokIdent && t.text == "in" {
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return membership(left, right)
	}

	if t.kind != tokOp {
		return left, nil
	}
	switch t.text {
	case "==", "!=", "<", "<=", ">", ">=":
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return compare(t.text, left, right)
	}
	return left, nil
}

func (p *parser) parseUnary() (any, error) {
	if p.accept(tokOp, "!") {
		v, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("! requires a boolean operand")
		}
		return !b, nil
	}
	return p.parseTerm()
}

func (p *parser) parseTerm() (any, error) {
	t, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("unexpected end of expression")
	}

	switch t.kind {
	case tokNumber:
		p.pos++
		n, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", t.text)
		}
		return n, nil
	case tokString:
		p.pos++
		return t.text, nil
	case tokIdent:
		switch t.text {
		case "true":
			p.pos++
			return true, nil
		case "false":
			p.pos++
			return false, nil
		case "contains", "startswith", "endswith":
			return p.parseCall(t.text)
		}
		p.pos++
		return p.scope.lookup(t.text)
	case tokOp:
		if t.text == "(" {
			p.pos++
			v, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if !p.accept(tokOp, ")") {
				return nil, fmt.Errorf("missing closing parenthesis")
			}
			return v, nil
		}
	}
	return nil, fmt.Errorf("unexpected token %q", t.text)
}

func (p *parser) parseCall(name string) (any, error) {
	p.pos++
	if !p.accept(tokOp, "(") {
		return nil, fmt.Errorf("%s requires arguments", name)
	}
	a, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.accept(tokOp, ",") {
		return nil, fmt.Errorf("%s requires two arguments", name)
	}
	b, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.accept(tokOp, ")") {
		return nil, fmt.Errorf("missing closing parenthesis in %s", name)
	}

	as, aok := a.(string)
	bs, bok := b.(string)
	if !aok || !bok {
		return nil, fmt.Errorf("%s requires string arguments", name)
	}
	switch name {
	case "contains":
		return strings.Contains(as, bs), nil
	case "startswith":
		return strings.HasPrefix(as, bs), nil
	default:
		return strings.HasSuffix(as, bs), nil
	}
}

func membership(needle, haystack any) (bool, error) {
	switch h := haystack.(type) {
	case []any:
		for _, v := range h {
			if eq, err := compare("==", needle, v); err == nil && eq == true {
				return true, nil
			}
		}
		return false, nil
	case []string:
		s, ok := needle.(string)
		if !ok {
			return false, fmt.Errorf("in: needle must be a string for a string list")
		}
		for _, v := range h {
			if v == s {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("in: right operand must be a list, got %T", haystack)
	}
}

func compare(op string, left, right any) (any, error) {
	// Numbers compare numerically regardless of the concrete Go type.
	lf, lnum := asNumber(left)
	rf, rnum := asNumber(right)
	if lnum && rnum {
		switch op {
		case "==":
			return lf == rf, nil
		case "!=":
			return lf != rf, nil
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		}
	}

	ls, lstr := left.(string)
	rs, rstr := right.(string)
	if lstr && rstr {
		switch op {
		case "==":
			return ls == rs, nil
		case "!=":
			return ls != rs, nil
		case "<":
			return ls < rs, nil
		case "<=":
			return ls <= rs, nil
		case ">":
			return ls > rs, nil
		case ">=":
			return ls >= rs, nil
		}
	}

	if op == "==" || op == "!=" {
		eq := left == right
		if op == "!=" {
			eq = !eq
		}
		return eq, nil
	}

	return nil, fmt.Errorf("cannot compare %T and %T with %s", left, right, op)
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
