package plan

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Guard is a parsed runIf/skipIf expression. The language is deliberately
// small: equality/inequality/ordering comparisons, logical and/or/not,
// parentheses, dotted path access into the plan context, and string, number,
// boolean and null literals. Nothing in it executes user code.
type Guard struct {
	root guardNode
	src  string
}

// String returns the original expression source.
func (g *Guard) String() string { return g.src }

// Eval evaluates the guard against a context snapshot. Missing paths
// resolve to null.
func (g *Guard) Eval(ctx map[string]interface{}) bool {
	return truthy(g.root.eval(ctx))
}

// ParseGuard parses a guard expression. Anything outside the language is a
// parse error, rejected at plan-construction time.
func ParseGuard(src string) (*Guard, error) {
	p := &guardParser{input: src}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return nil, fmt.Errorf("unexpected input at offset %d: %q", p.pos, p.input[p.pos:])
	}
	return &Guard{root: node, src: src}, nil
}

type guardNode interface {
	eval(ctx map[string]interface{}) interface{}
}

type binaryNode struct {
	op          string
	left, right guardNode
}

func (n *binaryNode) eval(ctx map[string]interface{}) interface{} {
	switch n.op {
	case "&&":
		return truthy(n.left.eval(ctx)) && truthy(n.right.eval(ctx))
	case "||":
		return truthy(n.left.eval(ctx)) || truthy(n.right.eval(ctx))
	}

	l, r := n.left.eval(ctx), n.right.eval(ctx)
	switch n.op {
	case "==":
		return valuesEqual(l, r)
	case "!=":
		return !valuesEqual(l, r)
	case "<", "<=", ">", ">=":
		return compareOrdered(l, r, n.op)
	}
	return false
}

type notNode struct{ inner guardNode }

func (n *notNode) eval(ctx map[string]interface{}) interface{} {
	return !truthy(n.inner.eval(ctx))
}

type pathNode struct{ path string }

func (n *pathNode) eval(ctx map[string]interface{}) interface{} {
	v, ok := LookupPath(ctx, n.path)
	if !ok {
		return nil
	}
	return v
}

type literalNode struct{ value interface{} }

func (n *literalNode) eval(map[string]interface{}) interface{} { return n.value }

type guardParser struct {
	input string
	pos   int
}

func (p *guardParser) skipSpace() {
	for p.pos < len(p.input) && unicode.IsSpace(rune(p.input[p.pos])) {
		p.pos++
	}
}

func (p *guardParser) consume(tok string) bool {
	p.skipSpace()
	if strings.HasPrefix(p.input[p.pos:], tok) {
		p.pos += len(tok)
		return true
	}
	return false
}

func (p *guardParser) parseOr() (guardNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.consume("||") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: "||", left: left, right: right}
	}
	return left, nil
}

func (p *guardParser) parseAnd() (guardNode, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.consume("&&") {
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: "&&", left: left, right: right}
	}
	return left, nil
}

func (p *guardParser) parseComparison() (guardNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	// Order matters: match two-char operators before their one-char prefixes.
	for _, op := range []string{"==", "!=", "<=", ">=", "<", ">"} {
		if p.consume(op) {
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			return &binaryNode{op: op, left: left, right: right}, nil
		}
	}
	return left, nil
}

func (p *guardParser) parseUnary() (guardNode, error) {
	p.skipSpace()
	if p.pos < len(p.input) && p.input[p.pos] == '!' &&
		!strings.HasPrefix(p.input[p.pos:], "!=") {
		p.pos++
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notNode{inner: inner}, nil
	}
	return p.parsePrimary()
}

func (p *guardParser) parsePrimary() (guardNode, error) {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return nil, fmt.Errorf("unexpected end of expression")
	}

	c := p.input[p.pos]
	switch {
	case c == '(':
		p.pos++
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if !p.consume(")") {
			return nil, fmt.Errorf("missing closing parenthesis at offset %d", p.pos)
		}
		return inner, nil
	case c == '\'' || c == '"':
		return p.parseStringLiteral(c)
	case c == '-' || unicode.IsDigit(rune(c)):
		return p.parseNumberLiteral()
	case unicode.IsLetter(rune(c)) || c == '_':
		return p.parseIdent()
	}
	return nil, fmt.Errorf("unexpected character %q at offset %d", c, p.pos)
}

func (p *guardParser) parseStringLiteral(quote byte) (guardNode, error) {
	start := p.pos
	p.pos++
	for p.pos < len(p.input) && p.input[p.pos] != quote {
		p.pos++
	}
	if p.pos >= len(p.input) {
		return nil, fmt.Errorf("unterminated string starting at offset %d", start)
	}
	val := p.input[start+1 : p.pos]
	p.pos++
	return &literalNode{value: val}, nil
}

func (p *guardParser) parseNumberLiteral() (guardNode, error) {
	start := p.pos
	if p.input[p.pos] == '-' {
		p.pos++
	}
	for p.pos < len(p.input) &&
		(unicode.IsDigit(rune(p.input[p.pos])) || p.input[p.pos] == '.') {
		p.pos++
	}
	num, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", p.input[start:p.pos])
	}
	return &literalNode{value: num}, nil
}

func (p *guardParser) parseIdent() (guardNode, error) {
	start := p.pos
	for p.pos < len(p.input) {
		c := rune(p.input[p.pos])
		if unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_' || c == '.' {
			p.pos++
			continue
		}
		break
	}
	word := p.input[start:p.pos]
	switch word {
	case "true":
		return &literalNode{value: true}, nil
	case "false":
		return &literalNode{value: false}, nil
	case "null":
		return &literalNode{value: nil}, nil
	}
	if strings.HasSuffix(word, ".") || strings.Contains(word, "..") {
		return nil, fmt.Errorf("malformed path %q", word)
	}
	return &pathNode{path: word}, nil
}

// truthy follows JSON semantics: null, false, 0, "" and empty containers
// are false; everything else is true.
func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case map[string]interface{}:
		return len(t) > 0
	case []interface{}:
		return len(t) > 0
	}
	return true
}

func valuesEqual(a, b interface{}) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
		return false
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b) && fmt.Sprintf("%T", a) == fmt.Sprintf("%T", b)
}

func compareOrdered(a, b interface{}, op string) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		switch op {
		case "<":
			return af < bf
		case "<=":
			return af <= bf
		case ">":
			return af > bf
		case ">=":
			return af >= bf
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		switch op {
		case "<":
			return as < bs
		case "<=":
			return as <= bs
		case ">":
			return as > bs
		case ">=":
			return as >= bs
		}
	}
	return false
}

func asFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}
