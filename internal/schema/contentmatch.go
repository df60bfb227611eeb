package schema

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/moduforge/moduforge/internal/merr"
)

// --- tokenizer ---

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokPipe
	tokLParen
	tokRParen
	tokStar
	tokPlus
	tokQuestion
	tokLBrace
	tokRBrace
	tokComma
	tokNumber
	tokEOF
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(expr string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(expr) {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case c == '|':
			toks = append(toks, token{tokPipe, "|"})
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case c == '*':
			toks = append(toks, token{tokStar, "*"})
			i++
		case c == '+':
			toks = append(toks, token{tokPlus, "+"})
			i++
		case c == '?':
			toks = append(toks, token{tokQuestion, "?"})
			i++
		case c == '{':
			toks = append(toks, token{tokLBrace, "{"})
			i++
		case c == '}':
			toks = append(toks, token{tokRBrace, "}"})
			i++
		case c == ',':
			toks = append(toks, token{tokComma, ","})
			i++
		case c >= '0' && c <= '9':
			j := i
			for j < len(expr) && expr[j] >= '0' && expr[j] <= '9' {
				j++
			}
			toks = append(toks, token{tokNumber, expr[i:j]})
			i = j
		case isIdentChar(c):
			j := i
			for j < len(expr) && isIdentChar(expr[j]) {
				j++
			}
			toks = append(toks, token{tokIdent, expr[i:j]})
			i = j
		default:
			return nil, merr.NewSchemaError(merr.ErrUnparseableExpr, fmt.Sprintf("unexpected character %q in %q", c, expr), nil)
		}
	}
	toks = append(toks, token{tokEOF, ""})
	return toks, nil
}

func isIdentChar(c byte) bool {
	return c == '_' || c == '-' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// --- AST ---

type exprNode interface{ isExprNode() }

type atomNode struct{ name string }
type concatNode struct{ parts []exprNode }
type altNode struct{ parts []exprNode }
type repeatNode struct {
	inner exprNode
	min   int
	max   int // -1 means unbounded
}

func (atomNode) isExprNode()    {}
func (concatNode) isExprNode()  {}
func (altNode) isExprNode()     {}
func (repeatNode) isExprNode()  {}

// --- parser (recursive descent) ---

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }
func (p *parser) next() token { t := p.toks[p.pos]; p.pos++; return t }

func parseExpr(expr string) (exprNode, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return concatNode{}, nil // empty content: no children allowed
	}
	toks, err := tokenize(trimmed)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	n, err := p.parseAlt()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, merr.NewSchemaError(merr.ErrUnparseableExpr, "trailing input at "+p.peek().text, nil)
	}
	return n, nil
}

func (p *parser) parseAlt() (exprNode, error) {
	first, err := p.parseConcat()
	if err != nil {
		return nil, err
	}
	parts := []exprNode{first}
	for p.peek().kind == tokPipe {
		p.next()
		n, err := p.parseConcat()
		if err != nil {
			return nil, err
		}
		parts = append(parts, n)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return altNode{parts: parts}, nil
}

func (p *parser) parseConcat() (exprNode, error) {
	var parts []exprNode
	for {
		k := p.peek().kind
		if k == tokEOF || k == tokPipe || k == tokRParen {
			break
		}
		n, err := p.parseQuant()
		if err != nil {
			return nil, err
		}
		parts = append(parts, n)
	}
	if len(parts) == 0 {
		return nil, merr.NewSchemaError(merr.ErrUnparseableExpr, "empty expression", nil)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return concatNode{parts: parts}, nil
}

func (p *parser) parseQuant() (exprNode, error) {
	atom, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	switch p.peek().kind {
	case tokStar:
		p.next()
		return repeatNode{inner: atom, min: 0, max: -1}, nil
	case tokPlus:
		p.next()
		return repeatNode{inner: atom, min: 1, max: -1}, nil
	case tokQuestion:
		p.next()
		return repeatNode{inner: atom, min: 0, max: 1}, nil
	case tokLBrace:
		p.next()
		min, err := p.parseIntLit()
		if err != nil {
			return nil, err
		}
		max := min
		if p.peek().kind == tokComma {
			p.next()
			if p.peek().kind == tokRBrace {
				max = -1
			} else {
				max, err = p.parseIntLit()
				if err != nil {
					return nil, err
				}
			}
		}
		if p.peek().kind != tokRBrace {
			return nil, merr.NewSchemaError(merr.ErrUnparseableExpr, "expected } in repeat bound", nil)
		}
		p.next()
		return repeatNode{inner: atom, min: min, max: max}, nil
	}
	return atom, nil
}

func (p *parser) parseIntLit() (int, error) {
	t := p.next()
	if t.kind != tokNumber {
		return 0, merr.NewSchemaError(merr.ErrUnparseableExpr, "expected number in repeat bound", nil)
	}
	n, err := strconv.Atoi(t.text)
	if err != nil {
		return 0, merr.NewSchemaError(merr.ErrUnparseableExpr, "invalid repeat bound "+t.text, nil)
	}
	return n, nil
}

func (p *parser) parseAtom() (exprNode, error) {
	t := p.peek()
	switch t.kind {
	case tokIdent:
		p.next()
		return atomNode{name: t.text}, nil
	case tokLParen:
		p.next()
		n, err := p.parseAlt()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, merr.NewSchemaError(merr.ErrUnparseableExpr, "expected )", nil)
		}
		p.next()
		return n, nil
	default:
		return nil, merr.NewSchemaError(merr.ErrUnparseableExpr, "expected node type or (, got "+t.text, nil)
	}
}

// desugar expands repeatNode{min,max} into concat/star/opt so Thompson
// construction only ever needs to handle Concat, Alt, Star (via
// repeatNode{0,-1}) and Opt (via repeatNode{0,1}).
func desugar(n exprNode) exprNode {
	switch v := n.(type) {
	case concatNode:
		parts := make([]exprNode, len(v.parts))
		for i, p := range v.parts {
			parts[i] = desugar(p)
		}
		return concatNode{parts: parts}
	case altNode:
		parts := make([]exprNode, len(v.parts))
		for i, p := range v.parts {
			parts[i] = desugar(p)
		}
		return altNode{parts: parts}
	case repeatNode:
		inner := desugar(v.inner)
		if v.min == 0 && v.max == -1 {
			return repeatNode{inner: inner, min: 0, max: -1} // star, left as-is
		}
		if v.min == 0 && v.max == 1 {
			return repeatNode{inner: inner, min: 0, max: 1} // opt, left as-is
		}
		var parts []exprNode
		for i := 0; i < v.min; i++ {
			parts = append(parts, inner)
		}
		if v.max == -1 {
			parts = append(parts, repeatNode{inner: inner, min: 0, max: -1})
		} else {
			for i := 0; i < v.max-v.min; i++ {
				parts = append(parts, repeatNode{inner: inner, min: 0, max: 1})
			}
		}
		if len(parts) == 0 {
			return concatNode{} // {0,0}: matches only empty
		}
		if len(parts) == 1 {
			return parts[0]
		}
		return concatNode{parts: parts}
	default:
		return n
	}
}

// --- NFA (Thompson construction, concrete-type edges only) ---

type nfaState struct {
	eps   []int
	edges map[string][]int // concrete type name -> target states (multiple on ambiguous group fan-out)
}

type nfaBuilder struct {
	states  []*nfaState
	resolve func(name string) ([]string, bool) // group -> member types; false => literal type
}

func (b *nfaBuilder) newState() int {
	b.states = append(b.states, &nfaState{edges: map[string][]int{}})
	return len(b.states) - 1
}

// build returns (start, accept) for n.
func (b *nfaBuilder) build(n exprNode) (int, int, error) {
	switch v := n.(type) {
	case atomNode:
		start := b.newState()
		accept := b.newState()
		members, isGroup := b.resolve(v.name)
		if !isGroup {
			if len(members) == 0 {
				return 0, 0, merr.NewSchemaError(merr.ErrUnresolvedRef, "unknown node type or group "+v.name, nil)
			}
		}
		for _, t := range members {
			b.states[start].edges[t] = append(b.states[start].edges[t], accept)
		}
		return start, accept, nil
	case concatNode:
		if len(v.parts) == 0 {
			s := b.newState()
			return s, s, nil // empty content
		}
		start, accept, err := b.build(v.parts[0])
		if err != nil {
			return 0, 0, err
		}
		for _, p := range v.parts[1:] {
			s2, a2, err := b.build(p)
			if err != nil {
				return 0, 0, err
			}
			b.states[accept].eps = append(b.states[accept].eps, s2)
			accept = a2
		}
		return start, accept, nil
	case altNode:
		start := b.newState()
		accept := b.newState()
		for _, p := range v.parts {
			s, a, err := b.build(p)
			if err != nil {
				return 0, 0, err
			}
			b.states[start].eps = append(b.states[start].eps, s)
			b.states[a].eps = append(b.states[a].eps, accept)
		}
		return start, accept, nil
	case repeatNode:
		inner, iaccept, err := b.build(v.inner)
		if err != nil {
			return 0, 0, err
		}
		start := b.newState()
		accept := b.newState()
		if v.min == 0 && v.max == -1 { // star
			b.states[start].eps = append(b.states[start].eps, inner, accept)
			b.states[iaccept].eps = append(b.states[iaccept].eps, inner, accept)
			return start, accept, nil
		}
		if v.min == 0 && v.max == 1 { // opt
			b.states[start].eps = append(b.states[start].eps, inner, accept)
			b.states[iaccept].eps = append(b.states[iaccept].eps, accept)
			return start, accept, nil
		}
		return 0, 0, merr.NewSchemaError(merr.ErrUnparseableExpr, "repeat node not fully desugared", nil)
	default:
		return 0, 0, merr.NewSchemaError(merr.ErrUnparseableExpr, "unknown expression node", nil)
	}
}

func epsilonClosure(states []*nfaState, set map[int]bool) map[int]bool {
	stack := make([]int, 0, len(set))
	for s := range set {
		stack = append(stack, s)
	}
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range states[s].eps {
			if !set[e] {
				set[e] = true
				stack = append(stack, e)
			}
		}
	}
	return set
}

// --- DFA ---

type dfaState struct {
	edges    map[string]int
	validEnd bool
}

// ContentMatch is the compiled DFA for one content expression.
type ContentMatch struct {
	states []dfaState
	start  int
}

// compileContentMatch builds a ContentMatch from a raw expression string,
// resolving group/type references via resolve.
func compileContentMatch(expr string, resolve func(name string) ([]string, bool)) (*ContentMatch, error) {
	ast, err := parseExpr(expr)
	if err != nil {
		return nil, err
	}
	ast = desugar(ast)

	b := &nfaBuilder{resolve: resolve}
	start, accept, err := b.build(ast)
	if err != nil {
		return nil, err
	}

	// alphabet: every concrete type name appearing on any edge
	alphabet := map[string]bool{}
	for _, s := range b.states {
		for t := range s.edges {
			alphabet[t] = true
		}
	}
	var sortedAlphabet []string
	for t := range alphabet {
		sortedAlphabet = append(sortedAlphabet, t)
	}
	sort.Strings(sortedAlphabet)

	// subset construction
	type setKey string
	keyOf := func(set map[int]bool) setKey {
		ids := make([]int, 0, len(set))
		for s := range set {
			ids = append(ids, s)
		}
		sort.Ints(ids)
		sb := strings.Builder{}
		for _, id := range ids {
			fmt.Fprintf(&sb, "%d,", id)
		}
		return setKey(sb.String())
	}

	startSet := epsilonClosure(b.states, map[int]bool{start: true})
	dfa := &ContentMatch{start: 0}
	setIndex := map[setKey]int{}
	var queue []map[int]bool

	register := func(set map[int]bool) int {
		k := keyOf(set)
		if idx, ok := setIndex[k]; ok {
			return idx
		}
		idx := len(dfa.states)
		setIndex[k] = idx
		dfa.states = append(dfa.states, dfaState{edges: map[string]int{}, validEnd: set[accept]})
		queue = append(queue, set)
		return idx
	}
	register(startSet)

	for i := 0; i < len(queue); i++ {
		set := queue[i]
		for _, label := range sortedAlphabet {
			var target map[int]bool
			for s := range set {
				for _, dst := range b.states[s].edges[label] {
					if target == nil {
						target = map[int]bool{}
					}
					target[dst] = true
				}
			}
			if target == nil {
				continue
			}
			target = epsilonClosure(b.states, target)
			idx := register(target)
			dfa.states[i].edges[label] = idx
		}
	}

	return dfa, nil
}

// MatchPrefix drives children through the DFA from the start state,
// returning the last reached state index and how many children matched
// before the first failure (or all of them, on full success).
func (cm *ContentMatch) MatchPrefix(children []string) (state int, matchedLen int) {
	return cm.matchPrefixFrom(cm.start, children)
}

func (cm *ContentMatch) matchPrefixFrom(from int, children []string) (state int, matchedLen int) {
	s := from
	for i, c := range children {
		next, ok := cm.states[s].edges[c]
		if !ok {
			return s, i
		}
		s = next
	}
	return s, len(children)
}

// ValidateFragment reports whether children is a complete valid sequence.
func (cm *ContentMatch) ValidateFragment(children []string) bool {
	s, n := cm.MatchPrefix(children)
	return n == len(children) && cm.states[s].validEnd
}

// ValidEnd reports whether the given state index is an accepting state.
func (cm *ContentMatch) ValidEnd(state int) bool {
	return cm.states[state].validEnd
}

// FillBefore returns the shortest sequence of type names that, appended
// after existingPrefix, allows desiredChildType to be accepted next; ties
// are broken lexicographically. ok is false if no such sequence exists
// within the search bound.
func (cm *ContentMatch) FillBefore(existingPrefix []string, desiredChildType string) (fill []string, ok bool) {
	start, matched := cm.matchPrefixFrom(cm.start, existingPrefix)
	if matched != len(existingPrefix) {
		return nil, false // existingPrefix itself doesn't parse
	}
	if _, has := cm.states[start].edges[desiredChildType]; has {
		return []string{}, true
	}

	type entry struct {
		state int
		path  []string
	}
	visited := map[int]bool{start: true}
	frontier := []entry{{start, nil}}
	const maxDepth = 64

	for depth := 0; depth < maxDepth; depth++ {
		sort.Slice(frontier, func(i, j int) bool {
			return strings.Join(frontier[i].path, "\x00") < strings.Join(frontier[j].path, "\x00")
		})
		var next []entry
		nextVisited := map[int]bool{}
		for _, f := range frontier {
			labels := make([]string, 0, len(cm.states[f.state].edges))
			for l := range cm.states[f.state].edges {
				labels = append(labels, l)
			}
			sort.Strings(labels)
			for _, lbl := range labels {
				tgt := cm.states[f.state].edges[lbl]
				if visited[tgt] || nextVisited[tgt] {
					continue
				}
				path := append(append([]string{}, f.path...), lbl)
				nextVisited[tgt] = true
				next = append(next, entry{tgt, path})
			}
		}
		if len(next) == 0 {
			return nil, false
		}
		sort.Slice(next, func(i, j int) bool {
			return strings.Join(next[i].path, "\x00") < strings.Join(next[j].path, "\x00")
		})
		for _, e := range next {
			if _, has := cm.states[e.state].edges[desiredChildType]; has {
				return e.path, true
			}
		}
		for _, e := range next {
			visited[e.state] = true
		}
		frontier = next
	}
	return nil, false
}
