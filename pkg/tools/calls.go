package tools

import "strings"

// Call is one tool invocation parsed from a decider reply.
type Call struct {
	Name string
	Args map[string]interface{}
}

// PositionalArg is the key under which an unnamed argument is stored.
const PositionalArg = "input"

var deciderPrefixes = []string{
	"tool decision(s):",
	"tool decision:",
	"tool_decision:",
	"tool_choice:",
	"tools:",
	"tool:",
	"decision:",
}

// ParseCalls reads the decider's one-line answer, for example
// `query_long_term_memory(query_keywords='pizza, olives'), get_current_time()`.
// NONE or an empty answer yields no calls. Parsing stops at the first
// malformed call and keeps what came before it.
func ParseCalls(raw string) []Call {
	line := strings.TrimSpace(strings.ReplaceAll(raw, "`", ""))
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	lower := strings.ToLower(line)
	for _, prefix := range deciderPrefixes {
		if strings.HasPrefix(lower, prefix) {
			line = strings.TrimSpace(line[len(prefix):])
			break
		}
	}
	if line == "" || strings.EqualFold(line, "NONE") {
		return nil
	}

	p := &callParser{src: line}
	var calls []Call
	for {
		p.skip(" \t,")
		if p.done() {
			break
		}
		call, ok := p.call()
		if !ok {
			break
		}
		calls = append(calls, call)
	}
	return calls
}

type callParser struct {
	src string
	pos int
}

func (p *callParser) done() bool { return p.pos >= len(p.src) }

func (p *callParser) skip(chars string) {
	for !p.done() && strings.IndexByte(chars, p.src[p.pos]) >= 0 {
		p.pos++
	}
}

func (p *callParser) ident() string {
	start := p.pos
	for !p.done() && isIdentByte(p.src[p.pos]) {
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *callParser) call() (Call, bool) {
	name := p.ident()
	if name == "" {
		return Call{}, false
	}
	p.skip(" \t")
	if p.done() || p.src[p.pos] != '(' {
		return Call{}, false
	}
	p.pos++

	args := map[string]interface{}{}
	for {
		p.skip(" \t")
		if p.done() {
			return Call{}, false
		}
		if p.src[p.pos] == ')' {
			p.pos++
			return Call{Name: name, Args: args}, true
		}
		key, value, ok := p.arg()
		if !ok {
			return Call{}, false
		}
		args[key] = value
		p.skip(" \t")
		if !p.done() && p.src[p.pos] == ',' {
			p.pos++
		}
	}
}

func (p *callParser) arg() (string, string, bool) {
	key := PositionalArg
	save := p.pos
	if id := p.ident(); id != "" {
		p.skip(" \t")
		if !p.done() && p.src[p.pos] == '=' {
			p.pos++
			key = id
			p.skip(" \t")
		} else {
			p.pos = save
		}
	}
	if p.done() {
		return "", "", false
	}

	if q := p.src[p.pos]; q == '\'' || q == '"' {
		end := strings.IndexByte(p.src[p.pos+1:], q)
		if end < 0 {
			return "", "", false
		}
		value := p.src[p.pos+1 : p.pos+1+end]
		p.pos += end + 2
		return key, strings.TrimSpace(value), true
	}

	start := p.pos
	for !p.done() && p.src[p.pos] != ',' && p.src[p.pos] != ')' {
		p.pos++
	}
	value := strings.TrimSpace(p.src[start:p.pos])
	if value == "" {
		return "", "", false
	}
	return key, value, true
}

func isIdentByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
