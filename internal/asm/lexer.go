package asm

import (
	"fmt"
	"strings"
)

type tokKind uint8

const (
	tokWord tokKind = iota + 1 // identifiers, numbers, hex, paths (0x1::M::f)
	tokPunct
	tokString
)

type token struct {
	kind tokKind
	text string
}

func isWordChar(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// tokenizeLine splits one source line. "::" between word characters is kept
// inside the word so that paths come out as a single token.
func tokenizeLine(line string) ([]token, error) {
	var out []token
	i := 0
	for i < len(line) {
		c := line[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '"':
			end := strings.IndexByte(line[i+1:], '"')
			if end < 0 {
				return nil, fmt.Errorf("unterminated string")
			}
			out = append(out, token{kind: tokString, text: line[i+1 : i+1+end]})
			i += end + 2
		case isWordChar(c):
			start := i
			for i < len(line) {
				if isWordChar(line[i]) {
					i++
					continue
				}
				if line[i] == ':' && i+2 < len(line) && line[i+1] == ':' && isWordChar(line[i+2]) {
					i += 2
					continue
				}
				break
			}
			out = append(out, token{kind: tokWord, text: line[start:i]})
		case strings.IndexByte("(){}<>,:.+", c) >= 0:
			out = append(out, token{kind: tokPunct, text: string(c)})
			i++
		default:
			return nil, fmt.Errorf("unexpected character %q", c)
		}
	}
	return out, nil
}

type tokens struct {
	toks []token
	pos  int
}

func (t *tokens) done() bool { return t.pos >= len(t.toks) }

func (t *tokens) peek() token {
	if t.done() {
		return token{}
	}
	return t.toks[t.pos]
}

func (t *tokens) peekIs(text string) bool {
	return !t.done() && t.toks[t.pos].text == text && t.toks[t.pos].kind != tokString
}

func (t *tokens) next() token {
	tok := t.peek()
	if !t.done() {
		t.pos++
	}
	return tok
}

func (t *tokens) accept(text string) bool {
	if t.peekIs(text) {
		t.pos++
		return true
	}
	return false
}

func (t *tokens) expect(text string) error {
	if !t.accept(text) {
		if t.done() {
			return fmt.Errorf("expected %q, got end of line", text)
		}
		return fmt.Errorf("expected %q, got %q", text, t.peek().text)
	}
	return nil
}

func (t *tokens) word() (string, error) {
	tok := t.next()
	if tok.kind != tokWord {
		if tok.text == "" {
			return "", fmt.Errorf("expected word, got end of line")
		}
		return "", fmt.Errorf("expected word, got %q", tok.text)
	}
	return tok.text, nil
}
