// Package tmpl implements the reply template mini-language: {{var}} interpolation,
// {{#section}}/{{^inverted}} blocks, {{> partial}} inclusion, {{$anchor}} insertion points
// and {{! comments}}.
package tmpl

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var ErrSyntax = errors.New("TEMPLATE_SYNTAX")

type tagKind int

const (
	kindText tagKind = iota
	kindVar
	kindRaw
	kindSection
	kindInverted
	kindClose
	kindPartial
	kindAnchor
	kindComment
)

var validName = regexp.MustCompile(`^(?:\.|[A-Za-z0-9_\-]+(?:\.[A-Za-z0-9_\-]+)*)$`)

type token struct {
	kind tagKind
	text string
	line int
}

func syntaxErr(line int, format string, args ...interface{}) error {
	return fmt.Errorf("%w: line %d: %s", ErrSyntax, line, fmt.Sprintf(format, args...))
}

func lex(src string) ([]token, error) {
	var toks []token
	pos := 0
	for pos < len(src) {
		i := strings.Index(src[pos:], "{{")
		if i < 0 {
			toks = append(toks, token{kind: kindText, text: src[pos:]})
			break
		}
		if i > 0 {
			toks = append(toks, token{kind: kindText, text: src[pos : pos+i]})
		}
		start := pos + i
		line := strings.Count(src[:start], "\n") + 1

		if strings.HasPrefix(src[start:], "{{{") {
			end := strings.Index(src[start+3:], "}}}")
			if end < 0 {
				return nil, syntaxErr(line, "unclosed {{{ tag")
			}
			name := strings.TrimSpace(src[start+3 : start+3+end])
			if !validName.MatchString(name) {
				return nil, syntaxErr(line, "invalid name %q", name)
			}
			toks = append(toks, token{kind: kindRaw, text: name, line: line})
			pos = start + 3 + end + 3
			continue
		}

		end := strings.Index(src[start+2:], "}}")
		if end < 0 {
			return nil, syntaxErr(line, "unclosed {{ tag")
		}
		body := strings.TrimSpace(src[start+2 : start+2+end])
		pos = start + 2 + end + 2
		if body == "" {
			return nil, syntaxErr(line, "empty tag")
		}

		kind := kindVar
		switch body[0] {
		case '#':
			kind = kindSection
		case '^':
			kind = kindInverted
		case '/':
			kind = kindClose
		case '>':
			kind = kindPartial
		case '$':
			kind = kindAnchor
		case '!':
			kind = kindComment
		case '&':
			kind = kindRaw
		}
		name := body
		if kind != kindVar {
			name = strings.TrimSpace(body[1:])
		}
		if kind != kindComment && !validName.MatchString(name) {
			return nil, syntaxErr(line, "invalid name %q", name)
		}
		toks = append(toks, token{kind: kind, text: name, line: line})
	}
	return toks, nil
}

func standaloneKind(k tagKind) bool {
	switch k {
	case kindSection, kindInverted, kindClose, kindPartial, kindAnchor, kindComment:
		return true
	}
	return false
}

func isBlank(s string) bool { return strings.TrimLeft(s, " \t\r") == "" }

// stripStandalone removes the surrounding whitespace and newline of block tags that
// sit alone on their line, so sections and empty anchors leave no blank lines.
func stripStandalone(toks []token) {
	type cut struct{ prev, next bool }
	cuts := make([]cut, len(toks))

	for i, tk := range toks {
		if !standaloneKind(tk.kind) {
			continue
		}
		prevOK := i == 0
		if i > 0 && toks[i-1].kind == kindText {
			t := toks[i-1].text
			nl := strings.LastIndex(t, "\n")
			prevOK = isBlank(t[nl+1:]) && (nl >= 0 || i-1 == 0)
		}
		nextOK := i == len(toks)-1
		if i < len(toks)-1 && toks[i+1].kind == kindText {
			t := toks[i+1].text
			nl := strings.Index(t, "\n")
			head := t
			if nl >= 0 {
				head = t[:nl]
			}
			nextOK = isBlank(head) && (nl >= 0 || i+1 == len(toks)-1)
		}
		if prevOK && nextOK {
			cuts[i] = cut{prev: i > 0, next: i < len(toks)-1}
		}
	}

	for i, c := range cuts {
		if c.next {
			t := toks[i+1].text
			if nl := strings.Index(t, "\n"); nl >= 0 {
				toks[i+1].text = t[nl+1:]
			} else {
				toks[i+1].text = ""
			}
		}
		if c.prev {
			t := toks[i-1].text
			toks[i-1].text = t[:strings.LastIndex(t, "\n")+1]
		}
	}
}

type node interface{}

type textNode string

type varNode struct {
	name string
	raw  bool
}

type sectionNode struct {
	name     string
	inverted bool
	children []node
}

type partialNode string

type anchorNode string

func parse(src string) ([]node, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	stripStandalone(toks)

	type frame struct {
		section *sectionNode
		line    int
		nodes   []node
	}
	stack := []*frame{{}}

	for _, tk := range toks {
		top := stack[len(stack)-1]
		switch tk.kind {
		case kindText:
			if tk.text != "" {
				top.nodes = append(top.nodes, textNode(tk.text))
			}
		case kindVar, kindRaw:
			top.nodes = append(top.nodes, varNode{name: tk.text, raw: tk.kind == kindRaw})
		case kindSection, kindInverted:
			stack = append(stack, &frame{
				section: &sectionNode{name: tk.text, inverted: tk.kind == kindInverted},
				line:    tk.line,
			})
		case kindClose:
			if top.section == nil {
				return nil, syntaxErr(tk.line, "unexpected close tag %q", tk.text)
			}
			if top.section.name != tk.text {
				return nil, syntaxErr(tk.line, "close tag %q does not match open section %q", tk.text, top.section.name)
			}
			top.section.children = top.nodes
			stack = stack[:len(stack)-1]
			parent := stack[len(stack)-1]
			parent.nodes = append(parent.nodes, *top.section)
		case kindPartial:
			top.nodes = append(top.nodes, partialNode(tk.text))
		case kindAnchor:
			top.nodes = append(top.nodes, anchorNode(tk.text))
		case kindComment:
		}
	}

	if len(stack) > 1 {
		open := stack[len(stack)-1]
		return nil, syntaxErr(open.line, "unclosed section %q", open.section.name)
	}
	return stack[0].nodes, nil
}
