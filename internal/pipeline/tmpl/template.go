package tmpl

import (
	"crypto/sha256"
	"encoding/hex"
	"html"
	"sort"
	"strings"
)

const maxPartialDepth = 8

// Template is an immutable compiled template.
type Template struct {
	fingerprint string
	nodes       []node
	partials    []string
	anchors     []string
}

// Fingerprint is the hex SHA-256 of a raw template body.
func Fingerprint(src string) string {
	sum := sha256.Sum256([]byte(src))
	return hex.EncodeToString(sum[:])
}

// Compile parses src. Most callers should go through a Cache.
func Compile(src string) (*Template, error) {
	nodes, err := parse(src)
	if err != nil {
		return nil, err
	}
	t := &Template{fingerprint: Fingerprint(src), nodes: nodes}
	partials, anchors := map[string]struct{}{}, map[string]struct{}{}
	collectRefs(nodes, partials, anchors)
	t.partials, t.anchors = sortedKeys(partials), sortedKeys(anchors)
	return t, nil
}

func collectRefs(nodes []node, partials, anchors map[string]struct{}) {
	for _, n := range nodes {
		switch v := n.(type) {
		case partialNode:
			partials[string(v)] = struct{}{}
		case anchorNode:
			anchors[string(v)] = struct{}{}
		case sectionNode:
			collectRefs(v.children, partials, anchors)
		}
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (t *Template) Fingerprint() string { return t.fingerprint }

// Partials lists the partial names the template references.
func (t *Template) Partials() []string { return append([]string(nil), t.partials...) }

// Anchors lists the anchor names the template declares.
func (t *Template) Anchors() []string { return append([]string(nil), t.anchors...) }

// RenderOptions controls one render.
type RenderOptions struct {
	// Escape HTML-escapes {{name}} output (markup replies). {{{name}}} and {{& name}} are never escaped.
	Escape bool
	// Partials resolves {{> name}}. A nil resolver treats every partial as missing.
	Partials func(name string) (*Template, bool)
	// Anchors holds pre-rendered content for {{$name}}. Unknown anchors render empty.
	Anchors map[string]string
	// OnMissingPartial is called for every unresolved partial reference.
	OnMissingPartial func(name string)
}

// Render normalizes data and renders the template. It never fails: unknown names,
// missing partials and unknown anchors all render as empty.
func (t *Template) Render(data map[string]interface{}, opts RenderOptions) string {
	var b strings.Builder
	r := &renderer{opts: opts, out: &b}
	r.render(t.nodes, []interface{}{Normalize(data)}, 0)
	return b.String()
}

type renderer struct {
	opts RenderOptions
	out  *strings.Builder
}

func (r *renderer) render(nodes []node, stack []interface{}, depth int) {
	for _, n := range nodes {
		switch v := n.(type) {
		case textNode:
			r.out.WriteString(string(v))
		case varNode:
			s := stringify(lookup(stack, v.name))
			if r.opts.Escape && !v.raw {
				s = html.EscapeString(s)
			}
			r.out.WriteString(s)
		case sectionNode:
			r.renderSection(v, stack, depth)
		case anchorNode:
			r.out.WriteString(r.opts.Anchors[string(v)])
		case partialNode:
			r.renderPartial(string(v), stack, depth)
		}
	}
}

func (r *renderer) renderSection(s sectionNode, stack []interface{}, depth int) {
	val := lookup(stack, s.name)
	if s.inverted {
		if !truthy(val) {
			r.render(s.children, stack, depth)
		}
		return
	}
	if !truthy(val) {
		return
	}
	switch v := val.(type) {
	case []interface{}:
		for _, item := range v {
			r.render(s.children, append(stack[:len(stack):len(stack)], item), depth)
		}
	case bool:
		r.render(s.children, stack, depth)
	default:
		r.render(s.children, append(stack[:len(stack):len(stack)], v), depth)
	}
}

func (r *renderer) renderPartial(name string, stack []interface{}, depth int) {
	var (
		p  *Template
		ok bool
	)
	if r.opts.Partials != nil && depth < maxPartialDepth {
		p, ok = r.opts.Partials(name)
	}
	if !ok || p == nil {
		if r.opts.OnMissingPartial != nil {
			r.opts.OnMissingPartial(name)
		}
		return
	}
	r.render(p.nodes, stack, depth+1)
}

// lookup resolves a dotted name against the context stack, innermost first.
func lookup(stack []interface{}, name string) interface{} {
	if name == "." {
		return stack[len(stack)-1]
	}
	parts := strings.Split(name, ".")
	for i := len(stack) - 1; i >= 0; i-- {
		m, ok := stack[i].(map[string]interface{})
		if !ok {
			continue
		}
		val, ok := m[parts[0]]
		if !ok {
			continue
		}
		for _, p := range parts[1:] {
			next, ok := val.(map[string]interface{})
			if !ok {
				return nil
			}
			val = next[p]
		}
		return val
	}
	return nil
}
