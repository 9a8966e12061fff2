// Package casecontext holds the read-only, request-scoped snapshot of one support case.
package casecontext

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

var ErrMalformedContext = errors.New("MALFORMED_CONTEXT")

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(snapshotSchema))
	})
	return schema, schemaErr
}

// Context is immutable once built: every accessor returns copies.
type Context struct {
	snap Snapshot
}

// New validates the snapshot and takes a deep copy of it. A snapshot that fails the
// precondition yields an error wrapping ErrMalformedContext.
func New(s Snapshot) (*Context, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: encode snapshot: %v", ErrMalformedContext, err)
	}
	return FromJSON(raw)
}

// FromJSON builds a Context from the wire form.
func FromJSON(raw []byte) (*Context, error) {
	sch, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compile context schema: %w", err)
	}

	result, err := sch.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedContext, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		sort.Strings(msgs)
		return nil, fmt.Errorf("%w: %s", ErrMalformedContext, strings.Join(msgs, "; "))
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedContext, err)
	}
	return &Context{snap: snap}, nil
}

// Snapshot returns a deep copy of the wire form.
func (c *Context) Snapshot() Snapshot {
	raw, _ := json.Marshal(c.snap)
	var out Snapshot
	_ = json.Unmarshal(raw, &out)
	return out
}

func (c *Context) CaseID() string      { return c.String(FieldCaseID) }
func (c *Context) ContactName() string { return c.String(FieldContactName) }
func (c *Context) Status() string      { return c.String(FieldStatus) }

// String returns a record field as a trimmed string; non-strings and absent keys give "".
func (c *Context) String(key string) string {
	switch v := c.snap.Record[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
	default:
		return ""
	}
}

func (c *Context) Bool(key string) bool {
	b, _ := c.snap.Record[key].(bool)
	return b
}

func (c *Context) Strings(key string) []string {
	items, _ := c.snap.Record[key].([]interface{})
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

// ExamSession returns the resolved examSession lookup, if any.
func (c *Context) ExamSession() (Session, bool) {
	m, ok := c.snap.Record[FieldExamSession].(map[string]interface{})
	if !ok {
		return Session{}, false
	}
	return sessionFromMap(m), true
}

// AlternativeSessions returns the proposed alternatives in record order.
func (c *Context) AlternativeSessions() []Session {
	items, _ := c.snap.Record[FieldAlternativeSessions].([]interface{})
	out := make([]Session, 0, len(items))
	for _, it := range items {
		if m, ok := it.(map[string]interface{}); ok {
			out = append(out, sessionFromMap(m))
		}
	}
	return out
}

func sessionFromMap(m map[string]interface{}) Session {
	str := func(k string) string {
		s, _ := m[k].(string)
		return strings.TrimSpace(s)
	}
	return Session{ID: str("id"), Date: str("date"), RegionCode: str("regionCode"), TimeRange: str("timeRange")}
}

// External returns the external status snapshot; false when the portal was never checked.
func (c *Context) External() (ExternalStatus, bool) {
	if c.snap.ExternalStatus == nil {
		return ExternalStatus{}, false
	}
	return *c.snap.ExternalStatus, true
}

func (c *Context) Conversation() Conversation {
	msgs := make([]Message, len(c.snap.Conversation))
	copy(msgs, c.snap.Conversation)
	return Conversation{Messages: msgs, LastOutboundMessage: c.snap.LastOutboundMessage}
}

func (c *Context) LastOutboundMessage() string { return c.snap.LastOutboundMessage }

// Conversation is the ordered message history plus the last message we sent.
type Conversation struct {
	Messages            []Message
	LastOutboundMessage string
}

// PendingInbound returns the inbound messages received after the last outbound one,
// oldest first. With no outbound message in history every inbound message is pending.
func (c Conversation) PendingInbound() []Message {
	start := 0
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Direction == Outbound {
			start = i + 1
			break
		}
	}
	var out []Message
	for _, m := range c.Messages[start:] {
		if m.Direction == Inbound {
			out = append(out, m)
		}
	}
	return out
}

// PendingText joins the pending inbound bodies, lowercased, one per line.
func (c Conversation) PendingText() string {
	pending := c.PendingInbound()
	parts := make([]string, 0, len(pending))
	for _, m := range pending {
		parts = append(parts, strings.ToLower(m.Body))
	}
	return strings.Join(parts, "\n")
}
