// internal/workers/support/generate-reply/models.go
package generatereply

import (
	"support-reply-workers/internal/pipeline"
	"support-reply-workers/internal/pipeline/casecontext"
)

// Input carries either a case id to load or an inline snapshot. An inline snapshot wins.
type Input struct {
	CaseID      string                `json:"caseId"`
	Intent      casecontext.Intent    `json:"intent"`
	CaseContext *casecontext.Snapshot `json:"caseContext,omitempty"`

	processInstanceKey int64
}

type Output struct {
	Reply        *pipeline.Output `json:"reply"`
	ReplyBody    string           `json:"replyBody"`
	NeedsReview  bool             `json:"needsReview"`
	PrimaryState string           `json:"primaryState"`
	Outcome      string           `json:"outcome"`
}

const inputSchema = `{
	"type": "object",
	"required": ["caseId"],
	"properties": {
		"caseId": {"type": "string", "minLength": 1},
		"intent": {
			"type": "object",
			"properties": {
				"primary": {"type": "string"},
				"secondary": {"type": "array", "items": {"type": "string"}},
				"extractedEntities": {"type": "object"}
			}
		},
		"caseContext": {
			"type": "object",
			"required": ["record"],
			"properties": {
				"record": {"type": "object"},
				"conversation": {"type": "array"}
			}
		}
	}
}`
