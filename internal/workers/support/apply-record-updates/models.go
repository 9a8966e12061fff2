// internal/workers/support/apply-record-updates/models.go
package applyrecordupdates

import "support-reply-workers/internal/pipeline/updates"

type Input struct {
	CaseID string `json:"caseId"`
	Reply  struct {
		UpdatePlan updates.Plan `json:"updatePlan"`
	} `json:"reply"`
}

type Output struct {
	RecordUpdated bool     `json:"recordUpdated"`
	AppliedFields []string `json:"appliedFields"`
	BlockedFields []string `json:"blockedFields"`
	NotesWritten  int      `json:"notesWritten"`
}

const inputSchema = `{
	"type": "object",
	"required": ["caseId", "reply"],
	"properties": {
		"caseId": {"type": "string", "minLength": 1},
		"reply": {
			"type": "object",
			"required": ["updatePlan"],
			"properties": {
				"updatePlan": {
					"type": "object",
					"properties": {
						"applied": {"type": ["object", "null"]},
						"blocked": {
							"type": ["object", "null"],
							"additionalProperties": {"type": "string"}
						}
					}
				}
			}
		}
	}
}`
