// internal/workers/support/route-review/models.go
package routereview

import "support-reply-workers/internal/pipeline"

// Input is the generate-reply output carried on the process instance.
type Input struct {
	CaseID string          `json:"caseId"`
	Reply  pipeline.Output `json:"reply"`
}

type Output struct {
	ReviewQueued   bool   `json:"reviewQueued"`
	ReviewID       string `json:"reviewId,omitempty"`
	NotificationID string `json:"notificationId,omitempty"`
}

const inputSchema = `{
	"type": "object",
	"required": ["caseId", "reply"],
	"properties": {
		"caseId": {"type": "string", "minLength": 1},
		"reply": {
			"type": "object",
			"required": ["body", "needsReview"],
			"properties": {
				"body": {"type": "string"},
				"needsReview": {"type": "boolean"}
			}
		}
	}
}`
