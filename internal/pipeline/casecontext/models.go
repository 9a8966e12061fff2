package casecontext

import "time"

type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Message is one entry of the case conversation.
type Message struct {
	Direction Direction `json:"direction"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// ExternalStatus is the last status snapshot read from the exam-registration portal.
type ExternalStatus struct {
	Status           string    `json:"status"`
	BookingConfirmed bool      `json:"bookingConfirmed"`
	ExamDate         string    `json:"examDate,omitempty"`
	CheckedAt        time.Time `json:"checkedAt"`
}

// Session is a resolved exam session (the booked one or a proposed alternative).
type Session struct {
	ID         string `json:"id,omitempty"`
	Date       string `json:"date"`
	RegionCode string `json:"regionCode,omitempty"`
	TimeRange  string `json:"timeRange,omitempty"`
}

// Intent is produced by the upstream classifier and consumed read-only.
type Intent struct {
	Primary           string                 `json:"primary"`
	Secondary         []string               `json:"secondary,omitempty"`
	ExtractedEntities map[string]interface{} `json:"extractedEntities,omitempty"`
}

// Labels returns primary then secondary intents, skipping blanks and repeats.
func (i Intent) Labels() []string {
	seen := make(map[string]struct{}, len(i.Secondary)+1)
	out := make([]string, 0, len(i.Secondary)+1)
	for _, l := range append([]string{i.Primary}, i.Secondary...) {
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}

func (i Intent) Has(label string) bool {
	for _, l := range i.Labels() {
		if l == label {
			return true
		}
	}
	return false
}

// Snapshot is the wire form of a Context, as stored and passed between jobs.
type Snapshot struct {
	Record              map[string]interface{} `json:"record"`
	ExternalStatus      *ExternalStatus        `json:"externalStatus,omitempty"`
	Conversation        []Message              `json:"conversation,omitempty"`
	LastOutboundMessage string                 `json:"lastOutboundMessage,omitempty"`
}

// Record field keys.
const (
	FieldCaseID               = "caseId"
	FieldContactName          = "contactName"
	FieldStatus               = "status"
	FieldExamDate             = "examDate"
	FieldExamSessionID        = "examSessionId"
	FieldExamSession          = "examSession"
	FieldRegistrationDeadline = "registrationDeadline"
	FieldRegionCode           = "regionCode"
	FieldDocumentStatus       = "documentStatus"
	FieldMissingDocuments     = "missingDocuments"
	FieldRefusedDocuments     = "refusedDocuments"
	FieldRefusalReason        = "refusalReason"
	FieldPaymentStatus        = "paymentStatus"
	FieldPromoEligible        = "promoEligible"
	FieldPromoFee             = "promoFee"
	FieldAlternativeSessions  = "alternativeSessions"
	FieldPreferredSession     = "preferredSession"
	FieldTrainingTimeRange    = "trainingTimeRange"
)
