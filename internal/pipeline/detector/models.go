package detector

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Tier is the priority class of a detected state. Lower sorts first.
type Tier int

const (
	TierBlocking Tier = iota
	TierWarning
	TierInfo
)

func (t Tier) String() string {
	switch t {
	case TierBlocking:
		return "blocking"
	case TierWarning:
		return "warning"
	case TierInfo:
		return "info"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

func (t Tier) MarshalJSON() ([]byte, error) { return json.Marshal(t.String()) }

func (t *Tier) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "blocking":
		*t = TierBlocking
	case "warning":
		*t = TierWarning
	case "info":
		*t = TierInfo
	default:
		return fmt.Errorf("unknown tier %q", s)
	}
	return nil
}

type StateID string

const (
	RegistrationLocked     StateID = "registration_locked"
	DocumentsRefused       StateID = "documents_refused"
	DeadlineMissed         StateID = "deadline_missed"
	ContestedClaim         StateID = "contested_claim"
	DocumentsPending       StateID = "documents_pending"
	DeadlineApproaching    StateID = "deadline_approaching"
	PaymentPending         StateID = "payment_pending"
	ExamScheduled          StateID = "exam_scheduled"
	DateChangeOptions      StateID = "date_change_options"
	PromoFeeAvailable      StateID = "promo_fee_available"
	SessionPreferenceKnown StateID = "session_preference_known"
	ExternalStatusUnknown  StateID = "external_status_unknown"
	GeneralInquiry         StateID = "general_inquiry"
)

// Keys used in State.ContextData and Set.Shared.
const (
	KeyAlternatives        = "alternatives"
	KeyHasAlternatives     = "hasAlternatives"
	KeyExamDate            = "examDate"
	KeyDeadline            = "deadline"
	KeyDaysLeft            = "daysLeft"
	KeyDocuments           = "documents"
	KeyDocumentCount       = "documentCount"
	KeyAllowedAmounts      = "allowedAmounts"
	KeyIsProposal          = "isProposal"
	KeyReason              = "reason"
	KeyClaim               = "claim"
	KeyPreference          = "preference"
	KeyPromoFee            = "promoFee"
	KeyTimeRange           = "timeRange"
	KeyStatus              = "status"
	KeyContactName         = "contactName"
	KeyCaseID              = "caseId"
	KeyRegionCode          = "regionCode"
	KeyDateChangeRequested = "dateChangeRequested"
)

// State is one detected situation of a case.
type State struct {
	ID          StateID                `json:"id"`
	Name        string                 `json:"name"`
	Tier        Tier                   `json:"priorityTier"`
	Rank        int                    `json:"rank"`
	ContextData map[string]interface{} `json:"contextData,omitempty"`
}

// Less orders states by tier, then declaration rank, then id.
func Less(a, b State) bool {
	if a.Tier != b.Tier {
		return a.Tier < b.Tier
	}
	if a.Rank != b.Rank {
		return a.Rank < b.Rank
	}
	return a.ID < b.ID
}

// Sorted returns a copy of states in canonical order.
func Sorted(states []State) []State {
	out := make([]State, len(states))
	copy(out, states)
	sort.SliceStable(out, func(i, j int) bool { return Less(out[i], out[j]) })
	return out
}

// Set is the outcome of one detection pass.
type Set struct {
	States  []State                `json:"states"`
	Primary StateID                `json:"primary"`
	Shared  map[string]interface{} `json:"shared,omitempty"`
}

func (s Set) Get(id StateID) (State, bool) {
	for _, st := range s.States {
		if st.ID == id {
			return st, true
		}
	}
	return State{}, false
}

func (s Set) Has(id StateID) bool {
	_, ok := s.Get(id)
	return ok
}

// PrimaryState returns the state named by Primary.
func (s Set) PrimaryState() State {
	st, _ := s.Get(s.Primary)
	return st
}

// Blocking returns the blocking state, if any.
func (s Set) Blocking() (State, bool) {
	for _, st := range s.States {
		if st.Tier == TierBlocking {
			return st, true
		}
	}
	return State{}, false
}

func (s Set) IDs() []string {
	out := make([]string, 0, len(s.States))
	for _, st := range s.States {
		out = append(out, string(st.ID))
	}
	return out
}

// Alternatives returns the proposed alternative sessions carried by any state.
func (s Set) Alternatives() []Alternative {
	for _, st := range s.States {
		if alts, ok := st.ContextData[KeyAlternatives].([]Alternative); ok && len(alts) > 0 {
			return alts
		}
	}
	return nil
}

// Alternative is a proposed session with its 1-based option number.
type Alternative struct {
	Index      int    `json:"index"`
	ID         string `json:"id,omitempty"`
	Date       string `json:"date"`
	RegionCode string `json:"regionCode,omitempty"`
	TimeRange  string `json:"timeRange,omitempty"`
}

// TemplateData renders the alternative for the template engine.
func (a Alternative) TemplateData() map[string]interface{} {
	return map[string]interface{}{
		"index":      a.Index,
		"id":         a.ID,
		"date":       a.Date,
		"regionCode": a.RegionCode,
		"timeRange":  a.TimeRange,
	}
}
