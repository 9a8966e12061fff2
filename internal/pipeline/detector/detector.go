// Package detector maps a case context and intent onto a ranked set of detected states.
package detector

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"support-reply-workers/internal/pipeline/casecontext"
	"support-reply-workers/internal/pipeline/literals"
)

type Config struct {
	DeadlineWarningDays int
	ValidatedStatuses   []string
	Now                 func() time.Time
}

func DefaultConfig() Config {
	return Config{
		DeadlineWarningDays: 7,
		ValidatedStatuses:   []string{"validated", "registered"},
		Now:                 time.Now,
	}
}

// facts are derived once per detection so rules never re-read raw record fields.
type facts struct {
	cc                  *casecontext.Context
	conv                casecontext.Conversation
	intent              casecontext.Intent
	today               time.Time
	warnDays            int
	deadline            time.Time
	hasDeadline         bool
	deadlinePassed      bool
	daysLeft            int
	validated           bool
	examDate            string
	timeRange           string
	alternatives        []Alternative
	dateChangeRequested bool
}

type rule struct {
	id   StateID
	name string
	tier Tier
	rank int
	// substantive states can be primary; the others only add context.
	substantive bool
	suppresses  []StateID
	match       func(f *facts) (map[string]interface{}, bool)
}

// rules is the declaration order. Blocking rules are mutually exclusive (first match wins);
// warning and info rules are additive.
var rules = []rule{
	{id: RegistrationLocked, name: "Registration locked", tier: TierBlocking, rank: 1, substantive: true,
		suppresses: []StateID{DeadlineApproaching, DateChangeOptions}, match: matchRegistrationLocked},
	{id: DocumentsRefused, name: "Documents refused", tier: TierBlocking, rank: 2, substantive: true,
		suppresses: []StateID{DocumentsPending}, match: matchDocumentsRefused},
	{id: DeadlineMissed, name: "Deadline missed", tier: TierBlocking, rank: 3, substantive: true,
		suppresses: []StateID{DeadlineApproaching, ExamScheduled, DateChangeOptions}, match: matchDeadlineMissed},

	{id: ContestedClaim, name: "Contested claim", tier: TierWarning, rank: 4, substantive: true, match: matchContestedClaim},
	{id: DocumentsPending, name: "Documents pending", tier: TierWarning, rank: 5, substantive: true, match: matchDocumentsPending},
	{id: DeadlineApproaching, name: "Deadline approaching", tier: TierWarning, rank: 6, substantive: true, match: matchDeadlineApproaching},
	{id: PaymentPending, name: "Payment pending", tier: TierWarning, rank: 7, substantive: true, match: matchPaymentPending},

	{id: ExamScheduled, name: "Exam scheduled", tier: TierInfo, rank: 8, substantive: true, match: matchExamScheduled},
	{id: DateChangeOptions, name: "Date change options", tier: TierInfo, rank: 9, substantive: true, match: matchDateChangeOptions},
	{id: PromoFeeAvailable, name: "Promotional fee available", tier: TierInfo, rank: 10, substantive: true, match: matchPromoFee},
	{id: SessionPreferenceKnown, name: "Session preference known", tier: TierInfo, rank: 12, match: matchSessionPreference},
	{id: ExternalStatusUnknown, name: "External status unknown", tier: TierInfo, rank: 13, match: matchExternalStatusUnknown},
}

// fallback is emitted only when no substantive rule matched. It ranks ahead of the
// non-substantive info states so the primary is always the lowest (tier, rank) in the set.
var fallback = rule{id: GeneralInquiry, name: "General inquiry", tier: TierInfo, rank: 11, substantive: true}

// RuleInfo describes one entry of the declaration table.
type RuleInfo struct {
	ID         StateID
	Tier       Tier
	Rank       int
	Suppresses []StateID
}

// Rules returns the declaration table, fallback included, in (tier, rank) order.
func Rules() []RuleInfo {
	out := make([]RuleInfo, 0, len(rules)+1)
	for _, r := range append(append([]rule{}, rules...), fallback) {
		out = append(out, RuleInfo{ID: r.id, Tier: r.tier, Rank: r.rank, Suppresses: append([]StateID(nil), r.suppresses...)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return out[i].Tier < out[j].Tier
		}
		return out[i].Rank < out[j].Rank
	})
	return out
}

type Detector struct {
	cfg       Config
	validated map[string]struct{}
}

func New(cfg Config) *Detector {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.DeadlineWarningDays <= 0 {
		cfg.DeadlineWarningDays = 7
	}
	v := make(map[string]struct{}, len(cfg.ValidatedStatuses))
	for _, s := range cfg.ValidatedStatuses {
		v[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}
	return &Detector{cfg: cfg, validated: v}
}

// Detect evaluates every rule against the context. It fails only when the context is
// missing or lacks a mandatory field.
func (d *Detector) Detect(cc *casecontext.Context, intent casecontext.Intent) (Set, error) {
	if cc == nil {
		return Set{}, fmt.Errorf("%w: context is nil", casecontext.ErrMalformedContext)
	}
	for _, field := range []string{casecontext.FieldCaseID, casecontext.FieldContactName, casecontext.FieldStatus} {
		if cc.String(field) == "" {
			return Set{}, fmt.Errorf("%w: %s is required", casecontext.ErrMalformedContext, field)
		}
	}

	f := d.derive(cc, intent)

	var (
		states     []State
		suppressed = map[StateID]struct{}{}
		blocked    bool
		primary    *State
	)

	for _, r := range rules {
		if r.tier == TierBlocking && blocked {
			continue
		}
		if _, skip := suppressed[r.id]; skip {
			continue
		}
		data, ok := r.match(f)
		if !ok {
			continue
		}
		st := State{ID: r.id, Name: r.name, Tier: r.tier, Rank: r.rank, ContextData: data}
		states = append(states, st)
		if r.tier == TierBlocking {
			blocked = true
			for _, s := range r.suppresses {
				suppressed[s] = struct{}{}
			}
		}
		if r.substantive && primary == nil {
			p := st
			primary = &p
		}
	}

	if primary == nil {
		st := State{ID: fallback.id, Name: fallback.name, Tier: fallback.tier, Rank: fallback.rank, ContextData: map[string]interface{}{}}
		states = append(states, st)
		primary = &st
	}

	return Set{
		States:  Sorted(states),
		Primary: primary.ID,
		Shared:  d.shared(f),
	}, nil
}

func (d *Detector) shared(f *facts) map[string]interface{} {
	return map[string]interface{}{
		KeyContactName:         f.cc.ContactName(),
		KeyCaseID:              f.cc.CaseID(),
		KeyStatus:              f.cc.Status(),
		KeyRegionCode:          f.cc.String(casecontext.FieldRegionCode),
		KeyExamDate:            f.examDate,
		KeyDateChangeRequested: f.dateChangeRequested,
	}
}

func (d *Detector) derive(cc *casecontext.Context, intent casecontext.Intent) *facts {
	now := d.cfg.Now().UTC()
	f := &facts{
		cc:       cc,
		conv:     cc.Conversation(),
		intent:   intent,
		today:    time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC),
		warnDays: d.cfg.DeadlineWarningDays,
	}

	if dl, ok := literals.ParseDate(cc.String(casecontext.FieldRegistrationDeadline)); ok {
		f.deadline, f.hasDeadline = dl, true
		f.deadlinePassed = f.today.After(dl)
		f.daysLeft = int(dl.Sub(f.today).Hours() / 24)
	}

	_, f.validated = d.validated[strings.ToLower(cc.Status())]
	ext, hasExt := cc.External()
	if hasExt && (ext.Status == "validated" || ext.BookingConfirmed) {
		f.validated = true
	}

	session, hasSession := cc.ExamSession()
	switch {
	case normalizeOK(cc.String(casecontext.FieldExamDate)) != "":
		f.examDate = normalizeOK(cc.String(casecontext.FieldExamDate))
	case hasSession && normalizeOK(session.Date) != "":
		f.examDate = normalizeOK(session.Date)
	case hasExt && normalizeOK(ext.ExamDate) != "":
		f.examDate = normalizeOK(ext.ExamDate)
	}
	if hasSession && session.TimeRange != "" {
		f.timeRange = session.TimeRange
	} else {
		f.timeRange = cc.String(casecontext.FieldTrainingTimeRange)
	}

	for _, s := range cc.AlternativeSessions() {
		iso := normalizeOK(s.Date)
		if iso == "" || iso == f.examDate {
			continue
		}
		if t, _ := literals.ParseDate(iso); t.Before(f.today) {
			continue
		}
		f.alternatives = append(f.alternatives, Alternative{
			Index:      len(f.alternatives) + 1,
			ID:         s.ID,
			Date:       iso,
			RegionCode: s.RegionCode,
			TimeRange:  s.TimeRange,
		})
	}

	f.dateChangeRequested = RequestsDateChange(f.conv, intent)
	return f
}

func normalizeOK(s string) string {
	iso, _ := literals.NormalizeDate(s)
	return iso
}

func isoDate(t time.Time) string { return t.Format("2006-01-02") }

// ==========================
// Rule predicates
// ==========================

func matchRegistrationLocked(f *facts) (map[string]interface{}, bool) {
	if !f.hasDeadline || !f.deadlinePassed || !f.validated {
		return nil, false
	}
	return map[string]interface{}{
		KeyDeadline: isoDate(f.deadline),
		KeyExamDate: f.examDate,
		KeyStatus:   f.cc.Status(),
		KeyReason: fmt.Sprintf("registration deadline %s has passed and the registration is already %s",
			isoDate(f.deadline), f.cc.Status()),
	}, true
}

func matchDocumentsRefused(f *facts) (map[string]interface{}, bool) {
	if f.cc.String(casecontext.FieldDocumentStatus) != "refused" {
		return nil, false
	}
	docs := f.cc.Strings(casecontext.FieldRefusedDocuments)
	return map[string]interface{}{
		KeyDocuments:     docs,
		KeyDocumentCount: len(docs),
		KeyReason:        f.cc.String(casecontext.FieldRefusalReason),
	}, true
}

func matchDeadlineMissed(f *facts) (map[string]interface{}, bool) {
	if !f.hasDeadline || !f.deadlinePassed || f.validated {
		return nil, false
	}
	return map[string]interface{}{
		KeyDeadline:        isoDate(f.deadline),
		KeyAlternatives:    f.alternatives,
		KeyHasAlternatives: len(f.alternatives) > 0,
		KeyIsProposal:      len(f.alternatives) > 0,
	}, true
}

func matchContestedClaim(f *facts) (map[string]interface{}, bool) {
	kind, ok := DetectContestedClaim(f.conv)
	if !ok {
		return nil, false
	}
	return map[string]interface{}{KeyClaim: kind}, true
}

func matchDocumentsPending(f *facts) (map[string]interface{}, bool) {
	status := f.cc.String(casecontext.FieldDocumentStatus)
	if status != "missing" && status != "pending_review" {
		return nil, false
	}
	docs := f.cc.Strings(casecontext.FieldMissingDocuments)
	return map[string]interface{}{
		KeyDocuments:     docs,
		KeyDocumentCount: len(docs),
		"pendingReview":  status == "pending_review",
	}, true
}

func matchDeadlineApproaching(f *facts) (map[string]interface{}, bool) {
	if !f.hasDeadline || f.deadlinePassed || f.validated || f.daysLeft > f.warnDays {
		return nil, false
	}
	return map[string]interface{}{
		KeyDeadline: isoDate(f.deadline),
		KeyDaysLeft: f.daysLeft,
	}, true
}

func matchPaymentPending(f *facts) (map[string]interface{}, bool) {
	if f.cc.String(casecontext.FieldPaymentStatus) != "unpaid" {
		return nil, false
	}
	return map[string]interface{}{}, true
}

func matchExamScheduled(f *facts) (map[string]interface{}, bool) {
	if f.examDate == "" || !f.validated {
		return nil, false
	}
	return map[string]interface{}{
		KeyExamDate:   f.examDate,
		KeyRegionCode: f.cc.String(casecontext.FieldRegionCode),
		KeyTimeRange:  f.timeRange,
	}, true
}

func matchDateChangeOptions(f *facts) (map[string]interface{}, bool) {
	if !f.dateChangeRequested || len(f.alternatives) == 0 {
		return nil, false
	}
	return map[string]interface{}{
		KeyAlternatives:    f.alternatives,
		KeyHasAlternatives: true,
		KeyIsProposal:      true,
	}, true
}

func matchPromoFee(f *facts) (map[string]interface{}, bool) {
	if !f.cc.Bool(casecontext.FieldPromoEligible) {
		return nil, false
	}
	fee := literals.NormalizeAmount(f.cc.String(casecontext.FieldPromoFee))
	if fee == "" {
		return nil, false
	}
	return map[string]interface{}{
		KeyPromoFee:       fee,
		KeyAllowedAmounts: []string{fee},
	}, true
}

func matchSessionPreference(f *facts) (map[string]interface{}, bool) {
	pref := f.cc.String(casecontext.FieldPreferredSession)
	if pref != "morning" && pref != "afternoon" {
		return nil, false
	}
	return map[string]interface{}{KeyPreference: pref}, true
}

func matchExternalStatusUnknown(f *facts) (map[string]interface{}, bool) {
	if _, ok := f.cc.External(); ok {
		return nil, false
	}
	return map[string]interface{}{}, true
}
