// Package validator checks a candidate reply against the facts known for its case.
package validator

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"support-reply-workers/internal/pipeline/casecontext"
	"support-reply-workers/internal/pipeline/detector"
	"support-reply-workers/internal/pipeline/literals"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic kinds.
const (
	KindHallucinatedDate       = "hallucinated_date"
	KindUnallowedAmount        = "unallowed_amount"
	KindForbiddenTerm          = "forbidden_term"
	KindTemplateResidue        = "template_residue"
	KindEmptyBody              = "empty_body"
	KindProposalAsConfirmation = "proposal_as_confirmation"
	KindRepeatedMessage        = "repeated_message"
)

// DefaultDenyTerms are internal terms that must never reach a customer.
var DefaultDenyTerms = []string{
	"internal note",
	"back-office",
	"backoffice",
	"crm",
	"zeebe",
	"workflow",
	"lookup",
	"case record",
}

var confirmationPhrases = regexp.MustCompile(`(?i)\b(?:we have (?:recorded|registered|booked|confirmed|changed)|(?:has|have) been (?:confirmed|booked|recorded|changed)|is now (?:confirmed|booked)|you are now registered|nous avons (?:bien )?(?:enregistré|confirmé|modifié)|est (?:bien )?confirmée?)`)

var whitespace = regexp.MustCompile(`\s+`)

type Diagnostic struct {
	Kind     string   `json:"kind"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Literal  string   `json:"literal,omitempty"`
}

// Report is the validation outcome. Valid is false when Errors is non-empty.
type Report struct {
	Valid    bool         `json:"valid"`
	Errors   []Diagnostic `json:"errors"`
	Warnings []Diagnostic `json:"warnings"`
}

// All returns errors then warnings.
func (r Report) All() []Diagnostic {
	out := make([]Diagnostic, 0, len(r.Errors)+len(r.Warnings))
	out = append(out, r.Errors...)
	return append(out, r.Warnings...)
}

// Kinds lists the distinct diagnostic kinds, sorted.
func (r Report) Kinds() []string {
	seen := map[string]struct{}{}
	for _, d := range r.All() {
		seen[d.Kind] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// GroundTruth is what a reply may legitimately mention.
type GroundTruth struct {
	AllowedDates   map[string]struct{} // ISO dates
	AllowedAmounts map[string]struct{} // normalized, e.g. "20€"
	Deny           []DenyTerm
	Proposal       bool
	LastOutbound   string
}

type Config struct {
	DenyTerms            []string
	AlwaysAllowedAmounts []string
}

type Validator struct {
	cfg  Config
	deny []DenyTerm
}

func New(cfg Config) *Validator {
	if len(cfg.DenyTerms) == 0 {
		cfg.DenyTerms = DefaultDenyTerms
	}
	return &Validator{cfg: cfg, deny: CompileDenyTerms(cfg.DenyTerms)}
}

// DenyTerm is a forbidden term with its whole-word, case-insensitive matcher.
type DenyTerm struct {
	Term    string
	pattern *regexp.Regexp
}

// CompileDenyTerms trims terms, drops blanks and compiles each matcher once.
func CompileDenyTerms(terms []string) []DenyTerm {
	out := make([]DenyTerm, 0, len(terms))
	for _, term := range terms {
		if term = strings.TrimSpace(term); term == "" {
			continue
		}
		out = append(out, DenyTerm{
			Term:    term,
			pattern: regexp.MustCompile(`(?i)(?:^|\W)` + regexp.QuoteMeta(term) + `(?:\W|$)`),
		})
	}
	return out
}

// GroundTruth gathers the allowed literals of a case: its own recorded dates, every date the
// detected states carry, proposed alternatives, and the amounts those states allow.
func (v *Validator) GroundTruth(cc *casecontext.Context, set detector.Set) GroundTruth {
	gt := GroundTruth{
		AllowedDates:   map[string]struct{}{},
		AllowedAmounts: map[string]struct{}{},
		Deny:           v.deny,
	}
	addDate := func(s string) {
		if iso, ok := literals.NormalizeDate(s); ok {
			gt.AllowedDates[iso] = struct{}{}
		}
	}
	addAmount := func(s string) {
		if a := literals.NormalizeAmount(s); a != "" {
			gt.AllowedAmounts[a] = struct{}{}
		}
	}

	if cc != nil {
		addDate(cc.String(casecontext.FieldExamDate))
		addDate(cc.String(casecontext.FieldRegistrationDeadline))
		if s, ok := cc.ExamSession(); ok {
			addDate(s.Date)
		}
		if ext, ok := cc.External(); ok {
			addDate(ext.ExamDate)
		}
		gt.LastOutbound = cc.LastOutboundMessage()
	}

	for _, a := range v.cfg.AlwaysAllowedAmounts {
		addAmount(a)
	}
	for _, st := range set.States {
		for _, key := range []string{detector.KeyExamDate, detector.KeyDeadline} {
			if s, ok := st.ContextData[key].(string); ok {
				addDate(s)
			}
		}
		if alts, ok := st.ContextData[detector.KeyAlternatives].([]detector.Alternative); ok {
			for _, a := range alts {
				addDate(a.Date)
			}
		}
		if amounts, ok := st.ContextData[detector.KeyAllowedAmounts].([]string); ok {
			for _, a := range amounts {
				addAmount(a)
			}
		}
		if p, ok := st.ContextData[detector.KeyIsProposal].(bool); ok && p {
			gt.Proposal = true
		}
	}
	return gt
}

// Validate runs every check against gt. It has no side effects.
func Validate(text string, gt GroundTruth) Report {
	var r Report
	addErr := func(kind, literal, format string, args ...interface{}) {
		r.Errors = append(r.Errors, Diagnostic{Kind: kind, Severity: SeverityError, Literal: literal, Message: fmt.Sprintf(format, args...)})
	}
	addWarn := func(kind, format string, args ...interface{}) {
		r.Warnings = append(r.Warnings, Diagnostic{Kind: kind, Severity: SeverityWarning, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(text) == "" {
		addErr(KindEmptyBody, "", "reply body is empty")
		r.Valid = false
		return r
	}

	for _, d := range literals.Dates(text) {
		iso, ok := literals.NormalizeDate(d)
		if !ok {
			addErr(KindHallucinatedDate, d, "date %q is not a calendar date", d)
			continue
		}
		if _, ok := gt.AllowedDates[iso]; !ok {
			addErr(KindHallucinatedDate, d, "date %q is not known for this case", d)
		}
	}

	for _, a := range literals.Amounts(text) {
		if _, ok := gt.AllowedAmounts[literals.NormalizeAmount(a)]; !ok {
			addErr(KindUnallowedAmount, a, "amount %q is not allowed in this situation", strings.TrimSpace(a))
		}
	}

	for _, d := range gt.Deny {
		if d.pattern != nil && d.pattern.MatchString(text) {
			addErr(KindForbiddenTerm, d.Term, "internal term %q must not appear in a reply", d.Term)
		}
	}

	if strings.Contains(text, "{{") || strings.Contains(text, "}}") {
		addErr(KindTemplateResidue, "", "reply contains unrendered template tags")
	}

	if gt.Proposal {
		if m := confirmationPhrases.FindString(text); m != "" {
			addWarn(KindProposalAsConfirmation, "reply proposes options but reads as a confirmation (%q)", m)
		}
	}

	if gt.LastOutbound != "" && squash(text) == squash(gt.LastOutbound) {
		addWarn(KindRepeatedMessage, "reply repeats the last message sent to the customer")
	}

	r.Valid = len(r.Errors) == 0
	return r
}

// Validate builds ground truth for the case and validates text against it.
func (v *Validator) Validate(text string, cc *casecontext.Context, set detector.Set) Report {
	return Validate(text, v.GroundTruth(cc, set))
}

func squash(s string) string {
	return strings.ToLower(strings.TrimSpace(whitespace.ReplaceAllString(s, " ")))
}
