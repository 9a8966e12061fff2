// Package updates derives the record mutations implied by the inbound conversation. It never
// reads the generated reply.
package updates

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"support-reply-workers/internal/common/logger"
	"support-reply-workers/internal/common/metrics"
	"support-reply-workers/internal/pipeline/casecontext"
	"support-reply-workers/internal/pipeline/detector"
	"support-reply-workers/internal/pipeline/literals"
)

// FieldDateChangeRequested flags a change request that named no concrete session.
const FieldDateChangeRequested = "dateChangeRequested"

// DefaultLockedFields are frozen once registration_locked is detected.
var DefaultLockedFields = []string{
	casecontext.FieldExamDate,
	casecontext.FieldExamSessionID,
	casecontext.FieldRegionCode,
}

const (
	months = `(?:january|february|march|april|may|june|july|august|september|october|november|december|` +
		`jan|feb|mar|apr|jun|jul|aug|sept?|oct|nov|dec|janvier|f[ée]vrier|mars|avril|mai|juin|juillet|ao[uû]t|` +
		`septembre|octobre|novembre|d[ée]cembre)`
	dayOrdinal = `(?:1st|2nd|3rd|4th|first|second|third|fourth|premier|1er)`

	morningWords   = `(?:mornings?|a\.m\.|matin(?:[ée]e|s)?)`
	afternoonWords = `(?:afternoons?|p\.m\.|apr[eè]s-midi)`
)

var (
	optionNumberRe = regexp.MustCompile(`\b(?:option|choice|choix|n°)\s*(?:n[°o]\.?\s*)?(\d{1,2})\b`)
	ordinalRes     = []*regexp.Regexp{
		regexp.MustCompile(`(?m)\bthe\s+(first|second|third|fourth)(?:\s+(?:one|option|session|date|choice|slot)\b|\s*[.!,;]|\s*$)`),
		regexp.MustCompile(`(?m)\b(1st|2nd|3rd|4th)(?:\s+(?:one|option|session|date|choice|slot|please)\b|\s*[.!,;]|\s*$)`),
		regexp.MustCompile(`\b(?:la|le)\s+(premi[eè]re?|deuxi[eè]me|troisi[eè]me)\b`),
	}
	// Day-of-month mentions ("the 1st of april", "april 2nd", "until the 1st", "le premier mai")
	// are blanked before ordinals are read as option choices.
	calendarOrdinalRes = []*regexp.Regexp{
		regexp.MustCompile(`\b` + dayOrdinal + `\s+(?:of\s+)?` + months + `\b`),
		regexp.MustCompile(`\b` + months + `\s+(?:the\s+)?` + dayOrdinal + `\b`),
		regexp.MustCompile(`\b(?:until|till|before|after|from|since|on|by|around)\s+(?:the\s+)?` + dayOrdinal + `\b`),
		regexp.MustCompile(`(?m)(?:^|\s)(?:jusqu'au|avant\s+le|apr[eè]s\s+le|[àa]\s+partir\s+du|d[èe]s\s+le)\s+` + dayOrdinal + `\b`),
	}

	// Greetings and narration that name a time of day without stating a preference.
	timeOfDayNoiseRe = regexp.MustCompile(`\b(?:good|this|yesterday|tomorrow|every|last|next)\s+(?:morning|afternoon)\b|` +
		`\bce\s+matin\b|\bcet\s+apr[eè]s-midi\b|\bbon(?:ne)?\s+(?:matin[ée]e|apr[eè]s-midi)\b|\bbonjour\b`)
	morningRes   = preferenceRes(morningWords)
	afternoonRes = preferenceRes(afternoonWords)
)

// preferenceRes builds the phrasings that state a time-of-day preference for slot.
func preferenceRes(slot string) []*regexp.Regexp {
	patterns := []string{
		`\b(?:prefer|preferably|rather|only|ideally|best)\b[^.!?\n]{0,40}?` + slot,
		slot + `\s+(?:are|is|would\s+be|suits?|works?)\b[^.!?\n]{0,20}?\b(?:better|best|me|fine|great|good)\b`,
		`\b(?:a|an|the)\s+` + slot + `\s+(?:session|slot|exam|one|date|option)\b`,
		slot + `\s+(?:please|if\s+possible|de\s+pr[ée]f[ée]rence|svp|s'il\s+vous\s+pla[iî]t)`,
		`pr[ée]f[eè]re[^.!?\n]{0,40}?` + slot,
		`\b(?:plut[oô]t|uniquement|seulement|id[ée]alement)\b[^.!?\n]{0,40}?` + slot,
	}
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

var ordinals = map[string]int{
	"first": 1, "1st": 1, "premier": 1, "premiere": 1, "première": 1,
	"second": 2, "2nd": 2, "deuxieme": 2, "deuxième": 2,
	"third": 3, "3rd": 3, "troisieme": 3, "troisième": 3,
	"fourth": 4, "4th": 4,
}

// Plan is the outcome of one determination. Blocked maps a field to the reason a human
// must handle it.
type Plan struct {
	Applied map[string]interface{} `json:"applied"`
	Blocked map[string]string      `json:"blocked"`
}

// Empty reports whether the plan carries nothing to persist or surface.
func (p Plan) Empty() bool { return len(p.Applied) == 0 && len(p.Blocked) == 0 }

// Fields returns applied then blocked field names, each group sorted.
func (p Plan) Fields() []string {
	applied := make([]string, 0, len(p.Applied))
	for k := range p.Applied {
		applied = append(applied, k)
	}
	sort.Strings(applied)
	blocked := make([]string, 0, len(p.Blocked))
	for k := range p.Blocked {
		blocked = append(blocked, k)
	}
	sort.Strings(blocked)
	return append(applied, blocked...)
}

type Config struct {
	LockedFields []string
}

type Determiner struct {
	locked map[string]struct{}
	logger logger.Logger
}

func New(cfg Config, log logger.Logger) *Determiner {
	fields := cfg.LockedFields
	if len(fields) == 0 {
		fields = DefaultLockedFields
	}
	locked := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		locked[f] = struct{}{}
	}
	return &Determiner{locked: locked, logger: log.With(map[string]interface{}{"component": "updates"})}
}

// candidate is one proposed mutation and the matcher that produced it.
type candidate struct {
	field string
	value interface{}
	rule  string
}

// Determine matches the inbound messages received since our last reply against the detected
// states and returns the guarded plan.
func (d *Determiner) Determine(set detector.Set, conv casecontext.Conversation) Plan {
	plan := Plan{Applied: map[string]interface{}{}, Blocked: map[string]string{}}
	text := conv.PendingText()
	if text == "" {
		return plan
	}

	var cands []candidate
	if alt, rule, ok := chooseAlternative(text, set.Alternatives()); ok {
		cands = append(cands, candidate{field: casecontext.FieldExamDate, value: alt.Date, rule: rule})
		if alt.ID != "" {
			cands = append(cands, candidate{field: casecontext.FieldExamSessionID, value: alt.ID, rule: rule})
		}
		if alt.RegionCode != "" {
			cands = append(cands, candidate{field: casecontext.FieldRegionCode, value: alt.RegionCode, rule: rule})
		}
	} else if requested, _ := set.Shared[detector.KeyDateChangeRequested].(bool); requested ||
		detector.RequestsDateChange(conv, casecontext.Intent{}) {
		// Nothing concrete to write, but a lock must still surface the request to a human.
		cands = append(cands, candidate{field: casecontext.FieldExamDate, rule: "date_change_request"})
	}

	if pref, ok := preference(text); ok && pref != currentPreference(set) {
		cands = append(cands, candidate{field: casecontext.FieldPreferredSession, value: pref, rule: "time_of_day"})
	}

	lock, isLocked := set.Get(detector.RegistrationLocked)
	for _, c := range cands {
		if _, frozen := d.locked[c.field]; isLocked && frozen {
			plan.Blocked[c.field] = blockReason(c.field, lock)
			metrics.UpdatesDetermined.WithLabelValues(c.field, "blocked").Inc()
			continue
		}
		if c.value == nil {
			plan.Applied[FieldDateChangeRequested] = true
			metrics.UpdatesDetermined.WithLabelValues(FieldDateChangeRequested, "applied").Inc()
			continue
		}
		plan.Applied[c.field] = c.value
		metrics.UpdatesDetermined.WithLabelValues(c.field, "applied").Inc()
	}

	if !plan.Empty() {
		d.logger.Info("record updates determined", map[string]interface{}{
			"caseId":  set.Shared[detector.KeyCaseID],
			"applied": len(plan.Applied),
			"blocked": len(plan.Blocked),
		})
	}
	return plan
}

// chooseAlternative resolves "option 2", "the second one" or a proposed date mentioned
// verbatim to one alternative. Mentions of two different alternatives resolve to none.
func chooseAlternative(text string, alts []detector.Alternative) (detector.Alternative, string, bool) {
	if len(alts) == 0 {
		return detector.Alternative{}, "", false
	}
	byIndex := func(n int) (detector.Alternative, bool) {
		for _, a := range alts {
			if a.Index == n {
				return a, true
			}
		}
		return detector.Alternative{}, false
	}

	if idx, ok := single(optionNumbers(text)); ok {
		if a, ok := byIndex(idx); ok {
			return a, "option_choice", true
		}
	}

	var dated []int
	for _, d := range literals.Dates(text) {
		iso, ok := literals.NormalizeDate(d)
		if !ok {
			continue
		}
		for _, a := range alts {
			if a.Date == iso {
				dated = append(dated, a.Index)
			}
		}
	}
	if idx, ok := single(dated); ok {
		a, _ := byIndex(idx)
		return a, "explicit_date", true
	}
	return detector.Alternative{}, "", false
}

func optionNumbers(text string) []int {
	var out []int
	for _, m := range optionNumberRe.FindAllStringSubmatch(text, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil {
			out = append(out, n)
		}
	}
	for _, re := range calendarOrdinalRes {
		text = re.ReplaceAllString(text, " ")
	}
	for _, re := range ordinalRes {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if n, ok := ordinals[m[1]]; ok {
				out = append(out, n)
			}
		}
	}
	return out
}

// single returns the value when every element agrees.
func single(ns []int) (int, bool) {
	if len(ns) == 0 {
		return 0, false
	}
	for _, n := range ns[1:] {
		if n != ns[0] {
			return 0, false
		}
	}
	return ns[0], true
}

// preference maps the time of day the customer asked for. Greetings and narration do not
// count, and stating both is ambiguous.
func preference(text string) (string, bool) {
	text = timeOfDayNoiseRe.ReplaceAllString(text, " ")
	m, a := matchAny(morningRes, text), matchAny(afternoonRes, text)
	switch {
	case m && !a:
		return "morning", true
	case a && !m:
		return "afternoon", true
	default:
		return "", false
	}
}

func matchAny(res []*regexp.Regexp, text string) bool {
	for _, re := range res {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func currentPreference(set detector.Set) string {
	st, ok := set.Get(detector.SessionPreferenceKnown)
	if !ok {
		return ""
	}
	p, _ := st.ContextData[detector.KeyPreference].(string)
	return p
}

func blockReason(field string, lock detector.State) string {
	if reason, _ := lock.ContextData[detector.KeyReason].(string); strings.TrimSpace(reason) != "" {
		return fmt.Sprintf("%s cannot be changed automatically: %s", field, reason)
	}
	return fmt.Sprintf("%s cannot be changed automatically: registration is locked", field)
}
