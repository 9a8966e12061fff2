// Package composer renders the deterministic reply body from detected states and intent.
package composer

import (
	"regexp"
	"strings"

	"support-reply-workers/internal/common/logger"
	"support-reply-workers/internal/common/metrics"
	"support-reply-workers/internal/pipeline/casecontext"
	"support-reply-workers/internal/pipeline/detector"
	"support-reply-workers/internal/pipeline/tmpl"
)

// Anchor names declared by masters.
const (
	AnchorIntentAck = "intent_ack"
	AnchorBlocking  = "blocking"
	AnchorWarnings  = "warnings"
	AnchorInfo      = "info"
)

// builtinMaster is used when neither the selected nor the default master exists.
const builtinMaster = `Hello {{contactName}},

{{$intent_ack}}
{{$blocking}}
{{$warnings}}
{{$info}}
Kind regards`

var blankRuns = regexp.MustCompile(`\n[ \t]*\n(?:[ \t]*\n)+`)

func tierAnchor(t detector.Tier) string {
	switch t {
	case detector.TierBlocking:
		return AnchorBlocking
	case detector.TierWarning:
		return AnchorWarnings
	default:
		return AnchorInfo
	}
}

type Composer struct {
	reg     *Registry
	builtin *tmpl.Template
	logger  logger.Logger
}

// New builds a composer over a loaded registry. Dangling references are logged once here
// and skipped at render time.
func New(reg *Registry, cache *tmpl.Cache, log logger.Logger) (*Composer, error) {
	builtin, err := cache.Get(builtinMaster)
	if err != nil {
		return nil, err
	}
	c := &Composer{reg: reg, builtin: builtin, logger: log.With(map[string]interface{}{"component": "composer"})}
	for _, ref := range reg.Dangling() {
		c.logger.Warn("template reference has no asset", map[string]interface{}{"reference": ref})
	}
	return c, nil
}

// Result describes one composition.
type Result struct {
	Body            string   `json:"body"`
	ContentType     string   `json:"contentType"`
	Master          string   `json:"master"`
	Contributions   []string `json:"contributions"`
	MissingPartials []string `json:"missingPartials,omitempty"`
}

// Compose returns the deterministic body for the states and intent.
func (c *Composer) Compose(set detector.Set, intent casecontext.Intent) string {
	return c.Render(set, intent).Body
}

// Render composes and reports which master and partials were used. Identical inputs
// always give byte-identical output regardless of the order of set.States.
func (c *Composer) Render(set detector.Set, intent casecontext.Intent) Result {
	m := c.reg.Manifest()
	res := Result{ContentType: m.ContentType}
	states := detector.Sorted(set.States)

	primary := set.PrimaryState()
	if b, ok := set.Blocking(); ok {
		primary = b
	}

	master, masterName, selectedBy := c.selectMaster(primary)
	res.Master = masterName

	var missing []string
	opts := tmpl.RenderOptions{
		Escape:   m.ContentType == ContentTypeMarkup,
		Partials: c.reg.Partial,
		OnMissingPartial: func(name string) {
			missing = append(missing, name)
		},
	}

	anchors := map[string][]string{}
	declared := map[string]struct{}{}
	for _, a := range master.Anchors() {
		declared[a] = struct{}{}
	}
	contribute := func(anchor, partial string, data map[string]interface{}) {
		if _, ok := declared[anchor]; !ok {
			c.logger.Warn("anchor not declared in master", map[string]interface{}{"anchor": anchor, "master": masterName, "partial": partial})
			return
		}
		p, ok := c.reg.Partial(partial)
		if !ok {
			opts.OnMissingPartial(partial)
			return
		}
		if out := strings.TrimSpace(p.Render(data, opts)); out != "" {
			anchors[anchor] = append(anchors[anchor], out)
			res.Contributions = append(res.Contributions, partial)
		}
	}

	for _, label := range intent.Labels() {
		if name, ok := m.Intents[label]; ok {
			contribute(AnchorIntentAck, name, merge(set.Shared, map[string]interface{}{
				"intent":   label,
				"entities": intent.ExtractedEntities,
			}))
		}
	}

	for _, st := range states {
		if st.ID == selectedBy {
			continue
		}
		sp, ok := m.States[string(st.ID)]
		if !ok {
			continue
		}
		anchor := sp.Anchor
		if anchor == "" {
			anchor = tierAnchor(st.Tier)
		}
		contribute(anchor, sp.Partial, merge(set.Shared, st.ContextData))
	}

	filled := make(map[string]string, len(anchors))
	for name, parts := range anchors {
		filled[name] = strings.Join(parts, "\n\n") + "\n\n"
	}
	opts.Anchors = filled

	body := master.Render(merge(set.Shared, primary.ContextData, map[string]interface{}{
		"primaryState": string(primary.ID),
	}), opts)
	res.Body = strings.TrimSpace(blankRuns.ReplaceAllString(body, "\n\n"))

	for _, name := range missing {
		metrics.MissingPartials.WithLabelValues(name).Inc()
		c.logger.Warn("template partial not found, anchor skipped", map[string]interface{}{
			"partial": name,
			"master":  masterName,
			"caseId":  set.Shared[detector.KeyCaseID],
		})
	}
	res.MissingPartials = missing
	return res
}

// selectMaster returns the master for the primary state, then the default master, then
// the built-in one. selectedBy is the state whose content the master carries.
func (c *Composer) selectMaster(primary detector.State) (*tmpl.Template, string, detector.StateID) {
	m := c.reg.Manifest()
	if name, ok := m.Masters[string(primary.ID)]; ok {
		if t, ok := c.reg.Master(name); ok {
			return t, name, primary.ID
		}
		c.logger.Warn("master template not found, using default", map[string]interface{}{"master": name, "state": primary.ID})
	}
	if t, ok := c.reg.Master(m.DefaultMaster); ok {
		return t, m.DefaultMaster, ""
	}
	return c.builtin, "builtin", ""
}

// merge layers maps left to right into a new map.
func merge(layers ...map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	for _, l := range layers {
		for k, v := range l {
			out[k] = v
		}
	}
	return out
}
