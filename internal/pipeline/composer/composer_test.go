package composer

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"support-reply-workers/internal/common/logger"
	"support-reply-workers/internal/pipeline/casecontext"
	"support-reply-workers/internal/pipeline/detector"
	"support-reply-workers/internal/pipeline/tmpl"
)

// ==========================
// Test Helper Functions
// ==========================

const testMaster = "Hello {{contactName}},\n\n{{$intent_ack}}\n{{$blocking}}\n{{$warnings}}\n{{$info}}\nBye"

func createTestManifest() Manifest {
	return Manifest{
		ContentType:   ContentTypeText,
		DefaultMaster: "general",
		Masters:       map[string]string{"deadline_missed": "missed"},
		States: map[string]StatePartial{
			"documents_pending": {Partial: "docs"},
			"payment_pending":   {Partial: "pay"},
			"exam_scheduled":    {Partial: "sched"},
			"deadline_missed":   {Anchor: AnchorBlocking, Partial: "missed_notice"},
		},
		Intents: map[string]string{
			"payment_question":    "ack_pay",
			"date_change_request": "ack_date",
		},
	}
}

func createTestPartials() map[string]string {
	return map[string]string{
		"docs":          "Docs: {{documents}}",
		"pay":           "Pay now.",
		"sched":         "Exam {{examDate}}.",
		"missed_notice": "Deadline {{deadline}} missed.",
		"ack_pay":       "About payment.",
		"ack_date":      "About your date.",
	}
}

func createTestComposer(t *testing.T, m Manifest, masters, partials map[string]string) (*Composer, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	cache := tmpl.NewCache()
	reg, err := NewRegistry(m, masters, partials, cache)
	require.NoError(t, err)
	c, err := New(reg, cache, logger.NewZapAdapter(zap.New(core)))
	require.NoError(t, err)
	return c, logs
}

func warningSet(order ...detector.State) detector.Set {
	return detector.Set{
		States:  order,
		Primary: detector.DocumentsPending,
		Shared:  map[string]interface{}{"contactName": "Marie", "caseId": "C-1"},
	}
}

var (
	docsState  = detector.State{ID: detector.DocumentsPending, Tier: detector.TierWarning, Rank: 5, ContextData: map[string]interface{}{"documents": []string{"id_card"}}}
	payState   = detector.State{ID: detector.PaymentPending, Tier: detector.TierWarning, Rank: 7, ContextData: map[string]interface{}{}}
	schedState = detector.State{ID: detector.ExamScheduled, Tier: detector.TierInfo, Rank: 8, ContextData: map[string]interface{}{"examDate": "2026-03-10"}}
)

// ==========================
// Core Functionality Tests
// ==========================

func TestCompose_AdditiveStatesFollowTierThenRank(t *testing.T) {
	c, _ := createTestComposer(t, createTestManifest(), map[string]string{"general": testMaster}, createTestPartials())

	want := "Hello Marie,\n\nDocs: id_card\n\nPay now.\n\nExam 2026-03-10.\n\nBye"

	forward := c.Compose(warningSet(docsState, payState, schedState), casecontext.Intent{})
	swapped := c.Compose(warningSet(schedState, payState, docsState), casecontext.Intent{})

	assert.Equal(t, want, forward)
	assert.Equal(t, forward, swapped, "render order is owned by the composer, not by detection order")
}

func TestCompose_Deterministic(t *testing.T) {
	c, _ := createTestComposer(t, createTestManifest(), map[string]string{"general": testMaster}, createTestPartials())
	set := warningSet(docsState, payState, schedState)
	intent := casecontext.Intent{Primary: "payment_question", Secondary: []string{"date_change_request"}}

	first := c.Compose(set, intent)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, c.Compose(set, intent))
	}
}

func TestCompose_IntentAcknowledgmentsInReceivedOrder(t *testing.T) {
	c, _ := createTestComposer(t, createTestManifest(), map[string]string{"general": testMaster}, createTestPartials())
	set := warningSet(payState)

	got := c.Compose(set, casecontext.Intent{Primary: "date_change_request", Secondary: []string{"payment_question", "unknown_label"}})
	assert.Equal(t, "Hello Marie,\n\nAbout your date.\n\nAbout payment.\n\nPay now.\n\nBye", got)
}

func TestCompose_MissingPartialIsSkippedAndLogged(t *testing.T) {
	masters := map[string]string{"general": "Hello {{contactName}},\n{{> X}}\n{{$warnings}}\nBye"}
	c, logs := createTestComposer(t, createTestManifest(), masters, createTestPartials())

	var res Result
	require.NotPanics(t, func() {
		res = c.Render(warningSet(docsState), casecontext.Intent{})
	})

	assert.Equal(t, "Hello Marie,\nDocs: id_card\n\nBye", res.Body)
	assert.Equal(t, []string{"X"}, res.MissingPartials)
	assert.Equal(t, 1, logs.FilterMessage("template partial not found, anchor skipped").Len())
}

func TestCompose_MasterSelection(t *testing.T) {
	missedSet := detector.Set{
		States: []detector.State{
			{ID: detector.DeadlineMissed, Tier: detector.TierBlocking, Rank: 3, ContextData: map[string]interface{}{"deadline": "2026-02-20"}},
			payState,
		},
		Primary: detector.DeadlineMissed,
		Shared:  map[string]interface{}{"contactName": "Marie"},
	}

	t.Run("blocking state selects its master and contributes nothing else", func(t *testing.T) {
		masters := map[string]string{
			"general": testMaster,
			"missed":  "Dear {{contactName}}, deadline {{deadline}} passed.\n{{$warnings}}\nEnd",
		}
		c, _ := createTestComposer(t, createTestManifest(), masters, createTestPartials())
		res := c.Render(missedSet, casecontext.Intent{})

		assert.Equal(t, "missed", res.Master)
		assert.Equal(t, "Dear Marie, deadline 2026-02-20 passed.\nPay now.\n\nEnd", res.Body)
		assert.Equal(t, []string{"pay"}, res.Contributions)
	})

	t.Run("missing state master falls back to default and the state fills the blocking anchor", func(t *testing.T) {
		c, _ := createTestComposer(t, createTestManifest(), map[string]string{"general": testMaster}, createTestPartials())
		res := c.Render(missedSet, casecontext.Intent{})

		assert.Equal(t, "general", res.Master)
		assert.Equal(t, "Hello Marie,\n\nDeadline 2026-02-20 missed.\n\nPay now.\n\nBye", res.Body)
	})

	t.Run("no master at all uses the built-in one", func(t *testing.T) {
		c, _ := createTestComposer(t, createTestManifest(), map[string]string{}, createTestPartials())
		res := c.Render(missedSet, casecontext.Intent{})

		assert.Equal(t, "builtin", res.Master)
		assert.Equal(t, "Hello Marie,\n\nDeadline 2026-02-20 missed.\n\nPay now.\n\nKind regards", res.Body)
	})
}

func TestCompose_MarkupEscapesValues(t *testing.T) {
	m := createTestManifest()
	m.ContentType = ContentTypeMarkup
	c, _ := createTestComposer(t, m, map[string]string{"general": "<p>Hello {{contactName}}</p>"}, nil)

	set := detector.Set{Shared: map[string]interface{}{"contactName": "<script>"}}
	res := c.Render(set, casecontext.Intent{})
	assert.Equal(t, "<p>Hello &lt;script&gt;</p>", res.Body)
	assert.Equal(t, ContentTypeMarkup, res.ContentType)
}

// ==========================
// Registry Tests
// ==========================

func TestLoad_Errors(t *testing.T) {
	t.Run("missing manifest", func(t *testing.T) {
		_, err := Load(fstest.MapFS{}, tmpl.NewCache())
		assert.ErrorIs(t, err, ErrTemplateLoad)
	})

	t.Run("syntax error is fatal at load time", func(t *testing.T) {
		fsys := fstest.MapFS{
			"manifest.yaml":          {Data: []byte("default_master: general\n")},
			"masters/general.tmpl":   {Data: []byte("Hello {{#open}}")},
			"partials/signature.tmpl": {Data: []byte("Bye")},
		}
		_, err := Load(fsys, tmpl.NewCache())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTemplateLoad)
		assert.Contains(t, err.Error(), "general")
	})

	t.Run("unknown content type", func(t *testing.T) {
		fsys := fstest.MapFS{"manifest.yaml": {Data: []byte("content_type: pdf\n")}}
		_, err := Load(fsys, tmpl.NewCache())
		assert.ErrorIs(t, err, ErrTemplateLoad)
	})
}

func TestRegistry_Dangling(t *testing.T) {
	m := createTestManifest()
	m.Masters["documents_refused"] = "refused"
	reg, err := NewRegistry(m, map[string]string{"general": "{{> X}}"}, createTestPartials(), tmpl.NewCache())
	require.NoError(t, err)

	assert.Equal(t, []string{"master:missed", "master:refused", "partial:X"}, reg.Dangling())
}

// ==========================
// Shipped Assets
// ==========================

func TestShippedTemplates_DeadlineMissedProposal(t *testing.T) {
	cache := tmpl.NewCache()
	reg, err := LoadDir("../../../templates", cache)
	require.NoError(t, err)
	assert.Empty(t, reg.Dangling())

	c, err := New(reg, cache, logger.NewTestLogger(t))
	require.NoError(t, err)

	set := detector.Set{
		States: []detector.State{
			{
				ID: detector.DeadlineMissed, Tier: detector.TierBlocking, Rank: 3,
				ContextData: map[string]interface{}{
					"deadline": "2026-02-20",
					"alternatives": []detector.Alternative{
						{Index: 1, ID: "S-1", Date: "2026-03-31", RegionCode: "FR-75", TimeRange: "09:00-12:00"},
						{Index: 2, ID: "S-2", Date: "2026-04-28"},
					},
					"hasAlternatives": true,
					"isProposal":      true,
				},
			},
			{ID: detector.ExternalStatusUnknown, Tier: detector.TierInfo, Rank: 13, ContextData: map[string]interface{}{}},
		},
		Primary: detector.DeadlineMissed,
		Shared:  map[string]interface{}{"contactName": "Marie", "caseId": "C-1", "regionCode": nil},
	}

	res := c.Render(set, casecontext.Intent{Primary: "date_change_request"})

	want := "Hello Marie,\n\n" +
		"Thank you for your message about changing your exam date.\n\n" +
		"The registration deadline for your session (2026-02-20) has passed, so we cannot keep that exam date.\n" +
		"We can offer you the following sessions instead:\n" +
		"- Option 1: 2026-03-31, 09:00-12:00 (FR-75)\n" +
		"- Option 2: 2026-04-28\n" +
		"Please reply with the option number that suits you and we will check availability before confirming.\n\n" +
		"We are still waiting for the exam centre to confirm your registration status.\n\n" +
		"Kind regards,\nThe registration support team"

	assert.Equal(t, want, res.Body)
	assert.Equal(t, "deadline_missed", res.Master)
	assert.Empty(t, res.MissingPartials)
}
