// Package audit writes one document per generated reply to Elasticsearch so reviewers can
// trace which states fired, what was rewritten and why a draft was held back.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"

	"support-reply-workers/internal/common/logger"
	"support-reply-workers/internal/pipeline"
)

const DefaultIndex = "reply-outcomes"

// Record is the indexed shape of one pipeline run. Bodies are kept so a reviewer can
// compare the deterministic draft with the rewrite.
type Record struct {
	ID                string            `json:"id"`
	CaseID            string            `json:"caseId"`
	ProcessInstance   int64             `json:"processInstanceKey,omitempty"`
	Outcome           string            `json:"outcome"`
	PrimaryState      string            `json:"primaryState"`
	States            []string          `json:"states"`
	Master            string            `json:"master"`
	MissingPartials   []string          `json:"missingPartials,omitempty"`
	WasRewritten      bool              `json:"wasRewritten"`
	RewriteAttempts   int               `json:"rewriteAttempts"`
	RewriteIssues     []string          `json:"rewriteIssues,omitempty"`
	DiagnosticKinds   []string          `json:"diagnosticKinds,omitempty"`
	AppliedFields     []string          `json:"appliedFields,omitempty"`
	BlockedFields     map[string]string `json:"blockedFields,omitempty"`
	Body              string            `json:"body"`
	DeterministicBody string            `json:"deterministicBody"`
	Timestamp         time.Time         `json:"@timestamp"`
}

// FromOutput flattens a pipeline output into an audit record with a fresh id.
func FromOutput(out *pipeline.Output, at time.Time) Record {
	rec := Record{
		ID:                uuid.NewString(),
		CaseID:            out.CaseID,
		Outcome:           out.Outcome(),
		PrimaryState:      out.PrimaryState,
		Master:            out.Master,
		MissingPartials:   out.MissingPartials,
		WasRewritten:      out.WasRewritten,
		RewriteAttempts:   out.RewriteAttempts,
		DiagnosticKinds:   out.Validation.Kinds(),
		BlockedFields:     out.UpdatePlan.Blocked,
		Body:              out.Body,
		DeterministicBody: out.DeterministicBody,
		Timestamp:         at.UTC(),
	}
	for _, st := range out.States {
		rec.States = append(rec.States, string(st.ID))
	}
	for _, is := range out.RewriteIssues {
		rec.RewriteIssues = append(rec.RewriteIssues, is.Kind)
	}
	for field := range out.UpdatePlan.Applied {
		rec.AppliedFields = append(rec.AppliedFields, field)
	}
	sort.Strings(rec.AppliedFields)
	return rec
}

type Indexer struct {
	es     *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewIndexer(es *elasticsearch.Client, index string, log logger.Logger) *Indexer {
	if index == "" {
		index = DefaultIndex
	}
	return &Indexer{
		es:     es,
		index:  index,
		logger: log.WithFields(map[string]interface{}{"component": "audit", "index": index}),
	}
}

// Index stores rec under its id. Re-indexing the same id overwrites the document.
func (i *Indexer) Index(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      i.index,
		DocumentID: rec.ID,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, i.es)
	if err != nil {
		return fmt.Errorf("index audit record: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index audit record: %s", res.String())
	}

	i.logger.Debug("reply outcome indexed", map[string]interface{}{
		"caseId":  rec.CaseID,
		"auditId": rec.ID,
		"outcome": rec.Outcome,
	})
	return nil
}
