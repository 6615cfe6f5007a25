package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/andyc1997/kyc-agent/backend/model"
)

// Consolidator merges the heterogeneous stage artifacts of a completed
// case into one narrative text blob for summarization. The merge is pure
// and deterministic: the same artifacts always produce the same blob.
type Consolidator struct {
	objects ObjectAPI
}

// narrativeRole names one slot in the fixed concatenation order. The
// order is data, not convention: internal record first, then web
// intelligence, then every extraction artifact, then the transcript
// extraction.
type narrativeRole struct {
	name  string
	build func(ctx context.Context, c *Consolidator, rec *model.CaseRecord) ([]string, error)
}

var narrativeOrder = []narrativeRole{
	{"internal-record", buildInternalRecord},
	{"webintel", buildStageJSON(model.StageWebIntel)},
	{"extraction", buildExtractionTables},
	{"transcription", buildStageJSON(model.StageTranscription)},
}

func NewConsolidator(objects ObjectAPI) *Consolidator {
	return &Consolidator{objects: objects}
}

// BuildNarrative fetches every stage artifact, normalizes each to text
// and concatenates them in the fixed role order. Double quotes are
// replaced with single quotes because downstream consumers treat double
// quotes as a delimiter.
func (c *Consolidator) BuildNarrative(ctx context.Context, rec *model.CaseRecord) (string, error) {
	for _, stage := range model.Stages {
		state := rec.Stage(stage)
		if !state.Completed() || state.Locator.IsZero() {
			return "", fmt.Errorf("%w: %s for client %s", ErrIncompleteCase, stage, rec.ClientKey)
		}
	}

	var parts []string
	for _, role := range narrativeOrder {
		texts, err := role.build(ctx, c, rec)
		if err != nil {
			return "", fmt.Errorf("%s: %w", role.name, err)
		}
		parts = append(parts, texts...)
	}

	blob := strings.TrimSpace(strings.Join(parts, "\n"))
	return strings.ReplaceAll(blob, `"`, `'`), nil
}

// buildInternalRecord renders the client's case table row as flat text.
func buildInternalRecord(_ context.Context, _ *Consolidator, rec *model.CaseRecord) ([]string, error) {
	data, err := encodeCaseTable(&CaseTable{Records: []*model.CaseRecord{rec}})
	if err != nil {
		return nil, err
	}
	text, err := tabularToText(data)
	if err != nil {
		return nil, err
	}
	return []string{text}, nil
}

// buildStageJSON fetches a stage's JSON document and canonicalizes it.
func buildStageJSON(stage model.Stage) func(context.Context, *Consolidator, *model.CaseRecord) ([]string, error) {
	return func(ctx context.Context, c *Consolidator, rec *model.CaseRecord) ([]string, error) {
		loc := rec.Stage(stage).Locator
		data, err := c.objects.GetObject(ctx, loc.Bucket, loc.Object)
		if err != nil {
			return nil, err
		}
		text, err := documentToText(data)
		if err != nil {
			return nil, err
		}
		return []string{text}, nil
	}
}

// buildExtractionTables fetches every tabular artifact under the
// extraction prefix, in object-name order.
func buildExtractionTables(ctx context.Context, c *Consolidator, rec *model.CaseRecord) ([]string, error) {
	loc := rec.Stage(model.StageExtraction).Locator

	objects := []string{loc.Object}
	if loc.IsPrefix() {
		var err error
		objects, err = c.objects.ListObjects(ctx, loc.Bucket, loc.Object)
		if err != nil {
			return nil, err
		}
		if len(objects) == 0 {
			return nil, fmt.Errorf("%w: no extraction artifacts under %s", ErrIncompleteCase, loc.Object)
		}
	}

	texts := make([]string, 0, len(objects))
	for _, object := range objects {
		data, err := c.objects.GetObject(ctx, loc.Bucket, object)
		if err != nil {
			return nil, err
		}
		text, err := tabularToText(data)
		if err != nil {
			return nil, fmt.Errorf("artifact %s: %w", object, err)
		}
		texts = append(texts, text)
	}
	return texts, nil
}

// tabularToText flattens a CSV artifact to text preserving the
// row/column structure.
func tabularToText(data []byte) (string, error) {
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return "", fmt.Errorf("malformed CSV: %w", err)
	}

	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, strings.Join(row, ", "))
	}
	return strings.Join(lines, "\n"), nil
}

// documentToText re-encodes a JSON document in canonical compact form
// (stable key order) so repeated runs are byte-identical.
func documentToText(data []byte) (string, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("malformed JSON document: %w", err)
	}
	canonical, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(canonical), nil
}
