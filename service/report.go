package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/andyc1997/kyc-agent/backend/config"
	"github.com/andyc1997/kyc-agent/backend/model"
)

// ReportService turns a consolidated narrative into rendered reports:
// the summarization collaborator derives a tabular record from the
// narrative, and the template is rendered once per data row.
type ReportService struct {
	config    *config.ReportConfig
	objects   ObjectAPI
	textModel *TextModelService
}

// placeholderPattern matches {{field_name}} placeholders, with optional
// inner spaces.
var placeholderPattern = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

const summarizePrompt = `Summarise this statement: '%s'. Provide a concise summary starting with describing the customer's background. You can ignore the customer's identifiable information such as birthday, ID number, or home address.`

func NewReportService(cfg *config.ReportConfig, objects ObjectAPI, textModel *TextModelService) *ReportService {
	return &ReportService{
		config:    cfg,
		objects:   objects,
		textModel: textModel,
	}
}

// GenerateReport summarizes the narrative into the data artifact, then
// renders the template against it. It returns the locator of the
// per-client report prefix.
func (s *ReportService) GenerateReport(ctx context.Context, clientKey, narrative string) (model.Locator, error) {
	summary, err := s.textModel.Complete(ctx, fmt.Sprintf(summarizePrompt, narrative))
	if err != nil {
		return model.Locator{}, fmt.Errorf("summarization failed: %w", err)
	}

	prefix := fmt.Sprintf("reports/%s/", clientKey)
	dataObject := prefix + "sow_data.csv"

	data, err := encodeReportData(clientKey, summary)
	if err != nil {
		return model.Locator{}, fmt.Errorf("failed to encode report data: %w", err)
	}
	if err := s.objects.PutObject(ctx, s.config.OutputBucket, dataObject, data, "text/csv"); err != nil {
		return model.Locator{}, fmt.Errorf("failed to store report data: %w", err)
	}

	if err := s.RenderReports(ctx, model.Locator{Bucket: s.config.OutputBucket, Object: dataObject}, prefix); err != nil {
		return model.Locator{}, err
	}

	return model.Locator{Bucket: s.config.OutputBucket, Object: prefix}, nil
}

// RenderReports renders the configured template against every row of the
// data artifact and uploads one document per row under outPrefix.
// Unmatched placeholders render as empty text; an unterminated
// placeholder is a RenderError.
func (s *ReportService) RenderReports(ctx context.Context, dataLoc model.Locator, outPrefix string) error {
	template, err := s.objects.GetObject(ctx, s.config.TemplateBucket, s.config.TemplateObject)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return fmt.Errorf("%w: %s/%s", ErrTemplateMissing, s.config.TemplateBucket, s.config.TemplateObject)
		}
		return fmt.Errorf("failed to fetch template: %w", err)
	}

	data, err := s.objects.GetObject(ctx, dataLoc.Bucket, dataLoc.Object)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return fmt.Errorf("%w: %s/%s", ErrDataMissing, dataLoc.Bucket, dataLoc.Object)
		}
		return fmt.Errorf("failed to fetch report data: %w", err)
	}

	header, rows, err := decodeReportData(data)
	if err != nil {
		return err
	}

	for i, row := range rows {
		rendered, err := renderTemplate(string(template), header, row)
		if err != nil {
			return err
		}

		object := fmt.Sprintf("%skyc_report_%d.html", outPrefix, i+1)
		if err := s.objects.PutObject(ctx, s.config.OutputBucket, object, []byte(rendered), "text/html"); err != nil {
			return fmt.Errorf("failed to store report: %w", err)
		}
		slog.Info("report rendered", "bucket", s.config.OutputBucket, "object", object)
	}

	return nil
}

// renderTemplate substitutes {{field}} placeholders from the row by
// column name.
func renderTemplate(template string, header, row []string) (string, error) {
	fields := make(map[string]string, len(header))
	for i, col := range header {
		if i < len(row) {
			fields[col] = row[i]
		}
	}

	rendered := placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		return fields[name]
	})

	// A leftover opener means the template has a placeholder the pattern
	// could not terminate
	if idx := strings.Index(rendered, "{{"); idx >= 0 {
		return "", &RenderError{
			Object: "template",
			Detail: fmt.Sprintf("unterminated placeholder at offset %d", idx),
		}
	}

	return rendered, nil
}

func encodeReportData(clientKey, summary string) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write([]string{"client_key", "narrative_summary"}); err != nil {
		return nil, err
	}
	if err := writer.Write([]string{clientKey, summary}); err != nil {
		return nil, err
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeReportData(data []byte) ([]string, [][]string, error) {
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("malformed report data: %w", err)
	}
	if len(rows) < 2 {
		return nil, nil, fmt.Errorf("%w: no data rows", ErrDataMissing)
	}
	return rows[0], rows[1:], nil
}
