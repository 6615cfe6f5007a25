package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/andyc1997/kyc-agent/backend/config"
	"github.com/andyc1997/kyc-agent/backend/model"
)

// ExtractionService runs the document-extraction stage: each source
// document goes through the external OCR service, the extracted lines are
// filtered down to demographic/important items by the text model, and
// both raw and filtered CSV artifacts land in the output bucket. The
// stage locator is the per-client prefix holding the filtered artifacts.
type ExtractionService struct {
	config     *config.ExtractionConfig
	objects    ObjectAPI
	textModel  *TextModelService
	httpClient *http.Client
}

// ocrRequest asks the OCR service to extract text from a document URL.
type ocrRequest struct {
	URL string `json:"url"`
}

// ocrResponse is the OCR service reply: one entry per detected text line.
type ocrResponse struct {
	Code    int      `json:"code"`
	Message string   `json:"msg"`
	Lines   []string `json:"lines"`
}

const extractionFilterPrompt = `You are a KYC document specialist. Given the following text, extract only the demographic and important information (e.g. balance, address, name, statement date, etc.) and return them as a JSON array of strings. Ignore account numbers and other non-transaction details. Return only the JSON array.
text:
%s`

func NewExtractionService(cfg *config.ExtractionConfig, objects ObjectAPI, textModel *TextModelService) *ExtractionService {
	return &ExtractionService{
		config:    cfg,
		objects:   objects,
		textModel: textModel,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (s *ExtractionService) Stage() model.Stage {
	return model.StageExtraction
}

// Run processes every requested document and returns the locator of the
// filtered-artifact prefix for the client.
func (s *ExtractionService) Run(ctx context.Context, req StageRequest) (model.Locator, error) {
	if len(req.Documents) == 0 {
		return model.Locator{}, fmt.Errorf("no documents provided")
	}

	// Raw artifacts live next to the filtered ones, but the stage locator
	// covers only the filtered prefix: that is what downstream consumes.
	prefix := fmt.Sprintf("extraction/%s/", req.ClientKey)
	for _, doc := range req.Documents {
		if err := s.processDocument(ctx, prefix, doc); err != nil {
			return model.Locator{}, fmt.Errorf("document %s: %w", doc, err)
		}
	}

	return model.Locator{Bucket: s.config.OutputBucket, Object: prefix + "filtered/"}, nil
}

func (s *ExtractionService) processDocument(ctx context.Context, prefix, doc string) error {
	docURL, err := s.objects.PresignedURL(ctx, s.config.InputBucket, doc)
	if err != nil {
		return fmt.Errorf("failed to presign document: %w", err)
	}

	lines, err := s.extractText(ctx, docURL)
	if err != nil {
		return err
	}

	base := strings.TrimSuffix(path.Base(doc), path.Ext(doc))

	// Raw artifact keeps every OCR line for auditing
	rawCSV, err := linesToCSV("Extracted Text", lines)
	if err != nil {
		return fmt.Errorf("failed to encode raw CSV: %w", err)
	}
	rawKey := prefix + "raw/" + base + ".csv"
	if err := s.objects.PutObject(ctx, s.config.OutputBucket, rawKey, rawCSV, "text/csv"); err != nil {
		return fmt.Errorf("failed to store raw artifact: %w", err)
	}

	filtered, err := s.filterLines(ctx, lines)
	if err != nil {
		return err
	}

	filteredCSV, err := linesToCSV("Filtered Transaction", filtered)
	if err != nil {
		return fmt.Errorf("failed to encode filtered CSV: %w", err)
	}
	filteredKey := prefix + "filtered/" + base + ".csv"
	if err := s.objects.PutObject(ctx, s.config.OutputBucket, filteredKey, filteredCSV, "text/csv"); err != nil {
		return fmt.Errorf("failed to store filtered artifact: %w", err)
	}

	return nil
}

// extractText sends a document URL to the OCR service and returns the
// detected text lines.
func (s *ExtractionService) extractText(ctx context.Context, docURL string) ([]string, error) {
	jsonData, err := json.Marshal(ocrRequest{URL: docURL})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.config.APIURL+"/ocr/text", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+s.config.APIToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var result ocrResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w, body: %s", err, string(body))
	}

	if result.Code != 0 {
		return nil, fmt.Errorf("OCR API error: %s", result.Message)
	}
	if len(result.Lines) == 0 {
		return nil, fmt.Errorf("OCR returned no text lines")
	}

	return result.Lines, nil
}

// filterLines asks the text model to keep only KYC-relevant lines.
func (s *ExtractionService) filterLines(ctx context.Context, lines []string) ([]string, error) {
	prompt := fmt.Sprintf(extractionFilterPrompt, strings.Join(lines, "\n"))
	output, err := s.textModel.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var filtered []string
	if err := DecodeModelJSON(output, &filtered); err != nil {
		return nil, err
	}

	kept := filtered[:0]
	for _, line := range filtered {
		if strings.TrimSpace(line) != "" {
			kept = append(kept, strings.TrimSpace(line))
		}
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("filter kept no lines")
	}
	return kept, nil
}

func linesToCSV(header string, lines []string) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write([]string{header}); err != nil {
		return nil, err
	}
	for _, line := range lines {
		if err := writer.Write([]string{line}); err != nil {
			return nil, err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
