package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andyc1997/kyc-agent/backend/config"
)

func newTestExtraction(objects ObjectAPI, ocrURL, modelURL string) *ExtractionService {
	return NewExtractionService(&config.ExtractionConfig{
		APIURL:       ocrURL,
		APIToken:     "test-token",
		InputBucket:  "kyc-documents",
		OutputBucket: "kyc-artifacts",
	}, objects, newTestTextModel(modelURL))
}

func TestExtractionRun(t *testing.T) {
	ocrServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ocr/text" {
			t.Errorf("Unexpected OCR path %s", r.URL.Path)
		}
		var req ocrRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.URL == "" {
			t.Error("Expected presigned document URL in OCR request")
		}
		json.NewEncoder(w).Encode(ocrResponse{
			Lines: []string{"Account 88123", "Name: John Doe", "Balance: 12,400.00 USD"},
		})
	}))
	defer ocrServer.Close()

	modelServer := newChatServer(t, `["Name: John Doe", "Balance: 12,400.00 USD"]`)
	defer modelServer.Close()

	objects := newFakeObjectStore()
	svc := newTestExtraction(objects, ocrServer.URL, modelServer.URL)
	ctx := context.Background()

	loc, err := svc.Run(ctx, StageRequest{
		ClientKey: "123456704",
		Documents: []string{"uploads/123456704/statement.pdf"},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if loc.Bucket != "kyc-artifacts" {
		t.Errorf("Expected bucket kyc-artifacts, got %s", loc.Bucket)
	}
	if loc.Object != "extraction/123456704/filtered/" {
		t.Errorf("Expected filtered prefix locator, got %s", loc.Object)
	}
	if !loc.IsPrefix() {
		t.Error("Expected a prefix locator")
	}

	raw, err := objects.GetObject(ctx, "kyc-artifacts", "extraction/123456704/raw/statement.csv")
	if err != nil {
		t.Fatalf("Expected raw artifact: %v", err)
	}
	if !strings.HasPrefix(string(raw), "Extracted Text\n") {
		t.Errorf("Unexpected raw artifact header: %q", string(raw))
	}
	if !strings.Contains(string(raw), "Account 88123") {
		t.Error("Expected raw artifact to keep every OCR line")
	}

	filtered, err := objects.GetObject(ctx, "kyc-artifacts", "extraction/123456704/filtered/statement.csv")
	if err != nil {
		t.Fatalf("Expected filtered artifact: %v", err)
	}
	if !strings.HasPrefix(string(filtered), "Filtered Transaction\n") {
		t.Errorf("Unexpected filtered artifact header: %q", string(filtered))
	}
	if strings.Contains(string(filtered), "Account 88123") {
		t.Error("Expected filtered artifact to drop unselected lines")
	}
}

func TestExtractionRunNoDocuments(t *testing.T) {
	svc := newTestExtraction(newFakeObjectStore(), "http://ocr.invalid", "http://model.invalid")

	_, err := svc.Run(context.Background(), StageRequest{ClientKey: "123456704"})
	if err == nil {
		t.Error("Expected error for empty document list")
	}
}

func TestExtractionRunOCRError(t *testing.T) {
	ocrServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ocrResponse{Code: 3, Message: "unreadable document"})
	}))
	defer ocrServer.Close()

	objects := newFakeObjectStore()
	svc := newTestExtraction(objects, ocrServer.URL, "http://model.invalid")

	_, err := svc.Run(context.Background(), StageRequest{
		ClientKey: "123456704",
		Documents: []string{"uploads/123456704/statement.pdf"},
	})
	if err == nil {
		t.Fatal("Expected error for OCR failure")
	}
	if !strings.Contains(err.Error(), "unreadable document") {
		t.Errorf("Expected OCR error detail, got %v", err)
	}

	// Nothing should have been stored
	names, _ := objects.ListObjects(context.Background(), "kyc-artifacts", "extraction/")
	if len(names) != 0 {
		t.Errorf("Expected no artifacts, got %v", names)
	}
}

func TestExtractionRunModelRejectsOutput(t *testing.T) {
	ocrServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ocrResponse{Lines: []string{"some text"}})
	}))
	defer ocrServer.Close()

	modelServer := newChatServer(t, "Sure! The important lines are: Name and Balance.")
	defer modelServer.Close()

	svc := newTestExtraction(newFakeObjectStore(), ocrServer.URL, modelServer.URL)

	_, err := svc.Run(context.Background(), StageRequest{
		ClientKey: "123456704",
		Documents: []string{"uploads/123456704/statement.pdf"},
	})
	if err == nil {
		t.Error("Expected error for non-JSON model output")
	}
}

func TestExtractionRunMultipleDocuments(t *testing.T) {
	ocrServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ocrResponse{Lines: []string{"Name: John Doe"}})
	}))
	defer ocrServer.Close()

	modelServer := newChatServer(t, `["Name: John Doe"]`)
	defer modelServer.Close()

	objects := newFakeObjectStore()
	svc := newTestExtraction(objects, ocrServer.URL, modelServer.URL)
	ctx := context.Background()

	_, err := svc.Run(ctx, StageRequest{
		ClientKey: "123456704",
		Documents: []string{"a/statement.pdf", "b/payslip.png"},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	names, _ := objects.ListObjects(ctx, "kyc-artifacts", "extraction/123456704/filtered/")
	if len(names) != 2 {
		t.Fatalf("Expected 2 filtered artifacts, got %v", names)
	}
	if names[0] != "extraction/123456704/filtered/payslip.csv" {
		t.Errorf("Unexpected artifact name %s", names[0])
	}
	if names[1] != "extraction/123456704/filtered/statement.csv" {
		t.Errorf("Unexpected artifact name %s", names[1])
	}
}
