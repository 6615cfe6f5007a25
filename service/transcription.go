package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/andyc1997/kyc-agent/backend/config"
	"github.com/andyc1997/kyc-agent/backend/model"
)

// TranscriptionService runs the audio-transcription stage: hand the call
// recording to the speech-to-text service, poll the job until it
// finishes, then have the text model pull the KYC fields out of the
// transcript. Fields absent from the call are stored as "Not found".
type TranscriptionService struct {
	config     *config.TranscribeConfig
	objects    ObjectAPI
	textModel  *TextModelService
	httpClient *http.Client
}

// transcribeJobRequest starts a transcription job for a media URL.
type transcribeJobRequest struct {
	MediaURL     string `json:"media_url"`
	LanguageCode string `json:"language_code"`
	MaxSpeakers  int    `json:"max_speakers"`
}

// transcribeJobResponse is the reply to job creation and status queries.
type transcribeJobResponse struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
	Data    struct {
		JobID      string `json:"job_id"`
		State      string `json:"state"` // pending, running, done, failed
		Transcript string `json:"transcript,omitempty"`
		ErrorMsg   string `json:"err_msg,omitempty"`
	} `json:"data"`
}

// ExtractedFields is the structured slice of the transcript persisted as
// the stage artifact, together with the full transcript.
type ExtractedFields struct {
	CustomerName   string `json:"customer_name"`
	DateOfBirth    string `json:"date_of_birth"`
	Address        string `json:"address"`
	Occupation     string `json:"occupation"`
	SourceOfWealth string `json:"source_of_wealth"`
}

type transcriptionArtifact struct {
	Transcript string          `json:"transcript"`
	Extracted  ExtractedFields `json:"extracted_data"`
}

// notFound marks a field the transcript did not mention.
const notFound = "Not found"

const fieldExtractionPrompt = `Extract the customer's name, date of birth, address, occupation, and source of wealth from the following text. Return only a valid JSON object with the specified keys. If any information is missing, use "Not found" as the value. Do not include any additional text, explanations, or formatting.

Text: %s

{
  "customer_name": "",
  "date_of_birth": "",
  "address": "",
  "occupation": "",
  "source_of_wealth": ""
}`

func NewTranscriptionService(cfg *config.TranscribeConfig, objects ObjectAPI, textModel *TextModelService) *TranscriptionService {
	return &TranscriptionService{
		config:    cfg,
		objects:   objects,
		textModel: textModel,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (s *TranscriptionService) Stage() model.Stage {
	return model.StageTranscription
}

// Run transcribes the recording and persists the extracted-fields artifact.
func (s *TranscriptionService) Run(ctx context.Context, req StageRequest) (model.Locator, error) {
	if req.AudioObject == "" {
		return model.Locator{}, fmt.Errorf("no audio object provided")
	}

	audioURL, err := s.objects.PresignedURL(ctx, s.config.AudioBucket, req.AudioObject)
	if err != nil {
		return model.Locator{}, fmt.Errorf("failed to presign audio: %w", err)
	}

	jobID, err := s.createJob(ctx, audioURL)
	if err != nil {
		return model.Locator{}, err
	}

	transcript, err := s.waitForTranscript(ctx, jobID)
	if err != nil {
		return model.Locator{}, err
	}

	extracted, err := s.extractFields(ctx, transcript)
	if err != nil {
		return model.Locator{}, err
	}

	artifact := transcriptionArtifact{
		Transcript: transcript,
		Extracted:  extracted,
	}
	data, err := json.Marshal(artifact)
	if err != nil {
		return model.Locator{}, fmt.Errorf("failed to encode artifact: %w", err)
	}

	object := fmt.Sprintf("transcription/%s/extracted.json", req.ClientKey)
	if err := s.objects.PutObject(ctx, s.config.OutputBucket, object, data, "application/json"); err != nil {
		return model.Locator{}, fmt.Errorf("failed to store artifact: %w", err)
	}

	return model.Locator{Bucket: s.config.OutputBucket, Object: object}, nil
}

// createJob starts a transcription job and returns its ID.
func (s *TranscriptionService) createJob(ctx context.Context, audioURL string) (string, error) {
	reqBody := transcribeJobRequest{
		MediaURL:     audioURL,
		LanguageCode: "en-US",
		MaxSpeakers:  2, // banker and customer
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.config.APIURL+"/transcribe/jobs", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+s.config.APIToken)
	req.Header.Set("Content-Type", "application/json")

	result, err := s.doJobRequest(req)
	if err != nil {
		return "", err
	}
	if result.Data.JobID == "" {
		return "", fmt.Errorf("transcribe API returned no job ID")
	}
	return result.Data.JobID, nil
}

// waitForTranscript polls the job until it reaches a terminal state. The
// collaborator call returns only once the stage truly finished.
func (s *TranscriptionService) waitForTranscript(ctx context.Context, jobID string) (string, error) {
	interval := time.Duration(s.config.PollIntervalSec) * time.Second

	for attempt := 0; attempt < s.config.MaxPolls; attempt++ {
		// Check immediately, then wait between attempts. Short jobs
		// finish on the first query without paying the interval.
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(interval):
			}
		}

		req, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("%s/transcribe/jobs/%s", s.config.APIURL, jobID), nil)
		if err != nil {
			return "", fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+s.config.APIToken)

		result, err := s.doJobRequest(req)
		if err != nil {
			return "", err
		}

		switch result.Data.State {
		case "done":
			if result.Data.Transcript == "" {
				return "", fmt.Errorf("transcription finished with an empty transcript")
			}
			return result.Data.Transcript, nil
		case "failed":
			return "", fmt.Errorf("transcription failed: %s", result.Data.ErrorMsg)
		}
	}

	return "", fmt.Errorf("transcription job %s did not finish after %d polls", jobID, s.config.MaxPolls)
}

func (s *TranscriptionService) doJobRequest(req *http.Request) (*transcribeJobResponse, error) {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var result transcribeJobResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w, body: %s", err, string(body))
	}

	if result.Code != 0 {
		return nil, fmt.Errorf("transcribe API error: %s", result.Message)
	}
	return &result, nil
}

// extractFields pulls the structured KYC fields out of the transcript.
// Model output that isn't the expected JSON object is a hard failure.
func (s *TranscriptionService) extractFields(ctx context.Context, transcript string) (ExtractedFields, error) {
	output, err := s.textModel.Complete(ctx, fmt.Sprintf(fieldExtractionPrompt, transcript))
	if err != nil {
		return ExtractedFields{}, err
	}

	var fields ExtractedFields
	if err := DecodeModelJSON(output, &fields); err != nil {
		return ExtractedFields{}, err
	}

	// Fields the model left blank are explicitly marked, not omitted
	fill := func(v *string) {
		if *v == "" {
			*v = notFound
		}
	}
	fill(&fields.CustomerName)
	fill(&fields.DateOfBirth)
	fill(&fields.Address)
	fill(&fields.Occupation)
	fill(&fields.SourceOfWealth)

	return fields, nil
}
