package model

// Stage identifies one of the four fixed pipeline stages of a case.
type Stage string

const (
	StageExtraction    Stage = "extraction"
	StageImagery       Stage = "imagery"
	StageWebIntel      Stage = "webintel"
	StageTranscription Stage = "transcription"
)

// Stages lists all pipeline stages in their fixed table-column order.
var Stages = []Stage{StageExtraction, StageImagery, StageWebIntel, StageTranscription}

// columnPrefix maps a stage to its column prefix in the case table header.
var columnPrefix = map[Stage]string{
	StageExtraction:    "Extraction",
	StageImagery:       "Imagery",
	StageWebIntel:      "WebIntel",
	StageTranscription: "Transcription",
}

// ColumnPrefix returns the case table column prefix for a stage
// (e.g. "Extraction" for "Extraction.Status").
func (s Stage) ColumnPrefix() string {
	return columnPrefix[s]
}

// ParseStage parses a stage name from an API path segment.
func ParseStage(name string) (Stage, bool) {
	switch Stage(name) {
	case StageExtraction, StageImagery, StageWebIntel, StageTranscription:
		return Stage(name), true
	}
	return "", false
}

// Stage status constants. An empty status means the stage has not run;
// once Completed a stage is never reset by this service.
const (
	StatusUnset     = ""
	StatusCompleted = "Completed"
)

// Locator references a stage output artifact in object storage.
// An Object ending in "/" is a prefix covering multiple artifacts.
type Locator struct {
	Bucket string `json:"bucket"`
	Object string `json:"object"`
}

// IsZero reports whether the locator is unset.
func (l Locator) IsZero() bool {
	return l.Bucket == "" && l.Object == ""
}

// IsPrefix reports whether the locator addresses an object-name prefix
// rather than a single object.
func (l Locator) IsPrefix() bool {
	return len(l.Object) > 0 && l.Object[len(l.Object)-1] == '/'
}

// StageState is the persisted per-stage slice of a case record.
// The locator is set if and only if the status is Completed.
type StageState struct {
	Status  string  `json:"status"`
	Locator Locator `json:"locator"`
}

// Completed reports whether the stage has finished.
func (s StageState) Completed() bool {
	return s.Status == StatusCompleted
}

// CaseRecord is one row of the case table: per-client completion state
// for each pipeline stage plus an opaque downstream score.
type CaseRecord struct {
	ClientKey string               `json:"client_key"`
	Stages    map[Stage]StageState `json:"stages"`
	Score     string               `json:"score,omitempty"`
}

// NewCaseRecord returns a record with all stages unset.
func NewCaseRecord(clientKey string) *CaseRecord {
	return &CaseRecord{
		ClientKey: clientKey,
		Stages:    make(map[Stage]StageState, len(Stages)),
	}
}

// Stage returns the state of one stage; the zero value means unset.
func (r *CaseRecord) Stage(s Stage) StageState {
	return r.Stages[s]
}

// Complete marks a stage Completed with its result locator.
func (r *CaseRecord) Complete(s Stage, loc Locator) {
	if r.Stages == nil {
		r.Stages = make(map[Stage]StageState, len(Stages))
	}
	r.Stages[s] = StageState{Status: StatusCompleted, Locator: loc}
}

// AllCompleted reports whether every pipeline stage has finished.
func (r *CaseRecord) AllCompleted() bool {
	for _, s := range Stages {
		if !r.Stage(s).Completed() {
			return false
		}
	}
	return true
}
