package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/andyc1997/kyc-agent/backend/model"
)

// StageRequest carries the stage-specific input for one invocation.
// Only the fields for the invoked stage are read.
type StageRequest struct {
	ClientKey string `json:"client_key"`

	// Extraction: object names of source documents in the input bucket
	Documents []string `json:"documents,omitempty"`

	// Imagery: free-text address of the customer's employer
	Address string `json:"address,omitempty"`

	// WebIntel
	CustomerName string `json:"customer_name,omitempty"`
	Employer     string `json:"employer,omitempty"`
	Occupation   string `json:"occupation,omitempty"`
	Location     string `json:"location,omitempty"`

	// Transcription: object name of the call recording in the audio bucket
	AudioObject string `json:"audio_object,omitempty"`
}

// Collaborator is an external service performing the actual work of one
// stage. Run blocks until the stage truly finished (or failed) and
// returns the locator of the produced artifact.
type Collaborator interface {
	Stage() model.Stage
	Run(ctx context.Context, req StageRequest) (model.Locator, error)
}

// OutcomeKind classifies the result of a RunStage call.
type OutcomeKind string

const (
	// OutcomeRan means the collaborator was invoked and the record updated.
	OutcomeRan OutcomeKind = "ran"
	// OutcomeCached means the stage was already Completed; the collaborator
	// was not invoked.
	OutcomeCached OutcomeKind = "cached"
	// OutcomeFailed means the collaborator failed; the stage stays unset
	// and can be retried by a later call.
	OutcomeFailed OutcomeKind = "failed"
)

// StageOutcome is the result of one orchestrated stage invocation.
type StageOutcome struct {
	Kind      OutcomeKind   `json:"outcome"`
	Stage     model.Stage   `json:"stage"`
	ClientKey string        `json:"client_key"`
	Locator   model.Locator `json:"locator,omitempty"`
	Detail    string        `json:"detail,omitempty"`
}

// Orchestrator drives the four pipeline stages against the case table.
// All operations are synchronous; each RunStage call blocks until its
// collaborator call and store round trip complete.
type Orchestrator struct {
	store         *CaseStore
	collaborators map[model.Stage]Collaborator
}

func NewOrchestrator(store *CaseStore, collaborators ...Collaborator) *Orchestrator {
	byStage := make(map[model.Stage]Collaborator, len(collaborators))
	for _, c := range collaborators {
		byStage[c.Stage()] = c
	}
	return &Orchestrator{
		store:         store,
		collaborators: byStage,
	}
}

// RunStage runs one stage for one client, or returns the cached result if
// the stage already completed. A stage already Completed for a client is
// never re-invoked. The record is only updated after a successful
// collaborator response, so an aborted call leaves no partial writes.
func (o *Orchestrator) RunStage(ctx context.Context, stage model.Stage, req StageRequest) (*StageOutcome, error) {
	collab, ok := o.collaborators[stage]
	if !ok {
		return nil, fmt.Errorf("no collaborator bound to stage %q", stage)
	}

	table, err := o.store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}

	rec := table.Find(req.ClientKey)
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, req.ClientKey)
	}

	if state := rec.Stage(stage); state.Completed() {
		slog.Info("stage already completed, returning cached result",
			"stage", stage,
			"client_key", req.ClientKey,
			"bucket", state.Locator.Bucket,
			"object", state.Locator.Object,
		)
		return &StageOutcome{
			Kind:      OutcomeCached,
			Stage:     stage,
			ClientKey: req.ClientKey,
			Locator:   state.Locator,
		}, nil
	}

	loc, err := collab.Run(ctx, req)
	if err != nil {
		err = collabErr(stage, "stage invocation failed", err)
		slog.Warn("stage failed, record left unset",
			"stage", stage,
			"client_key", req.ClientKey,
			"error", err,
		)
		return &StageOutcome{
			Kind:      OutcomeFailed,
			Stage:     stage,
			ClientKey: req.ClientKey,
			Detail:    err.Error(),
		}, nil
	}

	if err := table.UpdateStage(req.ClientKey, stage, loc); err != nil {
		return nil, err
	}
	if err := o.store.SaveAll(ctx, table); err != nil {
		return nil, err
	}

	slog.Info("stage completed",
		"stage", stage,
		"client_key", req.ClientKey,
		"bucket", loc.Bucket,
		"object", loc.Object,
	)
	return &StageOutcome{
		Kind:      OutcomeRan,
		Stage:     stage,
		ClientKey: req.ClientKey,
		Locator:   loc,
	}, nil
}
