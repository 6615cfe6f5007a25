package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"

	"github.com/andyc1997/kyc-agent/backend/config"
	"github.com/andyc1997/kyc-agent/backend/model"
)

// caseTableHeader is the fixed column layout of the shared case table.
// Empty string denotes an unset field.
var caseTableHeader = buildCaseTableHeader()

func buildCaseTableHeader() []string {
	header := []string{"ClientKey"}
	for _, stage := range model.Stages {
		prefix := stage.ColumnPrefix()
		header = append(header, prefix+".Status", prefix+".Bucket", prefix+".Object")
	}
	return append(header, "Score")
}

// CaseTable is an in-memory snapshot of the case table, one record per
// client key in row order. Mutations are not persisted until SaveAll.
type CaseTable struct {
	Records []*model.CaseRecord
}

// Find returns the record for a client key, or nil.
func (t *CaseTable) Find(clientKey string) *model.CaseRecord {
	for _, rec := range t.Records {
		if rec.ClientKey == clientKey {
			return rec
		}
	}
	return nil
}

// Exists reports whether a record exists for the client key. Pure lookup.
func (t *CaseTable) Exists(clientKey string) bool {
	return t.Find(clientKey) != nil
}

// CreateIfAbsent appends a fresh record (all stages unset) if the key has
// no row yet. The caller must SaveAll to persist the change.
func (t *CaseTable) CreateIfAbsent(clientKey string) (bool, *model.CaseRecord) {
	if rec := t.Find(clientKey); rec != nil {
		return false, rec
	}
	rec := model.NewCaseRecord(clientKey)
	t.Records = append(t.Records, rec)
	return true, rec
}

// UpdateStage marks a stage Completed with its result locator. Statuses
// are monotonic: this is the only mutation and it never unsets a stage.
func (t *CaseTable) UpdateStage(clientKey string, stage model.Stage, loc model.Locator) error {
	rec := t.Find(clientKey)
	if rec == nil {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, clientKey)
	}
	rec.Complete(stage, loc)
	return nil
}

// CaseStore persists the case table as a single CSV object. Every
// mutation is a whole-table round trip; there is no row-level locking,
// so concurrent writers can overwrite each other's updates.
type CaseStore struct {
	objects ObjectAPI
	bucket  string
	object  string
}

func NewCaseStore(objects ObjectAPI, cfg *config.CaseTableConfig) *CaseStore {
	return &CaseStore{
		objects: objects,
		bucket:  cfg.Bucket,
		object:  cfg.Object,
	}
}

// Init seeds an empty table (header only) if the backing object is absent.
func (s *CaseStore) Init(ctx context.Context) error {
	exists, err := s.objects.ObjectExists(ctx, s.bucket, s.object)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if exists {
		return nil
	}
	return s.SaveAll(ctx, &CaseTable{})
}

// LoadAll fetches and parses the full case table.
func (s *CaseStore) LoadAll(ctx context.Context) (*CaseTable, error) {
	data, err := s.objects.GetObject(ctx, s.bucket, s.object)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	table, err := decodeCaseTable(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return table, nil
}

// SaveAll serializes the full table back to the backing object,
// overwriting it entirely.
func (s *CaseStore) SaveAll(ctx context.Context, table *CaseTable) error {
	data, err := encodeCaseTable(table)
	if err != nil {
		return fmt.Errorf("failed to encode case table: %w", err)
	}
	if err := s.objects.PutObject(ctx, s.bucket, s.object, data, "text/csv"); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func decodeCaseTable(data []byte) (*CaseTable, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("malformed CSV: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("missing header row")
	}
	if err := checkHeader(rows[0]); err != nil {
		return nil, err
	}

	table := &CaseTable{}
	for i, row := range rows[1:] {
		rec, err := decodeCaseRow(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		if table.Exists(rec.ClientKey) {
			return nil, fmt.Errorf("row %d: duplicate client key %s", i+2, rec.ClientKey)
		}
		table.Records = append(table.Records, rec)
	}
	return table, nil
}

func checkHeader(header []string) error {
	if len(header) != len(caseTableHeader) {
		return fmt.Errorf("header has %d columns, want %d", len(header), len(caseTableHeader))
	}
	for i, col := range caseTableHeader {
		if header[i] != col {
			return fmt.Errorf("header column %d is %q, want %q", i, header[i], col)
		}
	}
	return nil
}

func decodeCaseRow(row []string) (*model.CaseRecord, error) {
	if len(row) != len(caseTableHeader) {
		return nil, fmt.Errorf("row has %d columns, want %d", len(row), len(caseTableHeader))
	}
	if row[0] == "" {
		return nil, fmt.Errorf("empty client key")
	}

	rec := model.NewCaseRecord(row[0])
	for i, stage := range model.Stages {
		status := row[1+i*3]
		loc := model.Locator{Bucket: row[2+i*3], Object: row[3+i*3]}
		switch status {
		case model.StatusUnset:
			if !loc.IsZero() {
				return nil, fmt.Errorf("%s has a locator but no Completed status", stage)
			}
		case model.StatusCompleted:
			if loc.IsZero() {
				return nil, fmt.Errorf("%s is Completed but has no locator", stage)
			}
			rec.Stages[stage] = model.StageState{Status: status, Locator: loc}
		default:
			return nil, fmt.Errorf("%s has unknown status %q", stage, status)
		}
	}
	rec.Score = row[len(row)-1]
	return rec, nil
}

func encodeCaseTable(table *CaseTable) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(caseTableHeader); err != nil {
		return nil, err
	}
	for _, rec := range table.Records {
		row := []string{rec.ClientKey}
		for _, stage := range model.Stages {
			state := rec.Stage(stage)
			row = append(row, state.Status, state.Locator.Bucket, state.Locator.Object)
		}
		row = append(row, rec.Score)
		if err := writer.Write(row); err != nil {
			return nil, err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
