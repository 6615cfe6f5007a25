package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/andyc1997/kyc-agent/backend/config"
	"github.com/andyc1997/kyc-agent/backend/service"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// memObjects is an in-memory service.ObjectAPI for handler tests.
type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemObjects() *memObjects {
	return &memObjects{objects: make(map[string][]byte)}
}

func (m *memObjects) GetObject(_ context.Context, bucket, object string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucket+"/"+object]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", service.ErrObjectNotFound, bucket, object)
	}
	return data, nil
}

func (m *memObjects) PutObject(_ context.Context, bucket, object string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+object] = data
	return nil
}

func (m *memObjects) ObjectExists(_ context.Context, bucket, object string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[bucket+"/"+object]
	return ok, nil
}

func (m *memObjects) ListObjects(_ context.Context, bucket, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for key := range m.objects {
		if strings.HasPrefix(key, bucket+"/"+prefix) {
			names = append(names, strings.TrimPrefix(key, bucket+"/"))
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *memObjects) PresignedURL(_ context.Context, bucket, object string) (string, error) {
	return "https://objects.test/" + bucket + "/" + object + "?sig=fake", nil
}

// newCaseStoreFixture seeds a case store holding the given client keys.
func newCaseStoreFixture(t *testing.T, clientKeys ...string) (*service.CaseStore, *memObjects) {
	t.Helper()
	objects := newMemObjects()
	store := service.NewCaseStore(objects, &config.CaseTableConfig{
		Bucket: "kyc-cases",
		Object: "case_table.csv",
	})
	ctx := context.Background()

	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	table, err := store.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	for _, key := range clientKeys {
		table.CreateIfAbsent(key)
	}
	if err := store.SaveAll(ctx, table); err != nil {
		t.Fatalf("SaveAll failed: %v", err)
	}

	return store, objects
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		reader = strings.NewReader(string(data))
	} else {
		reader = strings.NewReader("")
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// newSummaryServer serves chat completions with a fixed summary.
func newSummaryServer(content string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
}
