package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// fakeObjectStore is an in-memory ObjectAPI used across the service tests.
type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string][]byte)}
}

func objectKey(bucket, object string) string {
	return bucket + "/" + object
}

func (f *fakeObjectStore) GetObject(_ context.Context, bucket, object string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.objects[objectKey(bucket, object)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, object)
	}
	return data, nil
}

func (f *fakeObjectStore) PutObject(_ context.Context, bucket, object string, data []byte, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.objects[objectKey(bucket, object)] = data
	return nil
}

func (f *fakeObjectStore) ObjectExists(_ context.Context, bucket, object string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, ok := f.objects[objectKey(bucket, object)]
	return ok, nil
}

func (f *fakeObjectStore) ListObjects(_ context.Context, bucket, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var names []string
	for key := range f.objects {
		if strings.HasPrefix(key, bucket+"/"+prefix) {
			names = append(names, strings.TrimPrefix(key, bucket+"/"))
		}
	}
	sort.Strings(names)
	return names, nil
}

func (f *fakeObjectStore) PresignedURL(_ context.Context, bucket, object string) (string, error) {
	return "https://objects.test/" + bucket + "/" + object + "?sig=fake", nil
}
