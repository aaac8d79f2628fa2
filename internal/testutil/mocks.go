// mocks.go - Shared test doubles for the ingestion pipeline
package testutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/vitalstream/backend/internal/models"
)

// MockObjectStore implements storage.ObjectStore in memory.
type MockObjectStore struct {
	mu      sync.RWMutex
	nextID  int
	objects map[string]*models.StoredObject
	data    map[string][]byte

	// SaveErr, when set, fails every Save call.
	SaveErr error
}

// NewMockObjectStore creates an empty in-memory object store.
func NewMockObjectStore() *MockObjectStore {
	return &MockObjectStore{
		objects: make(map[string]*models.StoredObject),
		data:    make(map[string][]byte),
	}
}

func (m *MockObjectStore) Save(name, contentType string, r io.Reader) (*models.StoredObject, error) {
	if m.SaveErr != nil {
		return nil, m.SaveErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	key := fmt.Sprintf("test-object-%d", m.nextID)
	obj := &models.StoredObject{
		Key:         key,
		Name:        name,
		Size:        int64(len(data)),
		ContentType: contentType,
		UploadedAt:  time.Now(),
	}
	m.objects[key] = obj
	m.data[key] = data
	return obj, nil
}

func (m *MockObjectStore) Path(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.data[key]; !ok {
		return "", errors.New("object not found")
	}
	return "/mock/" + key, nil
}

func (m *MockObjectStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	delete(m.data, key)
	return nil
}

func (m *MockObjectStore) URLFor(key string) string {
	return "/api/files/" + key
}

// Data returns the stored bytes for a key.
func (m *MockObjectStore) Data(key string) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data[key]
}

// MockResultStore implements the orchestrator's ResultSink and the
// API's ResultReader in memory.
type MockResultStore struct {
	mu         sync.RWMutex
	Results    map[string]models.ResultSnapshot
	Indicators []models.Indicator
	Records    []models.GeneticRecord

	// SaveErr fails SaveResult; InsertErr fails indicator inserts;
	// BatchErrs fails the Nth (1-based) genetic batch insert.
	SaveErr   error
	InsertErr error
	BatchErrs map[int]error

	batchCalls int
}

// NewMockResultStore creates an empty in-memory result store.
func NewMockResultStore() *MockResultStore {
	return &MockResultStore{Results: make(map[string]models.ResultSnapshot)}
}

func (m *MockResultStore) SaveResult(ctx context.Context, messageID, userID string, snap models.ResultSnapshot) error {
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Results[messageID] = snap
	return nil
}

func (m *MockResultStore) GetResult(ctx context.Context, messageID string) (models.ResultSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.Results[messageID]
	if !ok {
		return models.ResultSnapshot{}, errors.New("result not found")
	}
	return snap, nil
}

func (m *MockResultStore) DeleteResult(ctx context.Context, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Results, messageID)
	return nil
}

func (m *MockResultStore) InsertIndicators(ctx context.Context, ownerID string, indicators []models.Indicator, prov models.Provenance) error {
	if m.InsertErr != nil {
		return m.InsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Indicators = append(m.Indicators, indicators...)
	return nil
}

func (m *MockResultStore) InsertGeneticBatch(ctx context.Context, records []models.GeneticRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchCalls++
	if err, ok := m.BatchErrs[m.batchCalls]; ok {
		return err
	}
	m.Records = append(m.Records, records...)
	return nil
}

func (m *MockResultStore) DeleteBySource(ctx context.Context, prov models.Provenance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.Records[:0]
	for _, r := range m.Records {
		if r.SourceTable != prov.SourceTable || r.SourceID != prov.SourceID {
			kept = append(kept, r)
		}
	}
	m.Records = kept
	return nil
}

// BatchCalls returns how many genetic batch inserts were attempted.
func (m *MockResultStore) BatchCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.batchCalls
}

// MockEngine is a scripted extraction engine. Responses are keyed by
// file path; unmatched paths use Default. Err fails every call.
type MockEngine struct {
	mu        sync.Mutex
	Responses map[string]string
	Default   string
	Err       error

	// Errs fails specific paths only.
	Errs map[string]error

	Calls []string
}

func (m *MockEngine) Extract(ctx context.Context, filePath, prompt, mimeType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, filePath)
	if m.Err != nil {
		return "", m.Err
	}
	if err, ok := m.Errs[filePath]; ok {
		return "", err
	}
	if resp, ok := m.Responses[filePath]; ok {
		return resp, nil
	}
	return m.Default, nil
}

// CallCount returns how many extraction calls were made.
func (m *MockEngine) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// CapturedEvent is one event recorded by MockSink.
type CapturedEvent struct {
	ConnID string
	Event  any
}

// MockSink captures progress events instead of writing to a socket.
type MockSink struct {
	mu     sync.Mutex
	Events []CapturedEvent

	// Unreachable simulates a dead connection: Send returns false.
	Unreachable bool
}

func (m *MockSink) Send(connID string, event any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Unreachable {
		return false
	}
	m.Events = append(m.Events, CapturedEvent{ConnID: connID, Event: event})
	return true
}

// EventsOf returns all captured events of type T in emission order.
func EventsOf[T any](m *MockSink) []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []T
	for _, ce := range m.Events {
		if ev, ok := ce.Event.(T); ok {
			out = append(out, ev)
		}
	}
	return out
}
