// internal/storage/memory.go
package storage

import (
	"context"
	"sync"
	"time"

	"github.com/orvull/sparkcards/internal/models"
)

// Memory is a thread-safe in-process stand-in for the Wallet Objects API.
// It follows the same contract as wallet.Client: create on an existing id
// reports AlreadyExists, patch only touches non-zero fields.
// Suitable for tests and local dev (WALLET_BACKEND=memory).
type Memory struct {
	mu sync.RWMutex

	kind    models.ObjectKind
	objects map[string]*record
	classes map[string]time.Time
}

type record struct {
	obj       models.PassObject
	createdAt time.Time
	updatedAt time.Time
	patches   int
}

// NewMemory creates an empty in-memory store.
func NewMemory(kind models.ObjectKind) *Memory {
	return &Memory{
		kind:    kind,
		objects: make(map[string]*record),
		classes: make(map[string]time.Time),
	}
}

// ---------- Objects ----------

func (m *Memory) Create(_ context.Context, id, classID string, fields models.PassFields) (models.CreateOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.objects[id]; exists {
		return models.AlreadyExists, nil
	}
	now := time.Now()
	m.objects[id] = &record{
		obj: models.PassObject{
			ID:         id,
			ClassID:    classID,
			Kind:       m.kind,
			PassFields: m.visible(fields.Clone()),
		},
		createdAt: now,
		updatedAt: now,
	}
	return models.Created, nil
}

func (m *Memory) Get(_ context.Context, id string) (*models.PassObject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.objects[id]
	if !ok {
		return nil, &models.NotFoundError{ID: id}
	}
	return copyObject(rec.obj), nil
}

func (m *Memory) Patch(_ context.Context, id string, fields models.PassFields) (*models.PassObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.objects[id]
	if !ok {
		return nil, &models.NotFoundError{ID: id}
	}
	rec.obj.PassFields = rec.obj.PassFields.Merge(m.visible(fields))
	rec.updatedAt = time.Now()
	rec.patches++
	return copyObject(rec.obj), nil
}

// Patches returns how many patches an object has received.
func (m *Memory) Patches(id string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if rec, ok := m.objects[id]; ok {
		return rec.patches
	}
	return 0
}

// Len returns the number of stored objects.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// ---------- Classes ----------

func (m *Memory) CreateClass(_ context.Context, spec models.ClassSpec) (models.CreateOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.classes[spec.ID]; exists {
		return models.AlreadyExists, nil
	}
	m.classes[spec.ID] = time.Now()
	return models.Created, nil
}

// visible drops the fields a loyalty object does not carry, mirroring the API.
func (m *Memory) visible(f models.PassFields) models.PassFields {
	if m.kind == models.KindLoyalty {
		f.Title = ""
		f.Header = ""
		f.Background = ""
	}
	return f
}

func copyObject(o models.PassObject) *models.PassObject {
	cp := o
	// deep copy slices to avoid external mutation
	cp.PassFields = o.PassFields.Clone()
	return &cp
}
