// Package rooms stores room metadata and the shareable-code lookup. The
// directory mirrors the presence layer's split: Redis-backed when the
// server has one, process-local otherwise, behind the same interface.
package rooms

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"sync"

	"github.com/mossy-p/video-rooms/internal/models"
)

const (
	// CodeLength is the length of shareable room codes. Identifiers of
	// this length are resolved as codes, everything else as room IDs.
	CodeLength = 6

	codeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // Removed ambiguous chars
)

// ErrNotFound is returned for identifiers no room resolves to.
var ErrNotFound = errors.New("room not found")

// Directory is the room metadata store behind the management API and the
// join-time capacity check.
type Directory interface {
	// Create registers the room under its ID and code.
	Create(ctx context.Context, room *models.RoomMetadata) error

	// Lookup resolves a room code or ID to its metadata.
	Lookup(ctx context.Context, codeOrID string) (*models.RoomMetadata, error)

	// Delete removes the room and its code mapping.
	Delete(ctx context.Context, room *models.RoomMetadata) error
}

// NewCode generates a shareable room code.
func NewCode() string {
	code := make([]byte, CodeLength)
	for i := range code {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(codeChars))))
		code[i] = codeChars[n.Int64()]
	}
	return string(code)
}

// MemoryDirectory is the process-local Directory used when the server runs
// without Redis, and by tests. Rooms live until deleted or process exit.
type MemoryDirectory struct {
	mu     sync.Mutex
	byID   map[string]models.RoomMetadata
	byCode map[string]string
}

// NewMemoryDirectory creates an empty MemoryDirectory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		byID:   make(map[string]models.RoomMetadata),
		byCode: make(map[string]string),
	}
}

func (d *MemoryDirectory) Create(_ context.Context, room *models.RoomMetadata) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byID[room.ID] = *room
	d.byCode[room.Code] = room.ID
	return nil
}

func (d *MemoryDirectory) Lookup(_ context.Context, codeOrID string) (*models.RoomMetadata, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := codeOrID
	if len(codeOrID) == CodeLength {
		mapped, ok := d.byCode[codeOrID]
		if !ok {
			return nil, ErrNotFound
		}
		id = mapped
	}
	room, ok := d.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &room, nil
}

func (d *MemoryDirectory) Delete(_ context.Context, room *models.RoomMetadata) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.byID, room.ID)
	delete(d.byCode, room.Code)
	return nil
}
