// Package agent manages the registry of conversational agents.
//
// An agent couples a persona with an optional per-agent knowledge store.
// The store name is derived from the agent name and owner at creation time
// and validated as a PostgreSQL identifier; invalid names are rejected, not
// transformed.
package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kotoba-ai/kotoba/internal/knowledge"
)

// Sentinel errors for registry operations.
var (
	// ErrAgentNotFound indicates the agent does not exist for this owner.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrDuplicateName indicates the owner already has an agent by this name.
	ErrDuplicateName = errors.New("agent name already in use")

	// ErrInvalidName indicates the agent name cannot produce a valid store
	// identifier.
	ErrInvalidName = errors.New("invalid agent name")
)

// Agent is a registered conversational agent.
type Agent struct {
	ID            uuid.UUID
	OwnerID       string
	Name          string
	StoreName     string
	Persona       string
	Description   string
	PictureURL    string
	TrainingFiles []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DeriveStoreName computes the knowledge store identifier for an agent:
// the lowercased agent name suffixed with a short owner hash, so two owners
// can both have an agent called "support". The result must pass
// knowledge.ValidateStoreName or the agent name is rejected.
func DeriveStoreName(ownerID, name string) (string, error) {
	sum := sha256.Sum256([]byte(ownerID))
	store := strings.ToLower(name) + "_" + hex.EncodeToString(sum[:4])
	if err := knowledge.ValidateStoreName(store); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return store, nil
}
