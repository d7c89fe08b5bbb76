package actor

import (
	"context"
	"sync"

	id "hycredit/pkg/domain"
	dErrors "hycredit/pkg/domain-errors"
)

// Directory resolves actors and their assigned auditors.
type Directory interface {
	Lookup(ctx context.Context, actorID id.ActorID) (*Profile, error)
	AssignedAuditor(ctx context.Context, actorID id.ActorID) (id.ActorID, error)
}

// MemoryDirectory is a static, in-process directory seeded at startup.
type MemoryDirectory struct {
	mu       sync.RWMutex
	profiles map[id.ActorID]Profile
}

func NewMemoryDirectory(profiles ...Profile) *MemoryDirectory {
	d := &MemoryDirectory{profiles: make(map[id.ActorID]Profile)}
	for _, p := range profiles {
		d.profiles[p.ID] = p
	}
	return d
}

func (d *MemoryDirectory) Register(p Profile) error {
	if p.ID.IsZero() || !p.Role.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "actor id and valid role are required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[p.ID] = p
	return nil
}

func (d *MemoryDirectory) Lookup(_ context.Context, actorID id.ActorID) (*Profile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.profiles[actorID]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "actor not found")
	}
	return &p, nil
}

// AssignedAuditor returns the auditor for the actor's requests. The auditor
// must itself be a registered auditor.
func (d *MemoryDirectory) AssignedAuditor(ctx context.Context, actorID id.ActorID) (id.ActorID, error) {
	p, err := d.Lookup(ctx, actorID)
	if err != nil {
		return "", err
	}
	if p.AuditorID.IsZero() {
		return "", dErrors.New(dErrors.CodeValidation, "no auditor assigned to actor")
	}
	auditor, err := d.Lookup(ctx, p.AuditorID)
	if err != nil || auditor.Role != id.RoleAuditor {
		return "", dErrors.New(dErrors.CodeValidation, "assigned auditor is not a registered auditor")
	}
	return auditor.ID, nil
}
