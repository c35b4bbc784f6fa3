package approvalflow

import (
	"context"
	"sync"
)

// Authorizer is the capability-check boundary to the surrounding user/role
// system. The engine asks questions; role tables and group membership stay
// outside.
type Authorizer interface {
	HasRole(ctx context.Context, actorID, role string) (bool, error)
	// CanCancel reports whether the actor holds the administrative
	// capability required to cancel a running instance.
	CanCancel(ctx context.Context, actorID string) (bool, error)
}

// StaticAuthorizer answers from in-memory role assignments. Useful for
// tests, examples and deployments where roles are provisioned up front.
type StaticAuthorizer struct {
	mu         sync.RWMutex
	roles      map[string]map[string]struct{}
	cancellers map[string]struct{}
}

func NewStaticAuthorizer() *StaticAuthorizer {
	return &StaticAuthorizer{
		roles:      make(map[string]map[string]struct{}),
		cancellers: make(map[string]struct{}),
	}
}

func (a *StaticAuthorizer) Grant(actorID string, roles ...string) *StaticAuthorizer {
	a.mu.Lock()
	defer a.mu.Unlock()

	set, ok := a.roles[actorID]
	if !ok {
		set = make(map[string]struct{})
		a.roles[actorID] = set
	}
	for _, role := range roles {
		set[role] = struct{}{}
	}

	return a
}

func (a *StaticAuthorizer) AllowCancel(actorID string) *StaticAuthorizer {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancellers[actorID] = struct{}{}

	return a
}

func (a *StaticAuthorizer) HasRole(ctx context.Context, actorID, role string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	set, ok := a.roles[actorID]
	if !ok {
		return false, nil
	}
	_, ok = set[role]

	return ok, nil
}

func (a *StaticAuthorizer) CanCancel(ctx context.Context, actorID string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.cancellers[actorID]

	return ok, nil
}
