package auth

import "context"

// Identity is the session's notion of who is signed in.
type Identity struct {
	UserID string `json:"userId,omitempty"`
	Guest  bool   `json:"guest"`
}

// Authenticated reports whether a non-guest user is present.
func (i Identity) Authenticated() bool {
	return i.UserID != "" && !i.Guest
}

// Provider resolves the current identity.
type Provider interface {
	Identity(ctx context.Context) (Identity, error)
}

// Static is a Provider with a fixed identity taken from configuration.
type Static struct {
	id Identity
}

func NewStatic(userID string, guest bool) *Static {
	return &Static{id: Identity{UserID: userID, Guest: guest}}
}

func (s *Static) Identity(context.Context) (Identity, error) {
	return s.id, nil
}
