// Package identity holds the agent identity an adapter acts as.
package identity

import (
	"errors"
	"log/slog"
)

// Identity binds an agent name to its secret credential.
// It is created at adapter construction and never mutated afterwards.
type Identity struct {
	name   string
	secret Secret
}

// New creates an Identity. Both the name and the secret are required.
func New(name string, secret Secret) (Identity, error) {
	if name == "" {
		return Identity{}, errors.New("agent name is required")
	}
	if secret.Empty() {
		return Identity{}, errors.New("agent secret is required")
	}
	return Identity{name: name, secret: secret}, nil
}

// Name returns the unique agent name.
func (i Identity) Name() string { return i.name }

// Secret returns the credential used to sign sync envelopes.
func (i Identity) Secret() Secret { return i.secret }

// String identifies the agent by name only.
func (i Identity) String() string { return i.name }

// LogValue exposes only the agent name to structured logging.
func (i Identity) LogValue() slog.Value {
	return slog.GroupValue(slog.String("agent", i.name))
}
