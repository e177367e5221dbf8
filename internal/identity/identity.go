// Package identity produces session identifiers for the signaling
// namespace. Identifiers are opaque, exchanged out-of-band, and unique
// with overwhelming probability; nothing is persisted.
package identity

import "github.com/google/uuid"

// Generator implements domain.IdentityProvider with random UUIDs.
type Generator struct{}

// NewGenerator creates a Generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// NewIdentity returns a fresh identifier.
func (g *Generator) NewIdentity() string {
	return uuid.NewString()
}
