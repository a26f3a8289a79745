// Package scope derives cache and durable-store keys from a
// (kind, conversation id, optional agent scope) tuple. Key derivation is
// deterministic, collision-free across kinds, and stable across process
// restarts.
package scope

import "strings"

// Kind discriminates the two memory namespaces. Individual and shared keys
// never collide even for the same conversation id because the kind is a
// distinct key segment.
type Kind string

const (
	KindIndividual Kind = "individual"
	KindShared     Kind = "shared"
)

// DefaultPrefix is prepended to all keys unless overridden.
const DefaultPrefix = "memtier"

const separator = ":"

// Resolver builds namespaced keys. The zero value is not usable; construct
// with NewResolver.
type Resolver struct {
	prefix string
}

// NewResolver creates a Resolver with the given key prefix. An empty prefix
// falls back to DefaultPrefix.
func NewResolver(prefix string) *Resolver {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Resolver{prefix: strings.TrimSuffix(prefix, separator)}
}

// Individual returns the key for a (conversation, agent scope) working
// memory record: prefix:individual:<conversation>:<scope>.
func (r *Resolver) Individual(conversationID, scopeID string) string {
	return r.prefix + separator + string(KindIndividual) + separator + conversationID + separator + scopeID
}

// Shared returns the key for a conversation-wide record:
// prefix:shared:<conversation>.
func (r *Resolver) Shared(conversationID string) string {
	return r.prefix + separator + string(KindShared) + separator + conversationID
}

// Pattern returns a glob pattern matching every key of the given kind,
// optionally narrowed to one conversation. Used for cache-tier scans.
func (r *Resolver) Pattern(kind Kind, conversationID string) string {
	base := r.prefix + separator + string(kind)
	if conversationID == "" {
		return base + separator + "*"
	}
	return base + separator + conversationID + separator + "*"
}

// Prefix returns the configured key prefix.
func (r *Resolver) Prefix() string {
	return r.prefix
}
