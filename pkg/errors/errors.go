// Package errors defines the error taxonomy for the tiered memory
// subsystem. Only two kinds originate here: tier unavailability and
// payload serialization faults. Both are absorbed at the store boundary
// and logged, never returned to calling agents.
package errors

import (
	"errors"
	"fmt"
)

// Tier names used in error context.
const (
	TierCache   = "cache"
	TierDurable = "durable"
)

// Error kinds.
const (
	KindTierUnavailable = "tier_unavailable"
	KindSerialization   = "serialization_fault"
)

// MemoryError carries enough context to diagnose tier health from logs:
// the tier, the operation, and the conversation/scope being accessed.
type MemoryError struct {
	Kind           string
	Tier           string
	Op             string
	ConversationID string
	ScopeID        string
	Err            error
}

// Error implements the error interface.
func (e *MemoryError) Error() string {
	msg := fmt.Sprintf("[%s] %s %s", e.Kind, e.Tier, e.Op)
	if e.ConversationID != "" {
		msg += " conversation=" + e.ConversationID
	}
	if e.ScopeID != "" {
		msg += " scope=" + e.ScopeID
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying tier error.
func (e *MemoryError) Unwrap() error {
	return e.Err
}

// NewTierUnavailable wraps a cache- or durable-tier failure (unreachable,
// timed out, or otherwise erroring).
func NewTierUnavailable(tier, op string, err error) *MemoryError {
	return &MemoryError{
		Kind: KindTierUnavailable,
		Tier: tier,
		Op:   op,
		Err:  err,
	}
}

// NewSerializationFault wraps a payload encode/decode failure.
func NewSerializationFault(tier, op string, err error) *MemoryError {
	return &MemoryError{
		Kind: KindSerialization,
		Tier: tier,
		Op:   op,
		Err:  err,
	}
}

// WithRecord attaches conversation/scope context to the error.
func (e *MemoryError) WithRecord(conversationID, scopeID string) *MemoryError {
	e.ConversationID = conversationID
	e.ScopeID = scopeID
	return e
}

// IsTierUnavailable reports whether err is a tier availability fault.
func IsTierUnavailable(err error) bool {
	var me *MemoryError
	return errors.As(err, &me) && me.Kind == KindTierUnavailable
}

// IsSerializationFault reports whether err is a payload codec fault.
func IsSerializationFault(err error) bool {
	var me *MemoryError
	return errors.As(err, &me) && me.Kind == KindSerialization
}
