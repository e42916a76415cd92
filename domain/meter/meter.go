// Package meter defines the closed set of metered resource types.
// All types are immutable values; all functions are pure.
package meter

import (
	"errors"
	"fmt"
)

// ErrUnknownType reports a meter outside the closed set.
var ErrUnknownType = errors.New("unknown meter type")

// Type identifies a kind of consumable resource tracked for billing.
type Type string

const (
	TypeAICredit      Type = "ai_credit"      // AI generation credits (discrete)
	TypeScheduledPost Type = "scheduled_post" // Scheduled social posts (discrete)
	TypeStorageGB     Type = "storage_gb"     // Storage in gigabytes (continuous)
)

// Kind determines how a meter's values accumulate within a period.
type Kind int

const (
	// KindCounter meters only ever increase within a period.
	KindCounter Kind = iota
	// KindGauge meters are point-in-time observations; the latest value
	// replaces the previous one rather than summing.
	KindGauge
)

// All returns every meter type, in stable order.
func All() []Type {
	return []Type{TypeAICredit, TypeScheduledPost, TypeStorageGB}
}

// Kind returns how values for this meter accumulate.
func (t Type) Kind() Kind {
	if t == TypeStorageGB {
		return KindGauge
	}
	return KindCounter
}

// Valid reports whether t is a known meter type.
func (t Type) Valid() bool {
	switch t {
	case TypeAICredit, TypeScheduledPost, TypeStorageGB:
		return true
	}
	return false
}

// Parse converts a string to a Type, failing on unknown values.
// Unknown meters are a construction-time error, never a silent default.
func Parse(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w %q", ErrUnknownType, s)
	}
	return t, nil
}
