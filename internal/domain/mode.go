// Package domain contains core domain types for the Oracle Shell application.
package domain

import (
	"fmt"
	"strings"
)

// Mode selects the persona the oracle speaks with.
type Mode string

const (
	// ModeClairvoyant is the coherent, prophetic persona.
	ModeClairvoyant Mode = "clairvoyant"
	// ModeDissociative is the glitching, corrupted persona.
	ModeDissociative Mode = "dissociative"
)

// Modes lists every recognized mode.
var Modes = []Mode{ModeClairvoyant, ModeDissociative}

// Valid reports whether m is one of the recognized modes.
func (m Mode) Valid() bool {
	return m == ModeClairvoyant || m == ModeDissociative
}

func (m Mode) String() string {
	return string(m)
}

// ParseMode normalizes and validates a mode string.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", &ValidationError{Field: "mode", Reason: fmt.Sprintf("unrecognized mode %q", s)}
	}
	return m, nil
}
