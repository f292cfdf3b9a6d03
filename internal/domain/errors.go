package domain

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the core. Callers match them with errors.Is.
var (
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrGenerationFailed    = errors.New("generation failed")
	ErrGenerationTimeout   = errors.New("generation timed out")
	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrValidation          = errors.New("validation error")
	ErrNotFound            = errors.New("not found")
	ErrPartialRemix        = errors.New("remix created but origin not linked")
)

// ValidationError describes a malformed input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// GenerationFailedError carries the reason an upstream job failed.
type GenerationFailedError struct {
	Reason string
}

func (e *GenerationFailedError) Error() string {
	if e.Reason == "" {
		return ErrGenerationFailed.Error()
	}
	return fmt.Sprintf("%s: %s", ErrGenerationFailed, e.Reason)
}

// Is matches ErrGenerationFailed.
func (e *GenerationFailedError) Is(target error) bool {
	return target == ErrGenerationFailed
}

// PartialRemixError reports a remix shard that was stored but could not be
// linked from its origin.
type PartialRemixError struct {
	OriginID string
	Remix    *TruthShard
	Err      error
}

func (e *PartialRemixError) Error() string {
	return fmt.Sprintf("%s: origin %s, remix %s: %v", ErrPartialRemix, e.OriginID, e.Remix.ID, e.Err)
}

// Is matches ErrPartialRemix.
func (e *PartialRemixError) Is(target error) bool {
	return target == ErrPartialRemix
}

func (e *PartialRemixError) Unwrap() error {
	return e.Err
}
