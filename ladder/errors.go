package ladder

import "errors"

// Capacity and pairing races (ErrLevelFull, ErrAlreadyPairing) are steady-state
// conditions, not faults; callers should treat them as retryable.
var (
	ErrNoSuchLevel            = errors.New("no such level")
	ErrNoSuchPlayer           = errors.New("player not registered")
	ErrNoSuchMatch            = errors.New("match not found")
	ErrInvalidStateTransition = errors.New("invalid match-state transition")
	ErrAlreadyQueued          = errors.New("player already queued")
	ErrAlreadyInMatch         = errors.New("player already in a match")
	ErrAlreadyPairing         = errors.New("pairing already captured player")
	ErrNotQueued              = errors.New("player is not queued")
	ErrLevelFull              = errors.New("level is at capacity")
	ErrInsufficientGenes      = errors.New("insufficient gene balance")
	ErrInvalidOutcome         = errors.New("invalid match outcome")
	ErrPlayerDeactivated      = errors.New("player is deactivated")
)
