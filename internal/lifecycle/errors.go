package lifecycle

import "errors"

// Every failed precondition is reported as one of these kinds, wrapped with
// the license key and machine involved. Match with errors.Is.
var (
	ErrNotFound         = errors.New("license not found")
	ErrExpired          = errors.New("license expired")
	ErrRevoked          = errors.New("license revoked")
	ErrAlreadyActivated = errors.New("machine already activated")
	ErrNotActivated     = errors.New("machine not activated")
	ErrSlotsExhausted   = errors.New("activation slots exhausted")
	ErrInvalidMachineID = errors.New("invalid machine id")
)
