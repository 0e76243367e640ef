// Package lifecycle enforces activation limits and derives license status
// on top of a store.Store.
package lifecycle

import (
	"errors"
	"fmt"
	"strings"

	"licensed/internal/clock"
	"licensed/internal/license"
	"licensed/internal/store"
)

type Engine struct {
	st    store.Store
	clock clock.Clock
}

func New(st store.Store, c clock.Clock) *Engine {
	if c == nil {
		c = clock.System()
	}
	return &Engine{st: st, clock: c}
}

// ListLicenses returns every license with status computed now.
func (e *Engine) ListLicenses() ([]license.License, error) {
	list, err := e.st.List()
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	now := e.clock.Now()
	out := make([]license.License, 0, len(list))
	for _, l := range list {
		out = append(out, l.Resolve(now))
	}
	return out, nil
}

// GetLicense returns one license with status computed now.
func (e *Engine) GetLicense(key string) (license.License, error) {
	l, err := e.get(key)
	if err != nil {
		return license.License{}, err
	}
	return l.Resolve(e.clock.Now()), nil
}

// Status reports the status, remaining days and expiry of one license.
func (e *Engine) Status(key string) (license.Report, error) {
	l, err := e.get(key)
	if err != nil {
		return license.Report{}, err
	}
	return license.ReportAt(&l, e.clock.Now()), nil
}

// Activate claims a slot on the license for machineID. An empty activatedBy
// is recorded as license.DefaultActivatedBy.
func (e *Engine) Activate(key, machineID, activatedBy string) (license.License, error) {
	machineID, ok := license.NormalizeMachineID(machineID)
	if !ok {
		return license.License{}, fmt.Errorf("activate %s: %w", key, ErrInvalidMachineID)
	}
	if activatedBy == "" {
		activatedBy = license.DefaultActivatedBy
	}

	now := e.clock.Now()
	updated, err := e.st.WithLicense(key, func(l *license.License) error {
		now = e.clock.Now()
		switch license.StatusAt(l, now) {
		case license.StatusRevoked:
			return fmt.Errorf("activate %s: %w: %w", l.Key, ErrExpired, ErrRevoked)
		case license.StatusExpired:
			return fmt.Errorf("activate %s: %w", l.Key, ErrExpired)
		}
		if l.IndexOf(machineID) >= 0 {
			return fmt.Errorf("activate %s on %s: %w", l.Key, machineID, ErrAlreadyActivated)
		}
		if len(l.Activations) >= l.ActivationLimit {
			return fmt.Errorf("activate %s: %w (limit %d)", l.Key, ErrSlotsExhausted, l.ActivationLimit)
		}
		l.Activations = append(l.Activations, license.Activation{
			MachineID:   machineID,
			ActivatedBy: activatedBy,
			ActivatedAt: now,
		})
		l.EverActivated = true
		return nil
	})
	if err != nil {
		return license.License{}, e.storeErr("activate", key, err)
	}
	return updated.Resolve(now), nil
}

// Deactivate releases the slot held by machineID. Expired and revoked
// licenses may still be cleaned up. A machine that holds no slot, including
// one whose id could never activate, fails with ErrNotActivated.
func (e *Engine) Deactivate(key, machineID string) (license.License, error) {
	machineID = strings.TrimSpace(machineID)

	updated, err := e.st.WithLicense(key, func(l *license.License) error {
		i := l.IndexOf(machineID)
		if i < 0 {
			return fmt.Errorf("deactivate %s on %s: %w", l.Key, machineID, ErrNotActivated)
		}
		l.Activations = append(l.Activations[:i], l.Activations[i+1:]...)
		return nil
	})
	if err != nil {
		return license.License{}, e.storeErr("deactivate", key, err)
	}
	return updated.Resolve(e.clock.Now()), nil
}

func (e *Engine) get(key string) (license.License, error) {
	l, err := e.st.Get(key)
	if err != nil {
		return license.License{}, e.storeErr("get", key, err)
	}
	return l, nil
}

// storeErr maps store.ErrNotFound onto ErrNotFound and wraps anything else.
// Errors produced by the engine's own transforms pass through unchanged.
func (e *Engine) storeErr(op, key string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", op, key, ErrNotFound)
	}
	if isKind(err) {
		return err
	}
	return fmt.Errorf("%s %s: %w", op, key, err)
}

func isKind(err error) bool {
	for _, kind := range []error{ErrExpired, ErrAlreadyActivated, ErrNotActivated, ErrSlotsExhausted, ErrInvalidMachineID} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
