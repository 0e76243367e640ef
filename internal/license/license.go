package license

import (
	"fmt"
	"time"
)

type Tier string

const (
	TierTrial        Tier = "trial"
	TierStandard     Tier = "standard"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

// ParseTier accepts the lower-case tier names.
func ParseTier(s string) (Tier, error) {
	switch t := Tier(s); t {
	case TierTrial, TierStandard, TierProfessional, TierEnterprise:
		return t, nil
	}
	return "", fmt.Errorf("unknown tier %q", s)
}

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusExpired  Status = "expired"
	StatusPending  Status = "pending"
	StatusRevoked  Status = "revoked"
)

// DefaultActivatedBy is recorded when an activation names no actor.
const DefaultActivatedBy = "unknown"

type Activation struct {
	MachineID     string     `json:"machineId"`
	ActivatedBy   string     `json:"activatedBy"`
	ActivatedAt   time.Time  `json:"activatedAt"`
	LastHeartbeat *time.Time `json:"lastHeartbeat"`
}

// License is one issued license and the machines currently holding its
// slots. Status and RemainingDays are derived; stores may persist them but
// they are recomputed by Resolve on every read.
type License struct {
	Key             string       `json:"key"`
	ProductName     string       `json:"productName"`
	OwnerName       string       `json:"ownerName"`
	Tier            Tier         `json:"tier"`
	IssuedAt        time.Time    `json:"issuedAt"`
	ExpiresAt       time.Time    `json:"expiresAt"`
	ActivationLimit int          `json:"activationLimit"`
	Notes           string       `json:"notes"`
	Activations     []Activation `json:"activations"`
	Revoked         bool         `json:"revoked"`
	EverActivated   bool         `json:"everActivated"`

	Status        Status `json:"status"`
	RemainingDays int    `json:"remainingDays"`
}

// Clone returns a copy that shares no mutable state with l.
func (l License) Clone() License {
	out := l
	out.Activations = make([]Activation, len(l.Activations))
	for i, a := range l.Activations {
		if a.LastHeartbeat != nil {
			hb := *a.LastHeartbeat
			a.LastHeartbeat = &hb
		}
		out.Activations[i] = a
	}
	return out
}

// IndexOf returns the position of machineID in Activations, or -1.
func (l *License) IndexOf(machineID string) int {
	for i, a := range l.Activations {
		if a.MachineID == machineID {
			return i
		}
	}
	return -1
}

// FreeSlots reports how many more machines may activate.
func (l *License) FreeSlots() int {
	n := l.ActivationLimit - len(l.Activations)
	if n < 0 {
		return 0
	}
	return n
}

// Validate checks the invariants a record must satisfy at issuance.
func (l *License) Validate() error {
	if l.Key == "" {
		return fmt.Errorf("license key is empty")
	}
	if _, err := ParseTier(string(l.Tier)); err != nil {
		return fmt.Errorf("license %s: %w", l.Key, err)
	}
	if !l.ExpiresAt.After(l.IssuedAt) {
		return fmt.Errorf("license %s: expiresAt must be after issuedAt", l.Key)
	}
	if l.ActivationLimit < 0 {
		return fmt.Errorf("license %s: negative activation limit", l.Key)
	}
	if len(l.Activations) > l.ActivationLimit {
		return fmt.Errorf("license %s: %d activations exceed limit %d", l.Key, len(l.Activations), l.ActivationLimit)
	}
	seen := make(map[string]struct{}, len(l.Activations))
	for _, a := range l.Activations {
		if _, ok := NormalizeMachineID(a.MachineID); !ok {
			return fmt.Errorf("license %s: invalid machine id %q", l.Key, a.MachineID)
		}
		if _, dup := seen[a.MachineID]; dup {
			return fmt.Errorf("license %s: duplicate machine id %q", l.Key, a.MachineID)
		}
		seen[a.MachineID] = struct{}{}
	}
	return nil
}
