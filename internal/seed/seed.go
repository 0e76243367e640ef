// Package seed provides the pre-issued licenses a store starts with.
package seed

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"licensed/internal/license"
	"licensed/internal/store"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"
)

const day = 24 * time.Hour

// Builtin returns the demo licenses relative to now: a professional license
// in use, a trial awaiting first activation and an expired standard license.
func Builtin(now time.Time) []license.License {
	daysAgo := func(n int) time.Time { return now.Add(-time.Duration(n) * day) }
	heartbeat := daysAgo(3)

	return []license.License{
		{
			Key:             "OPT-PRO-001",
			ProductName:     "OptimumTire Pro",
			OwnerName:       "Acme Racing",
			Tier:            license.TierProfessional,
			IssuedAt:        daysAgo(45),
			ExpiresAt:       now.Add(120 * day),
			ActivationLimit: 3,
			Notes:           "Primary license for aerodynamic analysis",
			Activations: []license.Activation{
				{MachineID: "ACME-RIG-01", ActivatedBy: "jane.doe", ActivatedAt: daysAgo(30)},
				{MachineID: "ACME-RIG-02", ActivatedBy: "john.smith", ActivatedAt: daysAgo(10)},
			},
			EverActivated: true,
		},
		{
			Key:             "OPT-TRIAL-041",
			ProductName:     "OptimumLap",
			OwnerName:       "Velocity Labs",
			Tier:            license.TierTrial,
			IssuedAt:        daysAgo(5),
			ExpiresAt:       now.Add(10 * day),
			ActivationLimit: 1,
			Notes:           "Trial awaiting first activation",
			Activations:     []license.Activation{},
		},
		{
			Key:             "OPT-STD-887",
			ProductName:     "OptimumG Suspension",
			OwnerName:       "Apex Dynamics",
			Tier:            license.TierStandard,
			IssuedAt:        daysAgo(200),
			ExpiresAt:       daysAgo(2),
			ActivationLimit: 2,
			Notes:           "Expired license retained for audit",
			Activations: []license.Activation{
				{MachineID: "APEX-RIG-01", ActivatedBy: "rachel.lee", ActivatedAt: daysAgo(150), LastHeartbeat: &heartbeat},
			},
			EverActivated: true,
		},
	}
}

type fileActivation struct {
	MachineID     string `yaml:"machineId" validate:"required,max=128"`
	ActivatedBy   string `yaml:"activatedBy"`
	ActivatedAt   string `yaml:"activatedAt"`
	LastHeartbeat string `yaml:"lastHeartbeat"`
}

type fileLicense struct {
	Key             string           `yaml:"key" validate:"required"`
	ProductName     string           `yaml:"productName"`
	OwnerName       string           `yaml:"ownerName"`
	Tier            string           `yaml:"tier" validate:"required,oneof=trial standard professional enterprise"`
	IssuedAt        string           `yaml:"issuedAt"`
	ExpiresAt       string           `yaml:"expiresAt" validate:"required_without=ValidDays"`
	ValidDays       int              `yaml:"validDays" validate:"min=0"`
	ActivationLimit int              `yaml:"activationLimit" validate:"min=0"`
	Notes           string           `yaml:"notes"`
	Revoked         bool             `yaml:"revoked"`
	Activations     []fileActivation `yaml:"activations" validate:"dive"`
}

type file struct {
	Licenses []fileLicense `yaml:"licenses" validate:"dive"`
}

var validate = validator.New()

// LoadFile reads a YAML seed file. Instants are RFC 3339; a missing issuedAt
// means now, and validDays may stand in for expiresAt.
func LoadFile(path string, now time.Time) ([]license.License, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data, now)
}

func Parse(data []byte, now time.Time) ([]license.License, error) {
	var f file
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	if err := validate.Struct(f); err != nil {
		return nil, fmt.Errorf("invalid seed: %w", err)
	}

	out := make([]license.License, 0, len(f.Licenses))
	for _, fl := range f.Licenses {
		l, err := fl.toLicense(now)
		if err != nil {
			return nil, err
		}
		if err := l.Validate(); err != nil {
			return nil, fmt.Errorf("invalid seed: %w", err)
		}
		out = append(out, l)
	}
	return out, nil
}

func (fl fileLicense) toLicense(now time.Time) (license.License, error) {
	l := license.License{
		Key:             license.NormalizeKey(fl.Key),
		ProductName:     fl.ProductName,
		OwnerName:       fl.OwnerName,
		Tier:            license.Tier(fl.Tier),
		IssuedAt:        now,
		ActivationLimit: fl.ActivationLimit,
		Notes:           fl.Notes,
		Revoked:         fl.Revoked,
		Activations:     make([]license.Activation, 0, len(fl.Activations)),
	}
	var err error
	if fl.IssuedAt != "" {
		if l.IssuedAt, err = parseTime(fl.Key, "issuedAt", fl.IssuedAt); err != nil {
			return l, err
		}
	}
	if fl.ExpiresAt != "" {
		if l.ExpiresAt, err = parseTime(fl.Key, "expiresAt", fl.ExpiresAt); err != nil {
			return l, err
		}
	} else {
		l.ExpiresAt = l.IssuedAt.Add(time.Duration(fl.ValidDays) * day)
	}

	for _, fa := range fl.Activations {
		a := license.Activation{
			MachineID:   strings.TrimSpace(fa.MachineID),
			ActivatedBy: fa.ActivatedBy,
			ActivatedAt: l.IssuedAt,
		}
		if a.ActivatedBy == "" {
			a.ActivatedBy = license.DefaultActivatedBy
		}
		if fa.ActivatedAt != "" {
			if a.ActivatedAt, err = parseTime(fl.Key, "activatedAt", fa.ActivatedAt); err != nil {
				return l, err
			}
		}
		if fa.LastHeartbeat != "" {
			hb, err := parseTime(fl.Key, "lastHeartbeat", fa.LastHeartbeat)
			if err != nil {
				return l, err
			}
			a.LastHeartbeat = &hb
		}
		l.Activations = append(l.Activations, a)
	}
	l.EverActivated = len(l.Activations) > 0
	return l, nil
}

func parseTime(key, field, v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("license %s: %s: %w", key, field, err)
	}
	return t.UTC(), nil
}

// Apply inserts every license that the store does not hold yet and returns
// how many were added. Existing records are left untouched.
func Apply(st store.Store, lics []license.License) (int, error) {
	added := 0
	for _, l := range lics {
		err := st.Insert(l)
		switch {
		case err == nil:
			added++
		case errors.Is(err, store.ErrExists):
		default:
			return added, fmt.Errorf("seed %s: %w", l.Key, err)
		}
	}
	return added, nil
}
