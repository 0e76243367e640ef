package license

import "strings"

// MaxMachineIDLen bounds machine identifiers accepted for activation.
const MaxMachineIDLen = 128

// NormalizeKey trims surrounding space and upper-cases a license key so
// "opt-pro-001 " and "OPT-PRO-001" address the same record.
func NormalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// NormalizeMachineID trims a machine identifier. It returns false when the
// result is empty or longer than MaxMachineIDLen.
func NormalizeMachineID(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > MaxMachineIDLen {
		return id, false
	}
	return id, true
}
