package types

import "fmt"

// ValidateIDPresent rejects empty identifiers before they reach the wire.
func ValidateIDPresent(id, field string) error {
	if id == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

// ValidateRole rejects roles outside the user/ai pair.
func ValidateRole(role string) error {
	switch role {
	case RoleUser, RoleAI:
		return nil
	default:
		return fmt.Errorf("invalid role %q", role)
	}
}
