package core

import "fmt"

// Identifier length bounds. Every domain id (model, chain, prompt, workflow,
// team, user, api key, experiment, budget) obeys the same lexical rule:
// nonempty, alphanumeric plus '-', must not start or end with '-'.
const (
	MinIDLength = 1
	MaxIDLength = 64
)

// ValidateID checks an opaque domain identifier against the common lexical
// rule shared by all entity types.
func ValidateID(id string) error {
	if len(id) < MinIDLength || len(id) > MaxIDLength {
		return &GatewayError{
			Kind:    KindInvalidID,
			ID:      id,
			Message: fmt.Sprintf("identifier must be between %d and %d characters", MinIDLength, MaxIDLength),
			Err:     ErrInvalidID,
		}
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-':
			if i == 0 || i == len(id)-1 {
				return &GatewayError{
					Kind:    KindInvalidID,
					ID:      id,
					Message: "identifier must not start or end with '-'",
					Err:     ErrInvalidID,
				}
			}
		default:
			return &GatewayError{
				Kind:    KindInvalidID,
				ID:      id,
				Message: fmt.Sprintf("identifier contains invalid character %q", c),
				Err:     ErrInvalidID,
			}
		}
	}
	return nil
}
