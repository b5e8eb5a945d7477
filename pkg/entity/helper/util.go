package helper

import "github.com/google/uuid"

// GenerateUID creates a random unique identifier.
func GenerateUID() string {
	return uuid.NewString()
}
