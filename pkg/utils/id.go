package utils

import (
	"log"

	"github.com/google/uuid"
)

// GenerateID returns a random UUID string used as a primary key everywhere in
// the engine. Generation only fails when the OS entropy source is broken; in
// that case an empty id is returned so the caller's insert fails instead of
// writing a bogus key.
func GenerateID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		log.Printf("⚠️ UUID generation failed: %v", err)
		return ""
	}
	return id.String()
}

// IsValidUUID reports whether u parses as a UUID of any version.
func IsValidUUID(u string) bool {
	_, err := uuid.Parse(u)
	return err == nil
}
