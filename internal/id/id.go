package id

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a random identifier suitable for file names.
func New() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
