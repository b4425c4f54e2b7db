package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/patrickamowe/image-processing-service/internal/apperr"
)

const MaxUsernameLength = 20

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

type SignUpRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (r SignUpRequest) Validate() error {
	username := strings.TrimSpace(r.Username)
	if username == "" {
		return apperr.Validation("username", "is required")
	}
	if utf8.RuneCountInString(username) > MaxUsernameLength {
		return apperr.Validation("username", "must be at most 20 characters")
	}
	if r.Password == "" {
		return apperr.Validation("password", "is required")
	}
	return nil
}
