package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/patrickamowe/image-processing-service/internal/apperr"
	"github.com/patrickamowe/image-processing-service/internal/domain"
	"github.com/patrickamowe/image-processing-service/internal/store"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

type AccessToken struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Service implements sign-up, login and user lookup.
type Service struct {
	users  store.UserStore
	tokens *Tokens
	logger zerolog.Logger
	cost   int
}

func NewService(users store.UserStore, tokens *Tokens, logger zerolog.Logger) *Service {
	return &Service{
		users:  users,
		tokens: tokens,
		logger: logger,
		cost:   bcrypt.DefaultCost,
	}
}

func (s *Service) Tokens() *Tokens {
	return s.tokens
}

func (s *Service) SignUp(ctx context.Context, req domain.SignUpRequest) (domain.User, error) {
	if err := req.Validate(); err != nil {
		return domain.User{}, err
	}
	username := strings.TrimSpace(req.Username)

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return domain.User{}, apperr.Validation("password", "must be at most 72 bytes")
		}
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.CreateUser(ctx, username, string(hash))
	if errors.Is(err, store.ErrConflict) {
		return domain.User{}, apperr.Conflict("username already registered")
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info().Int64("user_id", user.ID).Str("username", user.Username).Msg("user signed up")
	return user, nil
}

// Login checks the credentials. Unknown users and wrong passwords fail the
// same way.
func (s *Service) Login(ctx context.Context, username, password string) (AccessToken, error) {
	invalid := apperr.Forbidden("invalid credentials")

	user, err := s.users.GetUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, store.ErrNotFound) {
		return AccessToken{}, invalid
	}
	if err != nil {
		return AccessToken{}, fmt.Errorf("load user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return AccessToken{}, invalid
	}

	token, expires, err := s.tokens.Issue(user)
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{AccessToken: token, TokenType: TokenType, ExpiresAt: expires}, nil
}

func (s *Service) GetUser(ctx context.Context, id int64) (domain.User, error) {
	user, err := s.users.GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.User{}, apperr.NotFound("user not found")
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}
