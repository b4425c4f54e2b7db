package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/patrickamowe/image-processing-service/internal/apperr"
	"github.com/patrickamowe/image-processing-service/internal/domain"
	"github.com/patrickamowe/image-processing-service/internal/store"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc := NewService(store.NewMemoryStore(), newTestTokens(t), zerolog.Nop())
	svc.cost = bcrypt.MinCost
	return svc
}

func TestSignUpAndLogin(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	user, err := svc.SignUp(ctx, domain.SignUpRequest{Username: " ada ", Password: "pw"})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if user.Username != "ada" || user.PasswordHash == "pw" {
		t.Fatalf("unexpected user %+v", user)
	}

	if _, err := svc.SignUp(ctx, domain.SignUpRequest{Username: "ada", Password: "other"}); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	token, err := svc.Login(ctx, "ada", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if token.TokenType != "bearer" || token.AccessToken == "" {
		t.Fatalf("unexpected token %+v", token)
	}
	claims, err := svc.Tokens().Verify(token.AccessToken)
	if err != nil || claims.UserID != user.ID {
		t.Fatalf("token does not identify the user: %+v %v", claims, err)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	if _, err := svc.SignUp(ctx, domain.SignUpRequest{Username: "ada", Password: "pw"}); err != nil {
		t.Fatalf("sign up: %v", err)
	}

	if _, err := svc.Login(ctx, "ada", "wrong"); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden for wrong password, got %v", err)
	}
	if _, err := svc.Login(ctx, "nobody", "pw"); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden for unknown user, got %v", err)
	}
}

func TestGetUserNotFound(t *testing.T) {
	if _, err := newTestService(t).GetUser(context.Background(), 42); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tokens := newTestTokens(t)
	signed, _, err := tokens.Issue(domain.User{ID: 3, Username: "ada"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	router := gin.New()
	router.GET("/me", Middleware(tokens), func(c *gin.Context) {
		claims, ok := CurrentUser(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": claims.UserID})
	})

	cases := []struct {
		name   string
		header string
		status int
	}{
		{name: "valid", header: "Bearer " + signed, status: http.StatusOK},
		{name: "lowercase scheme", header: "bearer " + signed, status: http.StatusOK},
		{name: "missing", header: "", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", status: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer nope", status: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d (%s)", tc.status, rec.Code, rec.Body.String())
			}
			if tc.status == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") != "Bearer" {
				t.Fatalf("missing WWW-Authenticate header")
			}
		})
	}
}
