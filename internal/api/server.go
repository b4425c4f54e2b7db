package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickamowe/image-processing-service/internal/auth"
	"github.com/patrickamowe/image-processing-service/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultMaxUploadBytes   = 20 << 20
	defaultTransformTimeout = 30 * time.Second
	maxJSONBodyBytes        = 1 << 20
)

type accountService interface {
	SignUp(ctx context.Context, req domain.SignUpRequest) (domain.User, error)
	Login(ctx context.Context, username, password string) (auth.AccessToken, error)
	GetUser(ctx context.Context, id int64) (domain.User, error)
}

type imageService interface {
	Upload(ctx context.Context, userID int64, filename string, data []byte) (domain.Image, error)
	Get(ctx context.Context, imageID int64) (domain.Image, error)
	List(ctx context.Context, q domain.ListQuery) ([]domain.Image, error)
	Transform(ctx context.Context, userID, imageID int64, req domain.TransformRequest) (domain.Image, error)
}

type Options struct {
	Logger   zerolog.Logger
	Accounts accountService
	Tokens   *auth.Tokens
	Images   imageService
	// Registry receives the HTTP collectors and is served on /metrics.
	// A nil Registry gets a fresh one from NewRegistry.
	Registry         *prometheus.Registry
	MaxUploadBytes   int64
	TransformTimeout time.Duration
}

type Server struct {
	logger           zerolog.Logger
	accounts         accountService
	tokens           *auth.Tokens
	images           imageService
	metrics          *metrics
	tracer           trace.Tracer
	maxUploadBytes   int64
	transformTimeout time.Duration
	engine           *gin.Engine
}

func NewServer(opts Options) (*Server, error) {
	if opts.Accounts == nil || opts.Images == nil {
		return nil, errors.New("account and image services are required")
	}
	if opts.Tokens == nil {
		return nil, errors.New("token verifier is required")
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	if opts.TransformTimeout <= 0 {
		opts.TransformTimeout = defaultTransformTimeout
	}

	s := &Server{
		logger:           opts.Logger,
		accounts:         opts.Accounts,
		tokens:           opts.Tokens,
		images:           opts.Images,
		metrics:          newMetrics(opts.Registry),
		tracer:           otel.Tracer("image-processing-service/api"),
		maxUploadBytes:   opts.MaxUploadBytes,
		transformTimeout: opts.TransformTimeout,
		engine:           gin.New(),
	}
	s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	// Recovery runs innermost so panics still reach the logger, metrics
	// and span as a 500.
	s.engine.Use(
		s.withTracing(),
		s.metrics.withHTTPMetrics(),
		s.requestLogger(),
		gin.CustomRecovery(s.handlePanics),
	)

	s.engine.GET("/", s.handleRoot)
	s.engine.GET("/healthz", s.handleHealthz)
	s.engine.GET("/metrics", gin.WrapH(s.metrics.handler()))

	users := s.engine.Group("/users")
	{
		users.POST("/sign-up", s.jsonBodyLimit(), s.handleSignUp)
		users.GET("/:user_id", s.handleGetUser)
	}

	s.engine.POST("/auth/login", s.jsonBodyLimit(), s.handleLogin)

	images := s.engine.Group("/images")
	{
		images.GET("/", s.handleListImages)
		images.GET("/:image_id", s.handleGetImage)
		images.POST("/", requestSizeLimiter(s.maxUploadBytes), auth.Middleware(s.tokens), s.handleUpload)
		images.POST("/:image_id/transform", s.jsonBodyLimit(), auth.Middleware(s.tokens), s.handleTransform)
	}
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Welcome to Image Processing Service"})
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) jsonBodyLimit() gin.HandlerFunc {
	return requestSizeLimiter(maxJSONBodyBytes)
}

func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// decodeJSON reads exactly one JSON value from the request body.
func decodeJSON(c *gin.Context, into any) error {
	decoder := json.NewDecoder(c.Request.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return err
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}
