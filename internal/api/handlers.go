package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickamowe/image-processing-service/internal/apperr"
	"github.com/patrickamowe/image-processing-service/internal/auth"
	"github.com/patrickamowe/image-processing-service/internal/domain"
)

type imageResponse struct {
	ID        int64                `json:"id"`
	URL       string               `json:"url"`
	Metadata  domain.ImageMetadata `json:"meta_data"`
	CreatedAt time.Time            `json:"created_at"`
}

func toImageResponse(img domain.Image) imageResponse {
	return imageResponse{ID: img.ID, URL: img.URL, Metadata: img.Metadata, CreatedAt: img.CreatedAt}
}

func (s *Server) handleSignUp(c *gin.Context) {
	var req domain.SignUpRequest
	if err := decodeJSON(c, &req); err != nil {
		s.respondError(c, bodyError(err))
		return
	}

	user, err := s.accounts.SignUp(c.Request.Context(), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (s *Server) handleGetUser(c *gin.Context) {
	userID, err := pathID(c, "user_id")
	if err != nil {
		s.respondError(c, err)
		return
	}

	user, err := s.accounts.GetUser(c.Request.Context(), userID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) handleLogin(c *gin.Context) {
	username := c.PostForm("username")
	password := c.PostForm("password")
	if username == "" || password == "" {
		s.respondError(c, apperr.Validation("credentials", "username and password form fields are required"))
		return
	}

	token, err := s.accounts.Login(c.Request.Context(), username, password)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, token)
}

func (s *Server) handleUpload(c *gin.Context) {
	claims, ok := auth.CurrentUser(c)
	if !ok {
		s.respondError(c, apperr.Unauthorized("not authenticated"))
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		s.respondError(c, bodyError(err))
		return
	}
	file, err := header.Open()
	if err != nil {
		s.respondError(c, apperr.New(apperr.ErrInternal, "open uploaded file", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.respondError(c, apperr.New(apperr.ErrInternal, "read uploaded file", err))
		return
	}

	img, err := s.images.Upload(c.Request.Context(), claims.UserID, header.Filename, data)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toImageResponse(img))
}

func (s *Server) handleGetImage(c *gin.Context) {
	imageID, err := pathID(c, "image_id")
	if err != nil {
		s.respondError(c, err)
		return
	}

	img, err := s.images.Get(c.Request.Context(), imageID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toImageResponse(img))
}

func (s *Server) handleListImages(c *gin.Context) {
	pageNo, err := queryInt(c, "page_no", 1)
	if err != nil {
		s.respondError(c, err)
		return
	}
	pageLimit, err := queryInt(c, "page_limit", domain.DefaultPageLimit)
	if err != nil {
		s.respondError(c, err)
		return
	}

	imgs, err := s.images.List(c.Request.Context(), domain.ListQuery{PageNo: pageNo, PageLimit: pageLimit})
	if err != nil {
		s.respondError(c, err)
		return
	}
	out := make([]imageResponse, 0, len(imgs))
	for _, img := range imgs {
		out = append(out, toImageResponse(img))
	}
	c.JSON(http.StatusOK, gin.H{"images": out})
}

func (s *Server) handleTransform(c *gin.Context) {
	claims, ok := auth.CurrentUser(c)
	if !ok {
		s.respondError(c, apperr.Unauthorized("not authenticated"))
		return
	}
	imageID, err := pathID(c, "image_id")
	if err != nil {
		s.respondError(c, err)
		return
	}

	var req domain.TransformRequest
	if err := decodeJSON(c, &req); err != nil {
		s.respondError(c, bodyError(err))
		return
	}
	if req == nil {
		s.respondError(c, apperr.Validation("body", "expected a JSON object of transformations"))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.transformTimeout)
	defer cancel()

	img, err := s.images.Transform(ctx, claims.UserID, imageID, req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toImageResponse(img))
}

func pathID(c *gin.Context, name string) (int64, error) {
	value, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || value < 1 {
		return 0, apperr.Validation(name, "must be a positive integer")
	}
	return value, nil
}

func queryInt(c *gin.Context, name string, fallback int) (int, error) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validation(name, "must be an integer")
	}
	return value, nil
}

// bodyError keeps oversized bodies distinct and reports everything else as
// a malformed request.
func bodyError(err error) error {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return err
	case errors.Is(err, http.ErrMissingFile):
		return apperr.Validation("file", "is required")
	}
	return &apperr.Error{Kind: apperr.ErrValidation, Key: "body", Message: err.Error(), Cause: err}
}
