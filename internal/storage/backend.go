// Package storage keeps the single live file of every image record and
// replaces it safely when a transform changes its encoding.
package storage

import (
	"context"
	"errors"
	"path"
	"strings"
)

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrInvalidKey     = errors.New("invalid object key")
)

// Backend stores opaque objects under slash separated keys.
type Backend interface {
	Read(ctx context.Context, key string) ([]byte, error)
	// Write replaces key atomically: readers see the old object or the new
	// one, never a partial write.
	Write(ctx context.Context, key string, data []byte, contentType string) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Size(ctx context.Context, key string) (int64, error)
}

// CleanKey normalises key and rejects keys that escape the storage root.
func CleanKey(key string) (string, error) {
	key = strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	if key == "" || strings.HasPrefix(key, "/") {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(key)
	if cleaned != key || cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}

// ReplaceExtension swaps the extension of key for suffix.
func ReplaceExtension(key, suffix string) string {
	return strings.TrimSuffix(key, path.Ext(key)) + "." + strings.TrimPrefix(suffix, ".")
}
