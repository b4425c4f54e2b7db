package storage

import (
	"context"
	"errors"
	"image"

	"github.com/patrickamowe/image-processing-service/internal/apperr"
	"github.com/patrickamowe/image-processing-service/internal/codec"
	"github.com/rs/zerolog"
)

type ReconcileInput struct {
	// OriginalKey is the record's live file.
	OriginalKey string
	Image       image.Image
	Format      codec.Format
	Compress    bool
}

type Reconciled struct {
	Key    string
	Format codec.Format
	Size   int64
	// Replaced is set when the rendering moved to a new key.
	Replaced bool
	// StaleKey is the original key when it could not be deleted after a
	// successful commit. The caller owns its cleanup.
	StaleKey string
}

// CommitFunc persists the new state of the record. It runs after the new
// file is written and before the stale one is deleted; an error rolls the
// file back.
type CommitFunc func(ctx context.Context, result Reconciled) error

// Reconciler writes renderings so that every record keeps exactly one live
// file. Callers must hold the record's lock for the whole call.
type Reconciler struct {
	backend Backend
	logger  zerolog.Logger
}

func NewReconciler(backend Backend, logger zerolog.Logger) *Reconciler {
	return &Reconciler{backend: backend, logger: logger}
}

func (r *Reconciler) Backend() Backend {
	return r.backend
}

// Reconcile encodes in.Image, writes it next to the original (same stem,
// new extension), runs commit and finally deletes the original if the key
// changed. Nothing is deleted before the new file and the commit both
// succeed.
func (r *Reconciler) Reconcile(ctx context.Context, in ReconcileInput, commit CommitFunc) (Reconciled, error) {
	data, err := codec.EncodeBytes(in.Image, in.Format, in.Compress)
	if err != nil {
		if errors.Is(err, apperr.ErrUnsupportedFormat) {
			return Reconciled{}, err
		}
		return Reconciled{}, apperr.New(apperr.ErrInternal, "encode rendered image", err)
	}

	newKey := ReplaceExtension(in.OriginalKey, in.Format.Extension())
	if _, err := CleanKey(newKey); err != nil {
		return Reconciled{}, apperr.Storage("invalid target key "+newKey, err)
	}

	prior, err := r.backend.Read(ctx, newKey)
	switch {
	case errors.Is(err, ErrObjectNotFound):
		prior = nil
	case err != nil:
		return Reconciled{}, apperr.Storage("read current file "+newKey, err)
	}

	if err := ctx.Err(); err != nil {
		return Reconciled{}, err
	}
	if err := r.backend.Write(ctx, newKey, data, in.Format.MIME()); err != nil {
		return Reconciled{}, apperr.Storage("write "+newKey, err)
	}

	result := Reconciled{
		Key:      newKey,
		Format:   in.Format,
		Size:     int64(len(data)),
		Replaced: newKey != in.OriginalKey,
	}

	if commit != nil {
		if err := commit(ctx, result); err != nil {
			r.rollback(ctx, newKey, prior, in.Format)
			return Reconciled{}, err
		}
	}

	if result.Replaced {
		if err := r.backend.Remove(ctx, in.OriginalKey); err != nil {
			r.logger.Warn().Err(err).Str("key", in.OriginalKey).Str("replacement", newKey).Msg("stale file not removed")
			result.StaleKey = in.OriginalKey
		}
	}

	r.logger.Debug().
		Str("key", result.Key).
		Str("format", in.Format.Dispatch()).
		Int64("bytes", result.Size).
		Bool("replaced", result.Replaced).
		Msg("rendering reconciled")
	return result, nil
}

// rollback restores key to what it held before the write.
func (r *Reconciler) rollback(ctx context.Context, key string, prior []byte, format codec.Format) {
	ctx = context.WithoutCancel(ctx)

	var err error
	if prior != nil {
		err = r.backend.Write(ctx, key, prior, format.MIME())
	} else {
		err = r.backend.Remove(ctx, key)
	}
	if err != nil {
		r.logger.Error().Err(err).Str("key", key).Msg("rollback after failed commit")
	}
}
