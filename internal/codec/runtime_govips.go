//go:build govips && cgo

package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

var (
	startupOnce sync.Once
	shutdownMu  sync.Mutex
	started     bool
)

func init() {
	encoders[WEBP] = encodeWebP
}

func Startup() error {
	startupOnce.Do(func() {
		vips.Startup(&vips.Config{
			MaxCacheFiles: 0,
			MaxCacheMem:   128 * 1024 * 1024,
			MaxCacheSize:  100,
		})

		shutdownMu.Lock()
		started = true
		shutdownMu.Unlock()
	})
	return nil
}

func Shutdown() {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if !started {
		return
	}
	vips.Shutdown()
	started = false
}

// encodeWebP hands libvips a lossless PNG of the rendered pixels and
// exports it as webp.
func encodeWebP(w io.Writer, img image.Image, compress bool) error {
	if err := Startup(); err != nil {
		return err
	}

	var intermediate bytes.Buffer
	if err := png.Encode(&intermediate, img); err != nil {
		return fmt.Errorf("encode intermediate png: %w", err)
	}

	ref, err := vips.NewImageFromBuffer(intermediate.Bytes())
	if err != nil {
		return fmt.Errorf("load into vips: %w", err)
	}
	defer ref.Close()

	params := vips.NewWebpExportParams()
	if compress {
		params.Quality = compressJPEGQuality
	}
	data, _, err := ref.ExportWebp(params)
	if err != nil {
		return fmt.Errorf("export webp: %w", err)
	}
	_, err = w.Write(data)
	return err
}
