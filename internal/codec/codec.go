// Package codec performs pixel work for the executor: decode by route,
// resize, and encode with a resolved algorithm and quality.
package codec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-transcoder/internal/model"
)

// ErrVipsUnavailable is returned when a route needs vips and none is configured.
var ErrVipsUnavailable = errors.New("vips is not available")

// Options configures a Codec.
type Options struct {
	MaxPixels int64         // decoded area ceiling, 0 = unlimited
	VipsPath  string        // empty disables the vips routes
	WorkDir   string        // temp directory for vips, empty = os.TempDir()
	Timeout   time.Duration // per vips invocation, 0 = no timeout
}

// Codec decodes, resizes and encodes images.
type Codec struct {
	maxPixels int64
	vips      *Vips
}

// New creates a Codec.
func New(opts Options) *Codec {
	c := &Codec{maxPixels: opts.MaxPixels}
	if opts.VipsPath != "" {
		c.vips = NewVips(opts.VipsPath, opts.WorkDir, opts.Timeout)
	}
	return c
}

// Decode turns src into pixels using the decode route of its format.
// Orientation metadata is applied to the pixels so it survives metadata stripping.
func (c *Codec) Decode(ctx context.Context, route model.Route, format model.FormatID, src []byte) (image.Image, error) {
	switch route {
	case model.RouteRaster:
		return c.decodeRaster(src)
	case model.RouteVector, model.RouteRaw:
		if c.vips == nil {
			return nil, encodeFailure("decode "+string(route), ErrVipsUnavailable)
		}
		rendered, err := c.vips.ToPNG(ctx, src, string(format))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, corruptInput("decode "+string(route), err)
		}
		return c.decodeRaster(rendered)
	default:
		return nil, encodeFailure("decode", fmt.Errorf("unknown route %q", route))
	}
}

func (c *Codec) decodeRaster(src []byte) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(src))
	if err != nil {
		return nil, corruptInput("decode config", err)
	}
	if err := c.checkPixels(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return nil, corruptInput("decode", err)
	}
	return img, nil
}

func (c *Codec) checkPixels(w, h int) error {
	if w <= 0 || h <= 0 {
		return corruptInput("decode config", fmt.Errorf("invalid dimensions %dx%d", w, h))
	}
	if c.maxPixels > 0 && int64(w)*int64(h) > c.maxPixels {
		return resourceLimit("decode config", fmt.Errorf("%dx%d exceeds %d pixels", w, h, c.maxPixels))
	}
	return nil
}

// Resize applies the resize policy. Images are never upscaled by a max-dimension policy.
func Resize(img image.Image, p model.ResizePolicy) image.Image {
	if !p.Active() {
		return img
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	switch p.Mode {
	case model.ResizePercentage:
		if p.Value >= 100 {
			return img
		}
		nw := int(math.Max(1, math.Round(float64(w)*float64(p.Value)/100)))
		return imaging.Resize(img, nw, 0, imaging.Lanczos)
	case model.ResizeMaxDimension:
		if p.IgnoreAspect {
			return imaging.Resize(img, p.Value, p.Value, imaging.Lanczos)
		}
		if w <= p.Value && h <= p.Value {
			return img
		}
		return imaging.Fit(img, p.Value, p.Value, imaging.Lanczos)
	default:
		return img
	}
}

// Encode renders img in the target format with the resolved algorithm and quality.
// Re-encoding never carries source metadata, so metadata stripping is implicit on
// this path; the vips path strips explicitly.
func (c *Codec) Encode(ctx context.Context, img image.Image, s model.Settings) ([]byte, error) {
	var buf bytes.Buffer

	switch s.TargetFormat {
	case "jpeg":
		flat := Flatten(img)
		if NeedsVipsJPEG(s) {
			return c.encodeVipsJPEG(ctx, flat, s)
		}
		if err := imaging.Encode(&buf, flat, imaging.JPEG, imaging.JPEGQuality(s.Quality)); err != nil {
			return nil, encodeFailure("encode jpeg", err)
		}
	case "png":
		level := png.DefaultCompression
		if s.Algorithm == model.AlgorithmMaxCompression {
			level = png.BestCompression
		}
		if err := imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(level)); err != nil {
			return nil, encodeFailure("encode png", err)
		}
	case "webp":
		opts := &webp.Options{Lossless: s.Algorithm == model.AlgorithmLossless, Quality: float32(s.Quality)}
		if err := webp.Encode(&buf, img, opts); err != nil {
			return nil, encodeFailure("encode webp", err)
		}
	case "gif":
		if err := imaging.Encode(&buf, img, imaging.GIF, imaging.GIFNumColors(256)); err != nil {
			return nil, encodeFailure("encode gif", err)
		}
	case "tiff":
		if err := imaging.Encode(&buf, img, imaging.TIFF); err != nil {
			return nil, encodeFailure("encode tiff", err)
		}
	case "bmp":
		if err := imaging.Encode(&buf, Flatten(img), imaging.BMP); err != nil {
			return nil, encodeFailure("encode bmp", err)
		}
	default:
		return nil, encodeFailure("encode", fmt.Errorf("no encoder for %q", s.TargetFormat))
	}

	return buf.Bytes(), nil
}

// NeedsVipsJPEG reports whether a JPEG target requires vips: mozjpeg tuning
// and progressive scans are not available in the standard encoder.
func NeedsVipsJPEG(s model.Settings) bool {
	return s.Algorithm == model.AlgorithmMozJPEG ||
		s.WebOptimization == model.WebOptimizationProgressive ||
		s.WebOptimization == model.WebOptimizationOptimizeScans
}

// encodeVipsJPEG never falls back to the standard encoder, since the result
// would not match the recorded settings.
func (c *Codec) encodeVipsJPEG(ctx context.Context, img image.Image, s model.Settings) ([]byte, error) {
	if c.vips == nil {
		return nil, encodeFailure("encode jpeg "+string(s.Algorithm), ErrVipsUnavailable)
	}
	out, err := c.vips.EncodeJPEG(ctx, img, s)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, encodeFailure("encode jpeg "+string(s.Algorithm), err)
	}
	zlog.Logger.Debug().Str("algorithm", string(s.Algorithm)).Str("web_optimization", string(s.WebOptimization)).Msg("jpeg encoded through vips")
	return out, nil
}
