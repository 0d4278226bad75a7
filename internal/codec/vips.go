package codec

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/aliskhannn/image-transcoder/internal/model"
)

// Vips drives the vips command line tool for routes the Go decoders do not
// cover: camera RAW and vector sources, and mozjpeg-tuned or progressive JPEG.
type Vips struct {
	path    string
	workDir string
	timeout time.Duration
}

// NewVips creates a Vips runner. workDir may be empty.
func NewVips(path, workDir string, timeout time.Duration) *Vips {
	return &Vips{path: path, workDir: workDir, timeout: timeout}
}

// Available reports whether the vips binary can be found.
func (v *Vips) Available() bool {
	_, err := exec.LookPath(v.path)
	return err == nil
}

// ToPNG renders src (a RAW or vector file with extension ext) to a PNG.
func (v *Vips) ToPNG(ctx context.Context, src []byte, ext string) ([]byte, error) {
	dir, err := os.MkdirTemp(v.workDir, "vips-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "source."+ext)
	if err := os.WriteFile(in, src, 0o600); err != nil {
		return nil, fmt.Errorf("write source: %w", err)
	}

	out := filepath.Join(dir, "decoded.png")
	if err := v.run(ctx, "copy", in, out); err != nil {
		return nil, err
	}

	return os.ReadFile(out)
}

// EncodeJPEG encodes img as JPEG through vips with the mozjpeg and scan options implied by s.
func (v *Vips) EncodeJPEG(ctx context.Context, img image.Image, s model.Settings) ([]byte, error) {
	dir, err := os.MkdirTemp(v.workDir, "vips-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "pixels.png")
	f, err := os.Create(in)
	if err != nil {
		return nil, fmt.Errorf("create pixels file: %w", err)
	}
	enc := png.Encoder{CompressionLevel: png.NoCompression}
	if err := enc.Encode(f, img); err != nil {
		f.Close()
		return nil, fmt.Errorf("write pixels: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close pixels file: %w", err)
	}

	out := filepath.Join(dir, "encoded.jpg")
	if err := v.run(ctx, "copy", in, out+JPEGSuffix(s)); err != nil {
		return nil, err
	}

	return os.ReadFile(out)
}

// Strip rewrites src (a file with extension ext) without its metadata.
func (v *Vips) Strip(ctx context.Context, src []byte, ext string) ([]byte, error) {
	dir, err := os.MkdirTemp(v.workDir, "vips-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "source."+ext)
	if err := os.WriteFile(in, src, 0o600); err != nil {
		return nil, fmt.Errorf("write source: %w", err)
	}

	out := filepath.Join(dir, "stripped."+ext)
	if err := v.run(ctx, "copy", in, out+"[strip]"); err != nil {
		return nil, err
	}

	return os.ReadFile(out)
}

// JPEGSuffix builds the vips save options for a JPEG target, e.g. "[Q=80,strip]".
func JPEGSuffix(s model.Settings) string {
	opts := []string{fmt.Sprintf("Q=%d", s.Quality), "strip", "optimize_coding"}
	if s.Algorithm == model.AlgorithmMozJPEG {
		opts = append(opts, "trellis_quant", "overshoot_deringing", "quant_table=3")
	}
	switch s.WebOptimization {
	case model.WebOptimizationProgressive:
		opts = append(opts, "interlace")
	case model.WebOptimizationOptimizeScans:
		opts = append(opts, "interlace", "optimize_scans")
	}
	return "[" + strings.Join(opts, ",") + "]"
}

func (v *Vips) run(ctx context.Context, args ...string) error {
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, v.path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return fmt.Errorf("vips %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
		}
		return fmt.Errorf("vips %s: %w", args[0], err)
	}

	return nil
}
