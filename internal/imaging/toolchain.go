package imaging

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/timmy/embedr/internal/domain"
	"github.com/timmy/embedr/internal/logger"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const tiffMIME = "image/tiff"

// Dimensions is the pixel size of an image.
type Dimensions struct {
	Width  int
	Height int
}

// Toolchain converts sources to uncompressed TIFF in-process and
// compresses TIFF to JPEG 2000 with an external compressor binary.
type Toolchain struct {
	compressorPath string
	timeout        time.Duration
}

// NewToolchain creates a toolchain invoking the compressor at compressorPath.
func NewToolchain(compressorPath string, timeout time.Duration) *Toolchain {
	if compressorPath == "" {
		compressorPath = "kdu_compress"
	}
	return &Toolchain{compressorPath: compressorPath, timeout: timeout}
}

// Transcode converts the file at path to an uncompressed TIFF and returns its path.
// TIFF sources are renamed in place. The source file is consumed either way.
func (t *Toolchain) Transcode(ctx context.Context, path string) (string, error) {
	out := path + ".tif"

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to detect format: %w", err)
	}
	if mtype.Is(tiffMIME) {
		if err := os.Rename(path, out); err != nil {
			return "", fmt.Errorf("failed to move tiff source: %w", err)
		}
		return out, nil
	}

	logger.CtxDebug(ctx, "Transcoding %s source to TIFF", mtype.String())

	in, err := os.Open(path)
	if err != nil {
		return "", err
	}
	img, format, err := image.Decode(in)
	in.Close()
	if err != nil {
		return "", fmt.Errorf("failed to decode %s source: %w", mtype.String(), err)
	}

	f, err := os.Create(out)
	if err != nil {
		return "", err
	}
	if err := tiff.Encode(f, img, &tiff.Options{Compression: tiff.Uncompressed}); err != nil {
		f.Close()
		os.Remove(out)
		return "", fmt.Errorf("failed to encode %s as tiff: %w", format, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(out)
		return "", err
	}

	os.Remove(path)
	return out, nil
}

// Probe reads the width and height of the image at path.
func (t *Toolchain) Probe(ctx context.Context, path string) (Dimensions, error) {
	f, err := os.Open(path)
	if err != nil {
		return Dimensions{}, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return Dimensions{}, fmt.Errorf("%w: %v", domain.ErrUnparseableDimensions, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Dimensions{}, fmt.Errorf("%w: %dx%d", domain.ErrUnparseableDimensions, cfg.Width, cfg.Height)
	}
	return Dimensions{Width: cfg.Width, Height: cfg.Height}, nil
}

// Compress encodes the TIFF at path to JPEG 2000 with profile and returns the output path.
func (t *Toolchain) Compress(ctx context.Context, path string, profile Profile) (string, error) {
	out := strings.TrimSuffix(path, ".tif") + ".jp2"

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, t.compressorPath, profile.Args(path, out)...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		os.Remove(out)
		return "", fmt.Errorf("compression failed: %w\nOutput: %s", err, string(output))
	}

	info, err := os.Stat(out)
	if err != nil {
		return "", fmt.Errorf("compressed output not found: %w", err)
	}
	if info.Size() == 0 {
		os.Remove(out)
		return "", fmt.Errorf("compressed output %s is empty", out)
	}
	return out, nil
}
