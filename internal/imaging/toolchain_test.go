package imaging

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/embedr/internal/domain"
	"golang.org/x/image/tiff"
)

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func TestDefaultProfileArgs(t *testing.T) {
	args := DefaultProfile().Args("in.tif", "out.jp2")

	assert.Equal(t, []string{
		"-i", "in.tif",
		"-o", "out.jp2",
		"-rate", "0.5",
		"Clayers=1",
		"Clevels=7",
		"Cprecincts={256,256},{256,256},{256,256},{128,128},{128,128},{64,64},{64,64},{32,32},{16,16}",
		"Corder=RPCL",
		"ORGgen_plt=yes",
		"ORGtparts=R",
		"Cblk={64,64}",
		"Cuse_sop=yes",
	}, args)
}

func TestTranscodeConvertsPNG(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "A_0")
	writePNG(t, src, 7, 5)

	tc := NewToolchain("", 0)
	out, err := tc.Transcode(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, src+".tif", out)
	assert.NoFileExists(t, src)

	dims, err := tc.Probe(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, Dimensions{Width: 7, Height: 5}, dims)
}

func TestTranscodeKeepsTIFF(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "A_1")
	f, err := os.Create(src)
	require.NoError(t, err)
	require.NoError(t, tiff.Encode(f, image.NewGray(image.Rect(0, 0, 3, 4)), nil))
	require.NoError(t, f.Close())

	out, err := NewToolchain("", 0).Transcode(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, src+".tif", out)
	assert.FileExists(t, out)
}

func TestProbeRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.tif")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0o644))

	_, err := NewToolchain("", 0).Probe(context.Background(), path)
	assert.ErrorIs(t, err, domain.ErrUnparseableDimensions)
}

func TestCompressRunsCompressor(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "fake_compress")
	// Copies -i <in> to -o <out>
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\ncp \"$2\" \"$4\"\n"), 0o755))

	in := filepath.Join(dir, "A.tif")
	require.NoError(t, os.WriteFile(in, []byte("tiff-bytes"), 0o644))

	out, err := NewToolchain(script, 0).Compress(context.Background(), in, DefaultProfile())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "A.jp2"), out)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "tiff-bytes", string(data))
}

func TestCompressFailure(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "failing_compress")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho boom\nexit 3\n"), 0o755))

	in := filepath.Join(dir, "A.tif")
	require.NoError(t, os.WriteFile(in, []byte("x"), 0o644))

	_, err := NewToolchain(script, 0).Compress(context.Background(), in, DefaultProfile())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
