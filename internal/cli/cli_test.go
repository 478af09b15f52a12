package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sattu-dealer/Image-Tools/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 5), G: uint8(y * 7), B: uint8(x * y), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestProcessCommand(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "photo.png")
	writePNG(t, in, 64, 48)
	outDir := filepath.Join(dir, "out")

	stdout, err := run(t, "process", "--in", in, "-o", outDir, "--width", "32", "--height", "24", "--brightness", "1.1", "--target-kb", "4", "--owner", "cli")
	require.NoError(t, err, stdout)

	var res result
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	assert.True(t, strings.HasPrefix(filepath.Base(res.Output), "photo-cli-"))
	assert.Equal(t, domain.FormatJPEG, res.Operations.Format)
	require.NotNil(t, res.Operations.Resize)
	require.NotNil(t, res.Operations.Adjustment)
	require.NotNil(t, res.Operations.Compression)
	assert.Equal(t, int64(4096), res.Operations.Compression.TargetSizeBytes)

	f, err := os.Open(res.Output)
	require.NoError(t, err)
	defer f.Close()
	cfg, err := jpeg.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Width)
	assert.Equal(t, 24, cfg.Height)
}

func TestProcessCommandRejectsBadOptions(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "photo.png")
	writePNG(t, in, 8, 8)

	_, err := run(t, "process", "--in", in, "-o", dir, "--format", "gif")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = run(t, "process", "--in", in, "-o", dir, "--target-kb", "0")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestBatchCommand(t *testing.T) {
	dir := t.TempDir()
	inDir := filepath.Join(dir, "in")
	require.NoError(t, os.MkdirAll(inDir, 0o755))
	for _, name := range []string{"a.png", "b.png", "c.png"} {
		writePNG(t, filepath.Join(inDir, name), 40, 30)
	}
	require.NoError(t, os.WriteFile(filepath.Join(inDir, "notes.txt"), []byte("skip me"), 0o644))
	outDir := filepath.Join(dir, "out")

	stdout, err := run(t, "batch", "--in-dir", inDir, "-o", outDir, "--format", "png", "--workers", "2")
	require.NoError(t, err, stdout)

	var results []result
	sc := bufio.NewScanner(strings.NewReader(stdout))
	for sc.Scan() {
		var res result
		require.NoError(t, json.Unmarshal(sc.Bytes(), &res))
		results = append(results, res)
	}
	require.Len(t, results, 3)
	for _, res := range results {
		assert.Empty(t, res.Error)
		assert.FileExists(t, res.Output)
		assert.Equal(t, domain.FormatPNG, res.Operations.Format)
	}

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestBatchCommandKeepsSameBaseNameOutputs(t *testing.T) {
	dir := t.TempDir()
	inDir := filepath.Join(dir, "in")
	require.NoError(t, os.MkdirAll(inDir, 0o755))
	names := []string{"photo.png", "photo.jpg", "photo.jpeg", "photo.webp"}
	for _, name := range names {
		writePNG(t, filepath.Join(inDir, name), 24, 24)
	}
	outDir := filepath.Join(dir, "out")

	for round := 0; round < 5; round++ {
		stdout, err := run(t, "batch", "--in-dir", inDir, "-o", outDir, "--format", "png", "-w", "4")
		require.NoError(t, err, stdout)
	}

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Len(t, entries, 5*len(names), "every input of every run keeps its own output")
}

func TestWriteNewRefusesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.png")
	require.NoError(t, writeNew(path, []byte("first")))
	require.Error(t, writeNew(path, []byte("second")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), data)
}

func TestBatchCommandReportsFailures(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "good.png"), 16, 16)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.jpg"), []byte("not a jpeg"), 0o644))

	stdout, err := run(t, "batch", "--in-dir", dir, "-o", filepath.Join(dir, "out"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 images failed")
	assert.Contains(t, stdout, `"error"`)
}

func TestListImages(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.JPG", "a.webp", "c.gif", "d.png"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	got, err := listImages(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.webp"),
		filepath.Join(dir, "b.JPG"),
		filepath.Join(dir, "d.png"),
	}, got)
}
