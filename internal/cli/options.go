package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sattu-dealer/Image-Tools/internal/domain"
	"github.com/sattu-dealer/Image-Tools/internal/pipeline"
	"github.com/spf13/cobra"
)

// processFlags are the per-image options shared by process and batch.
type processFlags struct {
	outDir     string
	format     string
	width      int
	height     int
	brightness float64
	contrast   float64
	targetKB   float64
	owner      string
}

func (f *processFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.outDir, "out-dir", "o", ".", "Directory for processed images")
	cmd.Flags().StringVarP(&f.format, "format", "f", string(domain.DefaultFormat), "Output format: jpeg, png or webp")
	cmd.Flags().IntVar(&f.width, "width", 0, "Target width; resize needs both width and height")
	cmd.Flags().IntVar(&f.height, "height", 0, "Target height; resize needs both width and height")
	cmd.Flags().Float64Var(&f.brightness, "brightness", 1, "Brightness factor, 1 keeps the image unchanged")
	cmd.Flags().Float64Var(&f.contrast, "contrast", 0, "Contrast value, recorded but not applied")
	cmd.Flags().Float64Var(&f.targetKB, "target-kb", 0, "Maximum output size in KB for jpeg and webp")
	cmd.Flags().StringVar(&f.owner, "owner", "local", "Owner id embedded in output names")
}

// options only sets the optional fields whose flags were given.
func (f *processFlags) options(cmd *cobra.Command) (domain.Options, error) {
	opts := domain.Options{
		Format: domain.Format(f.format),
		Width:  f.width,
		Height: f.height,
	}
	if cmd.Flags().Changed("brightness") {
		v := f.brightness
		opts.Brightness = &v
	}
	if cmd.Flags().Changed("contrast") {
		v := f.contrast
		opts.Contrast = &v
	}
	if cmd.Flags().Changed("target-kb") {
		v := int64(f.targetKB * 1024)
		opts.TargetSizeBytes = &v
	}
	return opts.Normalized()
}

type result struct {
	Input      string                  `json:"input"`
	Output     string                  `json:"output,omitempty"`
	Bytes      int                     `json:"bytes,omitempty"`
	Width      int                     `json:"width,omitempty"`
	Height     int                     `json:"height,omitempty"`
	Operations domain.OperationsRecord `json:"operations"`
	Error      string                  `json:"error,omitempty"`
}

func processFile(ctx context.Context, p *pipeline.Processor, path, outDir, owner string, opts domain.Options) (result, error) {
	res := result{Input: path}
	data, err := os.ReadFile(path)
	if err != nil {
		return res, fmt.Errorf("read %s: %w", path, err)
	}

	out, err := p.Process(ctx, domain.ProcessingRequest{
		ImageBytes:   data,
		OriginalName: filepath.Base(path),
		OwnerID:      owner,
		Options:      opts,
	})
	if err != nil {
		return res, err
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return res, fmt.Errorf("create output dir: %w", err)
	}
	dest := filepath.Join(outDir, out.FileName)
	if err := writeNew(dest, out.Data); err != nil {
		return res, fmt.Errorf("write %s: %w", dest, err)
	}

	res.Output = dest
	res.Bytes = len(out.Data)
	res.Width = out.Width
	res.Height = out.Height
	res.Operations = out.Operations
	return res, nil
}

// writeNew refuses to replace an existing file so one output can never
// silently overwrite another.
func writeNew(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}
