package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newProcessCmd(global *globalFlags) *cobra.Command {
	var (
		in    string
		flags processFlags
	)

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Process a single image",
		Example: `  # Convert to webp under 50KB
  imageproc process --in photo.png --format webp --target-kb 50

  # Resize and brighten
  imageproc process --in photo.jpg --width 800 --height 600 --brightness 1.2 -o out/`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options(cmd)
			if err != nil {
				return err
			}
			p, logger, err := newProcessor(global)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			res, err := processFile(cmd.Context(), p, in, flags.outDir, flags.owner, opts)
			if err != nil {
				logger.Error("processing failed", zap.String("input", in), zap.Error(err))
				return fmt.Errorf("process %s: %w", in, err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}

	cmd.Flags().StringVarP(&in, "in", "i", "", "Input image (jpeg, png or webp)")
	_ = cmd.MarkFlagRequired("in")
	flags.register(cmd)
	return cmd
}
