package cli

import (
	"github.com/joho/godotenv"
	"github.com/sattu-dealer/Image-Tools/internal/codec"
	"github.com/sattu-dealer/Image-Tools/internal/pipeline"
	"github.com/sattu-dealer/Image-Tools/internal/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type globalFlags struct {
	logLevel         string
	searchIterations int
	quality          int
}

func NewRootCmd() *cobra.Command {
	var flags globalFlags

	cmd := &cobra.Command{
		Use:   "imageproc",
		Short: "Resize, adjust and compress images to a size budget",
		Long: `imageproc runs the image processing pipeline locally.

Images are decoded, optionally resized and brightness-adjusted, then encoded
as jpeg, png or webp. With --target-kb the highest quality that fits the
budget is searched for lossy formats.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			return codec.Startup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			codec.Shutdown()
		},
	}

	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().IntVar(&flags.quality, "quality", codec.DefaultQuality, "Encode quality for jpeg and webp without --target-kb")
	cmd.PersistentFlags().IntVar(&flags.searchIterations, "search-iterations", pipeline.DefaultSearchIterations, "Bisection steps of the quality search")

	cmd.AddCommand(newProcessCmd(&flags))
	cmd.AddCommand(newBatchCmd(&flags))
	return cmd
}

func newProcessor(flags *globalFlags) (*pipeline.Processor, *zap.Logger, error) {
	logger, err := telemetry.NewLogger("imageproc", telemetry.LogConfig{Level: flags.logLevel, Development: true})
	if err != nil {
		return nil, nil, err
	}
	p, err := pipeline.NewDefaultProcessor(
		pipeline.WithLogger(logger),
		pipeline.WithSearchIterations(flags.searchIterations),
		pipeline.WithDefaultQuality(flags.quality),
	)
	if err != nil {
		return nil, nil, err
	}
	return p, logger, nil
}
