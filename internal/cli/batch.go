package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var batchExtensions = map[string]bool{".jpeg": true, ".jpg": true, ".png": true, ".webp": true}

func newBatchCmd(global *globalFlags) *cobra.Command {
	var (
		inDir   string
		workers int
		flags   processFlags
	)

	cmd := &cobra.Command{
		Use:     "batch",
		Short:   "Process every image in a directory in parallel",
		Example: `  imageproc batch --in-dir photos/ --format jpeg --target-kb 100 -o out/`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options(cmd)
			if err != nil {
				return err
			}
			inputs, err := listImages(inDir)
			if err != nil {
				return err
			}
			if len(inputs) == 0 {
				return fmt.Errorf("no jpeg, png or webp files in %s", inDir)
			}

			p, logger, err := newProcessor(global)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			pool, err := ants.NewPool(max(1, workers), ants.WithPreAlloc(true))
			if err != nil {
				return fmt.Errorf("create worker pool: %w", err)
			}
			defer pool.Release()

			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				results = make([]result, 0, len(inputs))
				failed  int
			)
			for _, path := range inputs {
				wg.Add(1)
				submitErr := pool.Submit(func() {
					defer wg.Done()
					res, err := processFile(cmd.Context(), p, path, flags.outDir, flags.owner, opts)
					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						logger.Warn("processing failed", zap.String("input", path), zap.Error(err))
						res.Error = err.Error()
						failed++
					}
					results = append(results, res)
				})
				if submitErr != nil {
					wg.Done()
					return fmt.Errorf("submit %s: %w", path, submitErr)
				}
			}
			wg.Wait()

			sort.Slice(results, func(i, j int) bool { return results[i].Input < results[j].Input })
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, res := range results {
				if err := enc.Encode(res); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d images failed", failed, len(inputs))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&inDir, "in-dir", "", "Directory of input images")
	cmd.Flags().IntVarP(&workers, "workers", "w", runtime.NumCPU(), "Images processed concurrently")
	_ = cmd.MarkFlagRequired("in-dir")
	flags.register(cmd)
	return cmd
}

func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !batchExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}
