package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/ralt/repoindex/internal/generator"
	"github.com/ralt/repoindex/internal/models"
	"github.com/ralt/repoindex/internal/scanner"
	"github.com/ralt/repoindex/internal/txn"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// NewUploadCmd creates the upload command
func NewUploadCmd() *cobra.Command {
	var (
		override bool
		jobs     int
	)

	cmd := &cobra.Command{
		Use:   "upload <repository> <file-or-dir>...",
		Short: "Upload packages into a repository",
		Long: `Uploads package files into a configured repository and updates its
index. Directories are scanned recursively for packages of the repository
type. Uploads run concurrently; each one is its own transaction.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			gen, ok := a.registry.Get(args[0])
			if !ok {
				return models.Errorf(models.ErrInvalidConfig, "repository %q is not configured", args[0])
			}

			files, err := collectPackages(cmd.Context(), gen, args[1:])
			if err != nil {
				return err
			}
			if len(files) == 0 {
				logrus.Warn("No packages found")
				return nil
			}

			return runUploads(cmd.Context(), a.coordinator, gen, files, override, jobs)
		},
	}

	cmd.Flags().BoolVar(&override, "override", false, "Replace packages that are already indexed")
	cmd.Flags().IntVarP(&jobs, "jobs", "j", 4, "Number of concurrent uploads")

	return cmd
}

// collectPackages expands directories into the packages they contain that
// gen accepts. Explicit files are taken as they are.
func collectPackages(ctx context.Context, gen generator.Generator, paths []string) ([]string, error) {
	sc := scanner.NewFileSystemScanner()

	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}

		logrus.Infof("Scanning directory: %s", p)
		scanned, err := sc.Scan(ctx, p)
		if err != nil {
			return nil, err
		}
		for _, pkg := range scanned {
			if pkg.Type != gen.Type() {
				logrus.Debugf("Skipping %s package %s", pkg.Type, pkg.Path)
				continue
			}
			files = append(files, pkg.Path)
		}
	}
	return files, nil
}

func runUploads(ctx context.Context, coordinator *txn.Coordinator, gen generator.Generator, files []string, override bool, jobs int) error {
	if jobs < 1 {
		jobs = 1
	}

	var failed atomic.Int32
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(jobs)

	for _, file := range files {
		eg.Go(func() error {
			blob, err := os.ReadFile(file)
			if err != nil {
				return err
			}

			res, err := coordinator.Upload(ctx, gen, txn.UploadRequest{
				Blob:     blob,
				Filename: filepath.Base(file),
				Override: override,
			})
			if err != nil {
				// One bad package does not stop the others
				failed.Add(1)
				logrus.WithError(err).WithField("file", file).Error("Upload failed")
				return nil
			}

			logrus.WithFields(logrus.Fields{
				"file":     file,
				"key":      res.Key,
				"replaced": res.Replaced,
			}).Info("Package uploaded")
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return err
	}
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d uploads failed", n, len(files))
	}

	logrus.Infof("Uploaded %d packages to %s", len(files), gen.Config().Name)
	return nil
}
