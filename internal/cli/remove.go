package cli

import (
	"github.com/ralt/repoindex/internal/models"
	"github.com/ralt/repoindex/internal/txn"
	"github.com/ralt/repoindex/internal/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewRemoveCmd creates the remove command
func NewRemoveCmd() *cobra.Command {
	var (
		req          txn.RemoveRequest
		checksumFrom string
	)

	cmd := &cobra.Command{
		Use:   "remove <repository> <path>",
		Short: "Remove a package from a repository",
		Long: `Removes the package published at <path>, relative to the repository,
from every index it appears in and deletes it. Repositories that require
a checksum refuse the removal unless --checksum or --force is given.`,
		Args: cobra.ExactArgs(2),
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

			req.Target = args[1]
			if checksumFrom != "" {
				if req.Checksum, err = checksumOf(checksumFrom, req.ChecksumType); err != nil {
					return err
				}
			}
			res, err := a.coordinator.Remove(cmd.Context(), gen, req)
			if err != nil {
				return err
			}

			logrus.WithFields(logrus.Fields{
				"key":        res.Key,
				"identities": len(res.Identities),
			}).Info("Package removed")
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Checksum, "checksum", "", "Checksum of the package to remove")
	cmd.Flags().StringVar(&req.ChecksumType, "checksum-type", "sha256", "Checksum algorithm (md5, sha1, sha256, sha512)")
	cmd.Flags().StringVar(&checksumFrom, "checksum-from", "", "Local copy of the package to take the checksum from")
	cmd.Flags().BoolVar(&req.Force, "force", false, "Skip the checksum verification")
	cmd.MarkFlagsMutuallyExclusive("checksum", "checksum-from")

	return cmd
}

func checksumOf(path, alg string) (string, error) {
	sums, err := utils.CalculateChecksums(path)
	if err != nil {
		return "", err
	}
	sum, ok := sums.Get(alg)
	if !ok {
		return "", models.Errorf(models.ErrInvalidConfig, "unsupported checksum type %q", alg)
	}
	return sum, nil
}
