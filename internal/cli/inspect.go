package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/ralt/repoindex/internal/models"
	"github.com/ralt/repoindex/internal/repository"
	"github.com/ralt/repoindex/internal/scanner"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// inspection is what inspect prints for a package
type inspection struct {
	Type         string            `yaml:"type"`
	Name         string            `yaml:"name"`
	Version      string            `yaml:"version"`
	Architecture string            `yaml:"architecture,omitempty"`
	Description  string            `yaml:"description,omitempty"`
	Maintainer   string            `yaml:"maintainer,omitempty"`
	Homepage     string            `yaml:"homepage,omitempty"`
	License      string            `yaml:"license,omitempty"`
	Dependencies []string          `yaml:"dependencies,omitempty"`
	Identities   []string          `yaml:"identities"`
	Size         int64             `yaml:"size"`
	Checksums    map[string]string `yaml:"checksums"`
}

// NewInspectCmd creates the inspect command
func NewInspectCmd() *cobra.Command {
	var (
		pkgType string
		arches  []string
	)

	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Print the metadata extracted from a package",
		Long: `Extracts a package the way an upload would and prints its metadata and
the identities it would be indexed under. No configuration is needed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := resolveType(args[0], pkgType)
			if err != nil {
				return err
			}

			gen, err := repository.NewGenerator(&models.RepositoryConfig{
				Name:   "inspect",
				Type:   typ.String(),
				Arches: arches,
			})
			if err != nil {
				return err
			}

			blob, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			meta, err := gen.Extract(blob)
			if err != nil {
				return err
			}

			return printInspection(cmd.OutOrStdout(), typ, meta)
		},
	}

	cmd.Flags().StringVarP(&pkgType, "type", "t", "", "Package type (deb, rpm, nuget), detected when empty")
	cmd.Flags().StringSliceVar(&arches, "arch", []string{"amd64", "arm64", "i386"}, "Debian architectures the package may target")

	return cmd
}

func resolveType(path, name string) (scanner.PackageType, error) {
	if name != "" {
		typ, err := scanner.ParseType(name)
		if err != nil {
			return scanner.TypeUnknown, models.Wrap(models.ErrInvalidConfig, "", err)
		}
		return typ, nil
	}

	typ, err := scanner.DetectPackageType(path)
	if err != nil {
		return scanner.TypeUnknown, err
	}
	if typ == scanner.TypeUnknown {
		return typ, models.Errorf(models.ErrInvalidPackageFormat, "cannot detect the type of %s, use --type", path)
	}
	return typ, nil
}

func printInspection(w io.Writer, typ scanner.PackageType, meta *models.PackageMetadata) error {
	out := inspection{
		Type:         typ.String(),
		Name:         meta.Name,
		Version:      meta.Version,
		Architecture: meta.Architecture,
		Description:  meta.Description,
		Maintainer:   meta.Maintainer,
		Homepage:     meta.Homepage,
		License:      meta.License,
		Dependencies: meta.Dependencies,
		Size:         meta.Size,
		Checksums: map[string]string{
			"md5":    meta.MD5Sum,
			"sha1":   meta.SHA1Sum,
			"sha256": meta.SHA256Sum,
			"sha512": meta.SHA512Sum,
		},
	}
	for _, id := range meta.Identities() {
		out.Identities = append(out.Identities, id.String())
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("failed to print metadata: %w", err)
	}
	return enc.Close()
}
