package deb

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ralt/repoindex/internal/models"
	"github.com/ralt/repoindex/internal/storage"
	"github.com/ralt/repoindex/internal/utils"
	"golang.org/x/sync/errgroup"
)

// ReleaseFileInfo contains information about a file in the release
type ReleaseFileInfo struct {
	// Path is relative to the dists/<codename> directory
	Path     string
	Checksum *utils.Checksum
}

// GenerateReleaseFile creates a Debian Release file
func GenerateReleaseFile(config *models.RepositoryConfig, files []ReleaseFileInfo, date time.Time) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Origin: %s\n", config.Origin)
	fmt.Fprintf(&buf, "Label: %s\n", config.Label)
	fmt.Fprintf(&buf, "Suite: %s\n", config.Suite)
	fmt.Fprintf(&buf, "Codename: %s\n", config.Codename)
	fmt.Fprintf(&buf, "Date: %s\n", date.UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "Architectures: %s\n", strings.Join(config.Arches, " "))
	fmt.Fprintf(&buf, "Components: %s\n", strings.Join(config.Components, " "))
	if config.Description != "" {
		fmt.Fprintf(&buf, "Description: %s\n", config.Description)
	}

	sections := []struct {
		name string
		sum  func(*utils.Checksum) string
	}{
		{"MD5Sum", func(c *utils.Checksum) string { return c.MD5 }},
		{"SHA1", func(c *utils.Checksum) string { return c.SHA1 }},
		{"SHA256", func(c *utils.Checksum) string { return c.SHA256 }},
		{"SHA512", func(c *utils.Checksum) string { return c.SHA512 }},
	}
	for _, section := range sections {
		fmt.Fprintf(&buf, "%s:\n", section.name)
		for _, file := range files {
			fmt.Fprintf(&buf, " %s %d %s\n", section.sum(file.Checksum), file.Checksum.Size, file.Path)
		}
	}

	return buf.Bytes()
}

// CalculateReleaseFileInfos checksums the index artifacts below distsKey in
// parallel. keys must be sorted; the result keeps their order.
func CalculateReleaseFileInfos(ctx context.Context, st storage.Storage, distsKey string, keys []string) ([]ReleaseFileInfo, error) {
	infos := make([]ReleaseFileInfo, len(keys))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, key := range keys {
		g.Go(func() error {
			data, err := st.Read(ctx, key)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", key, err)
			}
			infos[i] = ReleaseFileInfo{
				Path:     strings.TrimPrefix(key, distsKey+"/"),
				Checksum: utils.ChecksumsOf(data),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return infos, nil
}
