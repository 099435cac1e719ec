package cmd

import (
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/bundlesmith/bundlesmith/internal/config"
	bsm_fs "github.com/bundlesmith/bundlesmith/internal/fs"
	"github.com/bundlesmith/bundlesmith/internal/service"
)

func init() {
	cmd := &cobra.Command{
		Use:   "bundles",
		Short: "List the configured bundles.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.Header("Name", "Entry", "Output", "Inputs", "Requires", "Storage")

			for _, bundle := range cfg.SortedBundles() {
				var requires []string
				for _, req := range bundle.Requirements {
					if req.Bundle != nil {
						requires = append(requires, *req.Bundle)
					}
				}

				storage := ""
				switch {
				case bundle.ObjectStorage.AmazonS3 != nil:
					storage = "s3://" + bundle.ObjectStorage.AmazonS3.Bucket + "/" + bundle.ObjectStorage.AmazonS3.Key
				case bundle.ObjectStorage.FileSystemStorage != nil:
					storage = bundle.ObjectStorage.FileSystemStorage.Path
				}

				if err := table.Append(bundle.Name, bundle.Entry, bundle.Output, inputsCell(bundle), strings.Join(requires, ", "), storage); err != nil {
					return err
				}
			}

			return table.Render()
		},
	}

	RootCommand.AddCommand(cmd)
}

// inputsCell reports whether any of the bundle's source roots currently
// match at least one file.
func inputsCell(bundle *config.Bundle) string {
	for _, src := range bundle.Sources {
		m, err := bsm_fs.NewMatcher(src.IncludedFiles, src.ExcludedFiles)
		if err != nil {
			return "error"
		}
		found, err := bsm_fs.ContainsFiles(src.Path, m)
		if err != nil {
			return "error"
		}
		if found {
			return "yes"
		}
	}
	return "none"
}

func writeStatusTable(w io.Writer, statuses map[string]service.Status) {
	table := tablewriter.NewWriter(w)
	table.Header("Bundle", "State", "Duration", "Artifact")

	for _, name := range sortedKeys(statuses) {
		status := statuses[name]
		_ = table.Append(name, status.State.String(), status.Duration.Round(time.Millisecond).String(), status.Artifact)
	}

	_ = table.Render()
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
