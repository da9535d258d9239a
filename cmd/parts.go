package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/realtime-stage-tracker/internal/pipeline"
)

const (
	headerPartName = "meta.yaml"
	filterPartGlob = "filter_*.yaml"
)

func newSplitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "split <pipeline.yaml> [dir]",
		Short: "Splits a pipeline definition into one file per filter",
		Long: `Writes the pipeline header to meta.yaml and every filter entry to its own
numbered filter_NNN.yaml file in dir (default: the current directory).
Existing files with the same names are overwritten.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 2 {
				dir = args[1]
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("split: %w", err)
			}
			header, filters, err := pipeline.SplitDefinition(data)
			if err != nil {
				return fmt.Errorf("split %s: %w", args[0], err)
			}
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return fmt.Errorf("split: %w", err)
			}
			out := cmd.OutOrStdout()
			if err := writePart(out, filepath.Join(dir, headerPartName), header); err != nil {
				return err
			}
			for i, part := range filters {
				name := filepath.Join(dir, fmt.Sprintf("filter_%03d.yaml", i))
				if err := writePart(out, name, part); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newJoinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join [dir] [out]",
		Short: "Joins split filter files back into one pipeline definition",
		Long: `Reads meta.yaml (optional) and every filter_*.yaml file in dir in name
order, writes the combined definition to out (default: pipeline.yaml) and
lints the result. Exits non-zero when the joined definition has errors.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, target := ".", "pipeline.yaml"
			if len(args) > 0 {
				dir = args[0]
			}
			if len(args) > 1 {
				target = args[1]
			}

			header, err := os.ReadFile(filepath.Join(dir, headerPartName))
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("join: %w", err)
			}
			names, err := filepath.Glob(filepath.Join(dir, filterPartGlob))
			if err != nil {
				return fmt.Errorf("join: %w", err)
			}
			if len(names) == 0 {
				return fmt.Errorf("join: no %s files in %s", filterPartGlob, dir)
			}
			sort.Strings(names)

			parts := make([][]byte, 0, len(names))
			for _, name := range names {
				part, err := os.ReadFile(name)
				if err != nil {
					return fmt.Errorf("join: %w", err)
				}
				parts = append(parts, part)
			}
			joined, err := pipeline.JoinDefinition(header, parts)
			if err != nil {
				return fmt.Errorf("join %s: %w", dir, err)
			}
			if err := writePart(cmd.OutOrStdout(), target, joined); err != nil {
				return err
			}

			issues, err := pipeline.LintFile(target, pipeline.DefaultRegistry())
			if err != nil {
				return fmt.Errorf("join: %w", err)
			}
			return reportIssues(cmd.OutOrStdout(), target, issues)
		},
	}
}

func writePart(out io.Writer, path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if _, err := fmt.Fprintf(out, "wrote %s\n", path); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
