package cmd

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/realtime-stage-tracker/internal/pipeline"
)

func newLintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lint <pipeline.yaml>",
		Short: "Checks a pipeline definition",
		Long: `Parses the pipeline definition and reports unknown filter types,
invalid options and duplicate ids with their line numbers. Exits non-zero
when any error is found.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			issues, err := pipeline.LintFile(args[0], pipeline.DefaultRegistry())
			if err != nil {
				return fmt.Errorf("lint: %w", err)
			}
			return reportIssues(cmd.OutOrStdout(), args[0], issues)
		},
	}
}

func reportIssues(out io.Writer, path string, issues []pipeline.Issue) error {
	if len(issues) == 0 {
		if _, err := fmt.Fprintf(out, "%s: ok\n", path); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		return nil
	}
	table := tablewriter.NewWriter(out)
	table.Header("Line", "Severity", "Message")
	for _, issue := range issues {
		line := "-"
		if issue.Line > 0 {
			line = strconv.Itoa(issue.Line)
		}
		if err := table.Append(line, string(issue.Severity), issue.Message); err != nil {
			return fmt.Errorf("append row: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("render table: %w", err)
	}
	if pipeline.HasErrors(issues) {
		return fmt.Errorf("%s: pipeline definition has errors", path)
	}
	return nil
}
