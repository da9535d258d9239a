package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-stage-tracker/internal/event"
	"github.com/JakeFAU/realtime-stage-tracker/internal/ingest"
	"github.com/JakeFAU/realtime-stage-tracker/internal/pipeline"
)

const maxLineBytes = 4 << 20

type processOptions struct {
	pipelinePath string
	input        string
	table        bool
}

func newProcessCmd() *cobra.Command {
	opts := processOptions{}
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Runs a pipeline over JSON lines offline",
		Long: `Reads one JSON object per line, runs each through the pipeline and
prints the processed events as JSON lines. With --table it prints every
measured delta instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := pipeline.LoadFile(opts.pipelinePath, pipeline.DefaultRegistry(),
				pipeline.Env{Logger: zap.L().Named("filter"), Clock: ingest.SystemClock{}},
				pipeline.WithLogger(zap.L().Named("pipeline")),
			)
			if err != nil {
				return fmt.Errorf("load pipeline: %w", err)
			}

			in := cmd.InOrStdin()
			if opts.input != "" && opts.input != "-" {
				f, err := os.Open(opts.input)
				if err != nil {
					return fmt.Errorf("open input: %w", err)
				}
				defer func() { _ = f.Close() }()
				in = f
			}
			return runProcess(p, in, cmd.OutOrStdout(), opts.table)
		},
	}
	cmd.Flags().StringVar(&opts.pipelinePath, "pipeline", "", "pipeline definition file")
	cmd.Flags().StringVar(&opts.input, "input", "-", "JSON lines input file, - for stdin")
	cmd.Flags().BoolVar(&opts.table, "table", false, "print a delta table instead of JSON lines")
	_ = cmd.MarkFlagRequired("pipeline")
	return cmd
}

func runProcess(p *pipeline.Pipeline, in io.Reader, out io.Writer, asTable bool) error {
	var table *tablewriter.Table
	if asTable {
		table = tablewriter.NewWriter(out)
		table.Header("Line", "Last Step", "Delta", "Millis", "Tags")
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		ev, err := event.Parse([]byte(raw))
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		ev = p.Process(ev)

		if table == nil {
			body, err := ev.MarshalJSON()
			if err != nil {
				return fmt.Errorf("line %d: encode event: %w", line, err)
			}
			if _, err := fmt.Fprintln(out, string(body)); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			continue
		}

		deltas, last := p.Trace(ev)
		tags := strings.Join(ev.Tags(), ",")
		if len(deltas) == 0 {
			if err := table.Append(strconv.Itoa(line), last, "-", "-", tags); err != nil {
				return fmt.Errorf("append row: %w", err)
			}
			continue
		}
		for _, d := range deltas {
			if err := table.Append(strconv.Itoa(line), last, d.Label, strconv.FormatInt(d.Millis, 10), tags); err != nil {
				return fmt.Errorf("append row: %w", err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return fmt.Errorf("line %d exceeds %d bytes", line+1, maxLineBytes)
		}
		return fmt.Errorf("read input: %w", err)
	}
	if table != nil {
		if err := table.Render(); err != nil {
			return fmt.Errorf("render table: %w", err)
		}
	}
	return nil
}
