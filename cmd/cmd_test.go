package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const cliPipeline = `id: cli
filters:
  - id: stamp-received
    type: timing
    options:
      tracking_field: timestamps
      step_field: received
      timestamp_field: sent_at
  - id: stamp-done
    type: timing
    add_tag: [done]
    options:
      tracking_field: timestamps
      step_field: done
      timestamp_field: done_at
`

const cliInput = `{"sent_at":"2024-05-01T10:00:00Z","done_at":"2024-05-01T10:00:02.5Z"}

{"sent_at":"garbage","done_at":"2024-05-01T10:00:02.5Z"}
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestProcessJSONLines(t *testing.T) {
	path := writeFile(t, "pipeline.yaml", cliPipeline)

	out, err := execute(t, cliInput, "process", "--pipeline", path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2, "blank lines are skipped")
	require.Contains(t, lines[0], `"done-since_received":2500`)
	require.Contains(t, lines[0], `"tags":["done"]`)
	require.NotContains(t, lines[1], "since_", "an unparseable prior yields no delta")
	require.Contains(t, lines[1], "_ts_delta_unparseable_current_time")
}

func TestProcessTable(t *testing.T) {
	pipelinePath := writeFile(t, "pipeline.yaml", cliPipeline)
	inputPath := writeFile(t, "events.jsonl", cliInput)

	out, err := execute(t, "", "process", "--pipeline", pipelinePath, "--input", inputPath, "--table")
	require.NoError(t, err)
	require.Contains(t, out, "done-since_received")
	require.Contains(t, out, "2500")
}

func TestProcessRejectsNonObjectLine(t *testing.T) {
	path := writeFile(t, "pipeline.yaml", cliPipeline)

	_, err := execute(t, "{}\n[1,2]\n", "process", "--pipeline", path)
	require.ErrorContains(t, err, "line 2")
}

func TestProcessRequiresPipeline(t *testing.T) {
	_, err := execute(t, "", "process")
	require.ErrorContains(t, err, "pipeline")
}

func TestLint(t *testing.T) {
	valid := writeFile(t, "valid.yaml", cliPipeline)
	out, err := execute(t, "", "lint", valid)
	require.NoError(t, err)
	require.Contains(t, out, "ok")

	invalid := writeFile(t, "invalid.yaml", "id: bad\nfilters:\n  - id: a\n    type: mystery\n")
	out, err = execute(t, "", "lint", invalid)
	require.ErrorContains(t, err, "pipeline definition has errors")
	require.Contains(t, out, "mystery")

	_, err = execute(t, "", "lint")
	require.Error(t, err)
}

func TestSplitThenJoin(t *testing.T) {
	source := writeFile(t, "pipeline.yaml", cliPipeline)
	dir := filepath.Join(t.TempDir(), "parts")

	out, err := execute(t, "", "split", source, dir)
	require.NoError(t, err)
	require.Contains(t, out, filepath.Join(dir, "meta.yaml"))

	names, err := filepath.Glob(filepath.Join(dir, "filter_*.yaml"))
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join(dir, "filter_000.yaml"),
		filepath.Join(dir, "filter_001.yaml"),
	}, names)
	second, err := os.ReadFile(names[1])
	require.NoError(t, err)
	require.Contains(t, string(second), "id: stamp-done")
	require.NotContains(t, string(second), "stamp-received")

	joined := filepath.Join(t.TempDir(), "joined.yaml")
	out, err = execute(t, "", "join", dir, joined)
	require.NoError(t, err)
	require.Contains(t, out, joined+": ok")

	// The joined file drives the processor exactly like the original.
	out, err = execute(t, cliInput, "process", "--pipeline", joined)
	require.NoError(t, err)
	require.Contains(t, out, `"done-since_received":2500`)
}

func TestJoinLintsResult(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "meta.yaml"), []byte("id: broken\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "filter_000.yaml"), []byte("id: a\ntype: mystery\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "filter_001.yaml"), []byte("id: a\ntype: hoist\noptions:\n  source: payload\n"), 0o600))

	out, err := execute(t, "", "join", dir, filepath.Join(dir, "pipeline.yaml"))
	require.ErrorContains(t, err, "pipeline definition has errors")
	require.Contains(t, out, "mystery")
	require.Contains(t, out, "duplicate")
}

func TestJoinRequiresFilterFiles(t *testing.T) {
	_, err := execute(t, "", "join", t.TempDir())
	require.ErrorContains(t, err, "no filter_*.yaml files")
}
