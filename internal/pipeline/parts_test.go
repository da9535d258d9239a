package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestSplitDefinitionKeepsEntriesVerbatim(t *testing.T) {
	t.Parallel()

	src := "id: main\nowner: ops\nfilters:\n  - id: a\n    type: hoist\n    colour: blue\n  - id: b\n    type: timing\n"
	header, filters, err := SplitDefinition([]byte(src))
	require.NoError(t, err)
	require.Equal(t, "id: main\nowner: ops\n", string(header))
	require.Len(t, filters, 2)
	require.Equal(t, "id: a\ntype: hoist\ncolour: blue\n", string(filters[0]))
	require.Equal(t, "id: b\ntype: timing\n", string(filters[1]))

	joined, err := JoinDefinition(header, filters)
	require.NoError(t, err)
	var want, got map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(src), &want))
	require.NoError(t, yaml.Unmarshal(joined, &got))
	require.Equal(t, want, got)

	// Unknown keys come back so lint can still point at them.
	issues := Lint(joined, nil)
	require.NotEmpty(t, issues)
}

func TestSplitDefinitionRejectsBadShapes(t *testing.T) {
	t.Parallel()

	_, _, err := SplitDefinition([]byte("- just\n- a list\n"))
	require.ErrorContains(t, err, "must be a mapping")

	_, _, err = SplitDefinition([]byte("id: x\nfilters: nope\n"))
	require.ErrorContains(t, err, "filters must be a list")

	header, filters, err := SplitDefinition([]byte("id: x\n"))
	require.NoError(t, err)
	require.Empty(t, filters)
	require.Equal(t, "id: x\n", string(header))
}

func TestJoinDefinitionWithoutHeader(t *testing.T) {
	t.Parallel()

	joined, err := JoinDefinition(nil, [][]byte{[]byte("id: a\ntype: hoist\noptions:\n  source: payload\n"), []byte("")})
	require.NoError(t, err)

	def, err := ParseDefinition(joined)
	require.NoError(t, err)
	require.Empty(t, def.ID)
	require.Len(t, def.Filters, 1)
	require.Equal(t, "hoist", def.Filters[0].Type)

	_, err = JoinDefinition([]byte("- a\n"), nil)
	require.ErrorContains(t, err, "header must be a mapping")
}
