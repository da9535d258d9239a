package pipeline

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Severity grades a lint issue.
type Severity string

// Issue severities.
const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is a single lint finding. Line is 1-based; zero means file level.
type Issue struct {
	Line     int      `json:"line"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// String renders the issue the way the lint command prints it.
func (i Issue) String() string {
	if i.Line > 0 {
		return fmt.Sprintf("line %d: %s: %s", i.Line, i.Severity, i.Message)
	}
	return fmt.Sprintf("%s: %s", i.Severity, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, issue := range issues {
		if issue.Severity == SeverityError {
			return true
		}
	}
	return false
}

var yamlLine = regexp.MustCompile(`line (\d+)`)

var (
	knownTopLevelKeys = map[string]struct{}{"id": {}, "filters": {}}
	knownFilterKeys   = map[string]struct{}{"id": {}, "type": {}, "add_tag": {}, "remove_tag": {}, "options": {}}
)

// LintFile lints the definition at path.
func LintFile(path string, reg *Registry) ([]Issue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline %s: %w", path, err)
	}
	return Lint(data, reg), nil
}

// Lint checks a YAML pipeline definition without building it. It reports
// syntax errors, duplicate filter ids with every line they occur on, unknown
// filter types and options the filter factory rejects.
func Lint(data []byte, reg *Registry) []Issue {
	if reg == nil {
		reg = DefaultRegistry()
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return []Issue{{Line: errorLine(err), Severity: SeverityError, Message: err.Error()}}
	}
	if len(doc.Content) == 0 {
		return []Issue{{Severity: SeverityError, Message: "pipeline definition is empty"}}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return []Issue{{Line: root.Line, Severity: SeverityError, Message: "pipeline definition must be a mapping"}}
	}

	var issues []Issue
	var filters *yaml.Node
	hasID := false
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		switch key.Value {
		case "id":
			hasID = strings.TrimSpace(value.Value) != ""
		case "filters":
			filters = value
		}
		if _, ok := knownTopLevelKeys[key.Value]; !ok {
			issues = append(issues, Issue{Line: key.Line, Severity: SeverityWarning, Message: fmt.Sprintf("unknown key %q", key.Value)})
		}
	}
	if !hasID {
		issues = append(issues, Issue{Line: root.Line, Severity: SeverityWarning, Message: "pipeline id is missing"})
	}

	switch {
	case filters == nil || (filters.Kind == yaml.ScalarNode && filters.Tag == "!!null"):
		issues = append(issues, Issue{Line: root.Line, Severity: SeverityWarning, Message: "pipeline has no filters"})
	case filters.Kind != yaml.SequenceNode:
		issues = append(issues, Issue{Line: filters.Line, Severity: SeverityError, Message: "filters must be a list"})
	default:
		issues = append(issues, lintFilters(filters, reg)...)
	}

	sort.SliceStable(issues, func(a, b int) bool { return issues[a].Line < issues[b].Line })
	return issues
}

func lintFilters(seq *yaml.Node, reg *Registry) []Issue {
	var issues []Issue
	idLines := make(map[string][]int)
	var idOrder []string

	for _, item := range seq.Content {
		if item.Kind != yaml.MappingNode {
			issues = append(issues, Issue{Line: item.Line, Severity: SeverityError, Message: "filter entry must be a mapping"})
			continue
		}
		for i := 0; i+1 < len(item.Content); i += 2 {
			key, value := item.Content[i], item.Content[i+1]
			if _, ok := knownFilterKeys[key.Value]; !ok {
				issues = append(issues, Issue{Line: key.Line, Severity: SeverityWarning, Message: fmt.Sprintf("unknown filter key %q", key.Value)})
			}
			if key.Value == "id" && value.Value != "" {
				if _, seen := idLines[value.Value]; !seen {
					idOrder = append(idOrder, value.Value)
				}
				idLines[value.Value] = append(idLines[value.Value], value.Line)
			}
		}

		var spec FilterSpec
		if err := item.Decode(&spec); err != nil {
			issues = append(issues, Issue{Line: item.Line, Severity: SeverityError, Message: err.Error()})
			continue
		}
		if spec.ID == "" {
			issues = append(issues, Issue{Line: item.Line, Severity: SeverityWarning, Message: "filter has no id; one will be generated"})
		}
		if spec.Type == "" {
			issues = append(issues, Issue{Line: item.Line, Severity: SeverityError, Message: "filter type is missing"})
			continue
		}
		factory, err := reg.Lookup(spec.Type)
		if err != nil {
			issues = append(issues, Issue{
				Line:     item.Line,
				Severity: SeverityError,
				Message:  fmt.Sprintf("unknown filter type %q (registered: %s)", spec.Type, strings.Join(reg.Types(), ", ")),
			})
			continue
		}
		if _, err := factory(spec.Options, Env{}); err != nil {
			issues = append(issues, Issue{Line: item.Line, Severity: SeverityError, Message: err.Error()})
		}
	}

	for _, id := range idOrder {
		lines := idLines[id]
		if len(lines) < 2 {
			continue
		}
		parts := make([]string, len(lines))
		for i, line := range lines {
			parts[i] = strconv.Itoa(line)
		}
		issues = append(issues, Issue{
			Line:     lines[0],
			Severity: SeverityError,
			Message:  fmt.Sprintf("duplicate filter id %q at lines %s", id, strings.Join(parts, ", ")),
		})
	}
	return issues
}

func errorLine(err error) int {
	m := yamlLine.FindStringSubmatch(err.Error())
	if m == nil {
		return 0
	}
	line, convErr := strconv.Atoi(m[1])
	if convErr != nil {
		return 0
	}
	return line
}
