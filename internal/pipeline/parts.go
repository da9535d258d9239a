package pipeline

import (
	"bytes"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// SplitDefinition breaks a definition into its header (every top-level key
// except filters) and one document per filter entry. Entries are copied as
// parsed nodes so unknown keys and comments survive a later Join.
func SplitDefinition(data []byte) (header []byte, filters [][]byte, err error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("parse pipeline: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, nil, errors.New("parse pipeline: definition is empty")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, nil, errors.New("parse pipeline: definition must be a mapping")
	}

	rest := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	var seq *yaml.Node
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		if key.Value == "filters" {
			seq = value
			continue
		}
		rest.Content = append(rest.Content, key, value)
	}
	if seq != nil && seq.Kind != yaml.SequenceNode && seq.Tag != "!!null" {
		return nil, nil, fmt.Errorf("parse pipeline: line %d: filters must be a list", seq.Line)
	}

	header, err = encodeNode(rest)
	if err != nil {
		return nil, nil, err
	}
	if seq == nil {
		return header, nil, nil
	}
	for _, item := range seq.Content {
		part, err := encodeNode(item)
		if err != nil {
			return nil, nil, err
		}
		filters = append(filters, part)
	}
	return header, filters, nil
}

// JoinDefinition reassembles a definition from a header document and filter
// documents, in the order given. An empty header yields a definition with
// only filters; a filters key inside the header is replaced.
func JoinDefinition(header []byte, filters [][]byte) ([]byte, error) {
	root := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	if len(bytes.TrimSpace(header)) > 0 {
		var doc yaml.Node
		if err := yaml.Unmarshal(header, &doc); err != nil {
			return nil, fmt.Errorf("parse header: %w", err)
		}
		if len(doc.Content) > 0 {
			m := doc.Content[0]
			if m.Kind != yaml.MappingNode {
				return nil, errors.New("parse header: header must be a mapping")
			}
			for i := 0; i+1 < len(m.Content); i += 2 {
				if m.Content[i].Value == "filters" {
					continue
				}
				root.Content = append(root.Content, m.Content[i], m.Content[i+1])
			}
		}
	}

	seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for i, part := range filters {
		var doc yaml.Node
		if err := yaml.Unmarshal(part, &doc); err != nil {
			return nil, fmt.Errorf("parse filter %d: %w", i, err)
		}
		if len(doc.Content) == 0 {
			continue
		}
		seq.Content = append(seq.Content, doc.Content[0])
	}
	root.Content = append(root.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "filters"}, seq)
	return encodeNode(root)
}

func encodeNode(n *yaml.Node) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(n); err != nil {
		return nil, fmt.Errorf("encode pipeline: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode pipeline: %w", err)
	}
	return buf.Bytes(), nil
}
