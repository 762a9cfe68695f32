package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Render produces document text from frontmatter and an outline:
// the frontmatter block, the title heading, the preamble and then every
// section in order.
func Render(fm Frontmatter, o Outline) (string, error) {
	var b strings.Builder

	if err := writeFrontmatter(&b, fm); err != nil {
		return "", err
	}
	if len(fm) > 0 {
		b.WriteString("\n")
	}

	var blocks []string
	if o.HasTitle {
		blocks = append(blocks, "# "+o.Title)
	}
	if o.Preamble != "" {
		blocks = append(blocks, o.Preamble)
	}
	for _, s := range o.Sections {
		block := "## " + s.Name
		if s.Content != "" {
			block += "\n\n" + s.Content
		}
		blocks = append(blocks, block)
	}

	if len(blocks) > 0 {
		b.WriteString(strings.Join(blocks, "\n\n"))
		b.WriteString("\n")
	}

	return b.String(), nil
}

// RenderRaw produces document text from frontmatter and an unmodified body.
func RenderRaw(fm Frontmatter, body string) (string, error) {
	var b strings.Builder
	if err := writeFrontmatter(&b, fm); err != nil {
		return "", err
	}
	b.WriteString(body)
	return b.String(), nil
}

func writeFrontmatter(b *strings.Builder, fm Frontmatter) error {
	if len(fm) == 0 {
		return nil
	}
	block, err := MarshalFrontmatter(fm)
	if err != nil {
		return err
	}
	b.WriteString("---\n")
	b.WriteString(block)
	b.WriteString("---\n")
	return nil
}

// MarshalFrontmatter encodes fields as a YAML mapping in field order,
// without the surrounding delimiters.
func MarshalFrontmatter(fm Frontmatter) (string, error) {
	mapping := &yaml.Node{Kind: yaml.MappingNode}
	for _, f := range fm {
		valueNode, err := valueNode(f.Value)
		if err != nil {
			return "", fmt.Errorf("encode frontmatter key %q: %w", f.Key, err)
		}
		mapping.Content = append(mapping.Content, scalarNode(f.Key), valueNode)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(mapping); err != nil {
		return "", fmt.Errorf("encode frontmatter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("encode frontmatter: %w", err)
	}
	return buf.String(), nil
}

func valueNode(v Value) (*yaml.Node, error) {
	switch v.Kind {
	case ValueNumber:
		return plainNode(v.Text, "!!int", "!!float"), nil
	case ValueBool:
		return plainNode(v.Text, "!!bool"), nil
	case ValueTime:
		return plainNode(v.Text, "!!timestamp"), nil
	case ValueList:
		seq := &yaml.Node{Kind: yaml.SequenceNode}
		for _, item := range v.List {
			seq.Content = append(seq.Content, scalarNode(item))
		}
		if len(v.List) == 0 {
			seq.Style = yaml.FlowStyle
		}
		return seq, nil
	case ValueJSON:
		var decoded any
		if err := json.Unmarshal([]byte(v.Text), &decoded); err != nil {
			return nil, err
		}
		var n yaml.Node
		if err := n.Encode(decoded); err != nil {
			return nil, err
		}
		return &n, nil
	default:
		return scalarNode(v.Text), nil
	}
}

// plainNode emits s unquoted when it still reads back as one of tags, and
// as a string otherwise.
func plainNode(s string, tags ...string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.ScalarNode, Value: s}
	if slices.Contains(tags, n.ShortTag()) {
		return n
	}
	return scalarNode(s)
}

// scalarNode emits s as a string. The encoder quotes values that would
// otherwise read back as another type ("007", "true", "null").
func scalarNode(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}
