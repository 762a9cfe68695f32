package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var errUnterminated = errors.New("unterminated frontmatter block")

// Outline is the markdown structure of a document body.
type Outline struct {
	// Title is the text of the first "# " heading before any section.
	Title string
	// HasTitle is false when the body has no title heading.
	HasTitle bool
	// Preamble is everything between the title and the first section.
	Preamble string
	// Lead is the first paragraph of Preamble.
	Lead string
	// Sections are in file order with duplicates resolved last-wins.
	Sections []Section
}

// Parse turns raw file content into a Document. relPath is the path relative
// to the collection root and determines the document identity.
//
// A malformed frontmatter block yields a *ParseError with reason
// ReasonInvalidFrontmatter.
func Parse(raw []byte, relPath string, modifiedAt time.Time) (*Document, error) {
	relPath = filepath.ToSlash(relPath)
	text := strings.TrimPrefix(string(raw), "\ufeff")

	fm, body, err := splitFrontmatter(text)
	if err != nil {
		return nil, &ParseError{Path: relPath, Reason: ReasonInvalidFrontmatter, Err: err}
	}

	outline := ParseBody(body)
	title := outline.Title
	if !outline.HasTitle {
		title = TitleFromPath(relPath)
	}

	return &Document{
		ID:          Identity(relPath),
		Path:        relPath,
		Frontmatter: fm,
		Title:       title,
		Lead:        outline.Lead,
		Body:        body,
		Sections:    outline.Sections,
		ModifiedAt:  modifiedAt,
		Fingerprint: Fingerprint(raw),
	}, nil
}

// ReadFile reads and parses root/relPath. Read failures are reported as a
// *ParseError with reason ReasonUnreadable wrapping the os error, so
// errors.Is(err, fs.ErrNotExist) still works.
func ReadFile(root, relPath string) (*Document, error) {
	abs := filepath.Join(root, filepath.FromSlash(relPath))

	info, err := os.Stat(abs)
	if err != nil {
		return nil, &ParseError{Path: filepath.ToSlash(relPath), Reason: ReasonUnreadable, Err: err}
	}

	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, &ParseError{Path: filepath.ToSlash(relPath), Reason: ReasonUnreadable, Err: err}
	}

	return Parse(raw, relPath, info.ModTime())
}

// TitleFromPath derives a title from a file name: the base name without
// extension, with dashes and underscores turned into spaces.
func TitleFromPath(relPath string) string {
	base := path.Base(filepath.ToSlash(relPath))
	base = strings.TrimSuffix(base, path.Ext(base))
	title := strings.NewReplacer("-", " ", "_", " ").Replace(base)
	return strings.Join(strings.Fields(title), " ")
}

// splitFrontmatter separates a leading "---" block from the body.
func splitFrontmatter(text string) (Frontmatter, string, error) {
	firstEnd := strings.IndexByte(text, '\n')
	firstLine := text
	if firstEnd >= 0 {
		firstLine = text[:firstEnd]
	}
	if strings.TrimRight(firstLine, " \t\r") != "---" {
		return nil, text, nil
	}
	if firstEnd < 0 {
		return nil, "", errUnterminated
	}

	rest := text[firstEnd+1:]
	offset := 0
	for offset <= len(rest) {
		lineEnd := strings.IndexByte(rest[offset:], '\n')
		var line string
		next := len(rest) + 1
		if lineEnd < 0 {
			line = rest[offset:]
		} else {
			line = rest[offset : offset+lineEnd]
			next = offset + lineEnd + 1
		}

		trimmed := strings.TrimRight(line, " \t\r")
		if trimmed == "---" || trimmed == "..." {
			fm, err := decodeFrontmatter(rest[:offset])
			if err != nil {
				return nil, "", err
			}
			body := ""
			if next <= len(rest) {
				body = rest[next:]
			}
			return fm, body, nil
		}

		if lineEnd < 0 {
			break
		}
		offset = next
	}

	return nil, "", errUnterminated
}

func decodeFrontmatter(block string) (Frontmatter, error) {
	if strings.TrimSpace(block) == "" {
		return nil, nil
	}

	var root yaml.Node
	if err := yaml.Unmarshal([]byte(block), &root); err != nil {
		return nil, err
	}

	node := &root
	if node.Kind == yaml.DocumentNode {
		if len(node.Content) == 0 {
			return nil, nil
		}
		node = node.Content[0]
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("frontmatter must be a mapping (line %d)", node.Line)
	}

	fm := make(Frontmatter, 0, len(node.Content)/2)
	seen := make(map[string]struct{}, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valueNode := node.Content[i], node.Content[i+1]
		if keyNode.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("frontmatter key on line %d is not a scalar", keyNode.Line)
		}
		if _, dup := seen[keyNode.Value]; dup {
			return nil, fmt.Errorf("duplicate frontmatter key %q on line %d", keyNode.Value, keyNode.Line)
		}
		seen[keyNode.Value] = struct{}{}

		value, ok, err := convertNode(valueNode)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", keyNode.Value, err)
		}
		if !ok {
			continue
		}
		fm = append(fm, Field{Key: keyNode.Value, Value: value})
	}

	return fm, nil
}

// convertNode maps a YAML value node to a Value. ok is false for nulls.
func convertNode(n *yaml.Node) (Value, bool, error) {
	if n.Kind == yaml.AliasNode && n.Alias != nil {
		return convertNode(n.Alias)
	}

	switch n.Kind {
	case yaml.ScalarNode:
		switch n.ShortTag() {
		case "!!null":
			return Value{}, false, nil
		case "!!int", "!!float":
			return Number(n.Value), true, nil
		case "!!bool":
			return Bool(n.Value), true, nil
		case "!!timestamp":
			return Timestamp(n.Value), true, nil
		default:
			return Text(n.Value), true, nil
		}

	case yaml.SequenceNode:
		items := make([]string, 0, len(n.Content))
		for _, item := range n.Content {
			if item.Kind == yaml.AliasNode && item.Alias != nil {
				item = item.Alias
			}
			if item.Kind != yaml.ScalarNode {
				v, err := nodeJSON(n)
				return v, err == nil, err
			}
			items = append(items, item.Value)
		}
		return List(items...), true, nil

	default:
		v, err := nodeJSON(n)
		return v, err == nil, err
	}
}

func nodeJSON(n *yaml.Node) (Value, error) {
	var decoded any
	if err := n.Decode(&decoded); err != nil {
		return Value{}, err
	}
	data, err := json.Marshal(decoded)
	if err != nil {
		return Value{}, fmt.Errorf("nested value on line %d: %w", n.Line, err)
	}
	return Value{Kind: ValueJSON, Text: string(data)}, nil
}

// ParseBody extracts the title, preamble, lead and sections from the text
// that follows the frontmatter block. Headings inside fenced code blocks are
// ignored.
func ParseBody(body string) Outline {
	var (
		o        Outline
		preamble []string
		sections []Section
		current  *Section
		lines    []string
		fence    string
	)

	flush := func() {
		if current != nil {
			current.Content = strings.TrimSpace(strings.Join(lines, "\n"))
			sections = append(sections, *current)
		}
		lines = nil
	}

	for _, raw := range strings.Split(body, "\n") {
		line := strings.TrimRight(raw, "\r")

		if marker := fenceMarker(line); marker != "" {
			switch {
			case fence == "":
				fence = marker
			case marker == fence:
				fence = ""
			}
		} else if fence == "" {
			if name, ok := headingText(line, 2); ok {
				flush()
				current = &Section{Name: name}
				continue
			}
			if current == nil && !o.HasTitle {
				if title, ok := headingText(line, 1); ok {
					o.Title = title
					o.HasTitle = true
					continue
				}
			}
		}

		if current == nil {
			preamble = append(preamble, line)
		} else {
			lines = append(lines, line)
		}
	}
	flush()

	o.Preamble = strings.TrimSpace(strings.Join(preamble, "\n"))
	o.Lead = FirstParagraph(o.Preamble)
	o.Sections = lastWins(sections)
	return o
}

// FirstParagraph returns the first blank-line delimited paragraph of text.
func FirstParagraph(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "\n\n"); i >= 0 {
		text = text[:i]
	}
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			break
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func lastWins(sections []Section) []Section {
	out := make([]Section, 0, len(sections))
	for _, s := range sections {
		for i := range out {
			if out[i].Name == s.Name {
				out = append(out[:i], out[i+1:]...)
				break
			}
		}
		out = append(out, s)
	}
	return out
}

func headingText(line string, level int) (string, bool) {
	prefix := strings.Repeat("#", level) + " "
	if !strings.HasPrefix(line, prefix) {
		return "", false
	}
	text := strings.TrimSpace(line[len(prefix):])
	if text == "" {
		return "", false
	}
	return text, true
}

func fenceMarker(line string) string {
	trimmed := strings.TrimLeft(line, " ")
	switch {
	case strings.HasPrefix(trimmed, "```"):
		return "```"
	case strings.HasPrefix(trimmed, "~~~"):
		return "~~~"
	default:
		return ""
	}
}
