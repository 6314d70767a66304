// Package wml parses the bracket-tagged markup used by the game's replay
// files: [tag] ... [/tag] blocks with key="value" attribute lines. Values are
// raw strings; there is no escape processing. A quote character inside a value
// therefore closes it, and trailing content after the closing quote is
// rejected as malformed rather than guessed at.
package wml

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedMarkup reports broken bracket nesting or an unparsable
// attribute line. Wrapped errors carry the offending line number.
var ErrMalformedMarkup = errors.New("malformed markup")

// Attr is a single key/value pair. Order within a section is preserved.
type Attr struct {
	Key   string
	Value string
}

// Section is one tagged block. The same tag may repeat among children;
// document order is significant. Sections are immutable once parsed.
type Section struct {
	Tag      string
	Attrs    []Attr
	Children []*Section
}

// treeBuildHook is invoked once per Parse call. Tests use it to verify that
// the quick classifier never constructs a tree.
var treeBuildHook func()

// SetTreeBuildHook installs fn as the parse instrumentation hook. Passing nil
// removes it. Intended for tests only.
func SetTreeBuildHook(fn func()) { treeBuildHook = fn }

// Parse builds the full section tree for text. The returned root section has
// an empty tag and holds top-level attributes and sections.
func Parse(text string) (*Section, error) {
	if treeBuildHook != nil {
		treeBuildHook()
	}
	root := &Section{}
	stack := []*Section{root}

	for i, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		ln := i + 1
		switch {
		case line == "" || strings.HasPrefix(line, "#"):
			continue
		case strings.HasPrefix(line, "[/"):
			if !strings.HasSuffix(line, "]") {
				return nil, fmt.Errorf("%w: unclosed tag bracket at line %d", ErrMalformedMarkup, ln)
			}
			tag := line[2 : len(line)-1]
			top := stack[len(stack)-1]
			if len(stack) == 1 || top.Tag != tag {
				return nil, fmt.Errorf("%w: unexpected [/%s] at line %d", ErrMalformedMarkup, tag, ln)
			}
			stack = stack[:len(stack)-1]
		case strings.HasPrefix(line, "["):
			if !strings.HasSuffix(line, "]") {
				return nil, fmt.Errorf("%w: unclosed tag bracket at line %d", ErrMalformedMarkup, ln)
			}
			tag := line[1 : len(line)-1]
			if tag == "" || strings.ContainsAny(tag, "[]\"= ") {
				return nil, fmt.Errorf("%w: invalid tag %q at line %d", ErrMalformedMarkup, tag, ln)
			}
			child := &Section{Tag: tag}
			top := stack[len(stack)-1]
			top.Children = append(top.Children, child)
			stack = append(stack, child)
		default:
			key, val, err := parseAttrLine(line, ln)
			if err != nil {
				return nil, err
			}
			top := stack[len(stack)-1]
			top.Attrs = append(top.Attrs, Attr{Key: key, Value: val})
		}
	}

	if len(stack) != 1 {
		return nil, fmt.Errorf("%w: unterminated [%s]", ErrMalformedMarkup, stack[len(stack)-1].Tag)
	}
	return root, nil
}

func parseAttrLine(line string, ln int) (string, string, error) {
	eq := strings.Index(line, "=")
	if eq <= 0 {
		return "", "", fmt.Errorf("%w: expected key=\"value\" at line %d", ErrMalformedMarkup, ln)
	}
	key := strings.TrimSpace(line[:eq])
	rest := strings.TrimSpace(line[eq+1:])
	if key == "" || strings.ContainsAny(key, "[]\" ") {
		return "", "", fmt.Errorf("%w: invalid attribute key at line %d", ErrMalformedMarkup, ln)
	}
	if !strings.HasPrefix(rest, "\"") {
		return "", "", fmt.Errorf("%w: unquoted attribute value at line %d", ErrMalformedMarkup, ln)
	}
	body := rest[1:]
	end := strings.Index(body, "\"")
	if end < 0 {
		return "", "", fmt.Errorf("%w: unterminated attribute value at line %d", ErrMalformedMarkup, ln)
	}
	if strings.TrimSpace(body[end+1:]) != "" {
		return "", "", fmt.Errorf("%w: trailing content after attribute value at line %d", ErrMalformedMarkup, ln)
	}
	return key, body[:end], nil
}

// Attr returns the value for key with last-write-wins semantics, or "" when
// the key is absent.
func (s *Section) Attr(key string) string {
	v, _ := s.LookupAttr(key)
	return v
}

// LookupAttr reports the value for key and whether it was present.
func (s *Section) LookupAttr(key string) (string, bool) {
	if s == nil {
		return "", false
	}
	val, ok := "", false
	for _, a := range s.Attrs {
		if a.Key == key {
			val, ok = a.Value, true
		}
	}
	return val, ok
}

// One returns the first direct child with tag, or nil.
func (s *Section) One(tag string) *Section {
	if s == nil {
		return nil
	}
	for _, c := range s.Children {
		if c.Tag == tag {
			return c
		}
	}
	return nil
}

// Last returns the last direct child with tag, or nil. For tags emitted once
// per turn (snapshots), the last occurrence is the authoritative state.
func (s *Section) Last(tag string) *Section {
	if s == nil {
		return nil
	}
	var out *Section
	for _, c := range s.Children {
		if c.Tag == tag {
			out = c
		}
	}
	return out
}

// All returns every direct child with tag in document order.
func (s *Section) All(tag string) []*Section {
	if s == nil {
		return nil
	}
	var out []*Section
	for _, c := range s.Children {
		if c.Tag == tag {
			out = append(out, c)
		}
	}
	return out
}

// Find returns every section with tag at any depth, in document order.
func (s *Section) Find(tag string) []*Section {
	if s == nil {
		return nil
	}
	var out []*Section
	for _, c := range s.Children {
		if c.Tag == tag {
			out = append(out, c)
		}
		out = append(out, c.Find(tag)...)
	}
	return out
}
