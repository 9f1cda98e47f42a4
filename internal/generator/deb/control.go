package deb

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ralt/repoindex/internal/models"
)

// Paragraph is one RFC822 style stanza of a control or Packages file with
// fields in their original order. Multi-line values keep their continuation
// lines verbatim, leading space included.
type Paragraph []models.Field

// Get returns the value of the first field named key, case-insensitively.
func (p Paragraph) Get(key string) string {
	for _, f := range p {
		if strings.EqualFold(f.Key, key) {
			return f.Value
		}
	}
	return ""
}

// Without returns a copy of p lacking the named fields.
func (p Paragraph) Without(keys ...string) Paragraph {
	out := make(Paragraph, 0, len(p))
	for _, f := range p {
		drop := false
		for _, k := range keys {
			if strings.EqualFold(f.Key, k) {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, f)
		}
	}
	return out
}

// WriteTo renders the paragraph without the separating blank line.
func (p Paragraph) WriteTo(w io.Writer) (int64, error) {
	var n int64
	for _, f := range p {
		m, err := fmt.Fprintf(w, "%s: %s\n", f.Key, f.Value)
		n += int64(m)
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// ParseParagraphs splits data into paragraphs separated by blank lines.
func ParseParagraphs(data []byte) ([]Paragraph, error) {
	var (
		paragraphs []Paragraph
		current    Paragraph
	)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")

		if strings.TrimSpace(line) == "" {
			if len(current) > 0 {
				paragraphs = append(paragraphs, current)
				current = nil
			}
			continue
		}

		// Continuation lines start with a space or tab
		if line[0] == ' ' || line[0] == '\t' {
			if len(current) == 0 {
				return nil, fmt.Errorf("line %d: continuation line without a field", lineNo)
			}
			current[len(current)-1].Value += "\n" + strings.TrimRight(line, " \t")
			continue
		}

		// Comment lines are allowed in source control files
		if line[0] == '#' {
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(key) == "" || strings.ContainsAny(key, " \t") {
			return nil, fmt.Errorf("line %d: malformed field %q", lineNo, line)
		}
		current = append(current, models.Field{Key: key, Value: strings.TrimSpace(value)})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(current) > 0 {
		paragraphs = append(paragraphs, current)
	}
	return paragraphs, nil
}
