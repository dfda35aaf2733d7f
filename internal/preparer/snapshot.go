package preparer

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrMalformedSnapshot reports a snapshot file without a valid frontmatter.
var ErrMalformedSnapshot = errors.New("preparer: malformed snapshot")

const frontmatterDelim = "---"

// Header is the YAML frontmatter of a stored snapshot.
type Header struct {
	Worker    string    `yaml:"worker"`
	Generated time.Time `yaml:"generated"`
	Task      string    `yaml:"task"`
	TaskTypes []string  `yaml:"task_types,omitempty"`
	Probes    []string  `yaml:"probes"`
	Truncated bool      `yaml:"truncated"`
}

// Snapshot is the context prepared for one worker launch.
type Snapshot struct {
	Header
	Body string
}

// Encode renders the snapshot as Markdown with a YAML frontmatter.
func (s Snapshot) Encode() ([]byte, error) {
	header, err := yaml.Marshal(s.Header)
	if err != nil {
		return nil, fmt.Errorf("preparer: encode header: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString(frontmatterDelim + "\n")
	buf.Write(header)
	buf.WriteString(frontmatterDelim + "\n\n")
	buf.WriteString(strings.TrimRight(s.Body, "\n"))
	buf.WriteString("\n")
	return buf.Bytes(), nil
}

// DecodeSnapshot parses a stored snapshot.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	if !strings.HasPrefix(text, frontmatterDelim+"\n") {
		return Snapshot{}, fmt.Errorf("%w: missing frontmatter", ErrMalformedSnapshot)
	}
	rest := text[len(frontmatterDelim)+1:]
	end := strings.Index(rest, "\n"+frontmatterDelim+"\n")
	if end < 0 {
		return Snapshot{}, fmt.Errorf("%w: unterminated frontmatter", ErrMalformedSnapshot)
	}
	var snap Snapshot
	if err := yaml.Unmarshal([]byte(rest[:end+1]), &snap.Header); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}
	body := rest[end+len(frontmatterDelim)+2:]
	snap.Body = strings.TrimRight(strings.TrimPrefix(body, "\n"), "\n")
	return snap, nil
}

// ReadSnapshot loads a snapshot file from disk.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("preparer: read %s: %w", path, err)
	}
	return DecodeSnapshot(data)
}
