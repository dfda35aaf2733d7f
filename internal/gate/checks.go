package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"go/parser"
	"go/token"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	maxScannedFile = 1 << 20
	maxWalkEntries = 5000
)

var (
	markerPattern = regexp.MustCompile(`\b(?:TODO|FIXME|XXX)\b`)

	failurePatterns = []*regexp.Regexp{
		regexp.MustCompile(`--- FAIL: `),
		regexp.MustCompile(`\b[1-9]\d* (?:tests? )?failed\b`),
		regexp.MustCompile(`\bFAILED\s+\S+::`),
	}

	codeExtensions = map[string]bool{
		".py": true, ".js": true, ".ts": true, ".jsx": true, ".tsx": true,
		".go": true, ".rs": true, ".java": true,
	}
	docExtensions = map[string]bool{".md": true, ".mdx": true, ".rst": true, ".txt": true}

	skippedDirs = map[string]bool{
		".git": true, ".claude": true, "node_modules": true, "vendor": true,
		".venv": true, "venv": true, "__pycache__": true, "dist": true, "build": true, "target": true,
	}
)

// readTouched loads a touched file, skipping deleted, oversized and
// non-regular files.
func readTouched(dir, rel string) ([]byte, bool) {
	path := filepath.Join(dir, filepath.FromSlash(rel))
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Size() > maxScannedFile {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return data, true
}

func syntaxError(path string, data []byte) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		_, err := parser.ParseFile(token.NewFileSet(), path, data, parser.SkipObjectResolution)
		return err
	case ".json":
		if !json.Valid(data) {
			return errors.New("invalid JSON")
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		for {
			var node yaml.Node
			err := dec.Decode(&node)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *Gate) checkSyntax(ctx context.Context, dir string, report *Report) {
	var broken []string
	for _, rel := range report.TouchedFiles {
		if ctx.Err() != nil {
			break
		}
		data, ok := readTouched(dir, rel)
		if !ok {
			continue
		}
		if err := syntaxError(rel, data); err != nil {
			g.logger.Debug("syntax error", zap.String("file", rel), zap.Error(err))
			broken = append(broken, rel)
		}
	}
	if len(broken) > 0 {
		report.Issues = append(report.Issues, "Syntax errors in: "+listFiles(broken))
	}
}

func (g *Gate) checkMarkers(ctx context.Context, dir string, report *Report) {
	var marked []string
	for _, rel := range report.TouchedFiles {
		if ctx.Err() != nil {
			break
		}
		data, ok := readTouched(dir, rel)
		if !ok || bytes.IndexByte(data, 0) >= 0 {
			continue
		}
		if markerPattern.Match(data) {
			marked = append(marked, rel)
		}
	}
	if len(marked) > 0 {
		report.Warnings = append(report.Warnings, "Unresolved TODO/FIXME/XXX markers in: "+listFiles(marked))
	}
}

func (g *Gate) checkTranscript(path string, report *Report) {
	if strings.TrimSpace(path) == "" {
		return
	}
	tail, err := readTail(path, g.tailBytes)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			g.logger.Debug("read transcript failed", zap.Error(err))
		}
		return
	}
	for _, pattern := range failurePatterns {
		if pattern.Match(tail) {
			report.Issues = append(report.Issues, "Failing tests reported in the session transcript")
			return
		}
	}
}

func readTail(path string, n int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if offset := info.Size() - n; offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return nil, err
		}
	}
	return io.ReadAll(io.LimitReader(f, n))
}

// testCommand suggests how the project runs its tests. It is never executed.
func testCommand(dir string) string {
	if data, err := os.ReadFile(filepath.Join(dir, "package.json")); err == nil {
		var pkg struct {
			Scripts map[string]string `json:"scripts"`
		}
		if json.Unmarshal(data, &pkg) == nil {
			if _, ok := pkg.Scripts["test"]; ok {
				return "npm test"
			}
			if _, ok := pkg.Scripts["test:unit"]; ok {
				return "npm run test:unit"
			}
		}
	}
	for _, candidate := range []struct{ marker, command string }{
		{"pyproject.toml", "pytest"},
		{"setup.py", "pytest"},
		{"pytest.ini", "pytest"},
		{"go.mod", "go test ./..."},
		{"Cargo.toml", "cargo test"},
	} {
		if _, err := os.Stat(filepath.Join(dir, candidate.marker)); err == nil {
			return candidate.command
		}
	}
	return ""
}

func isDoc(rel string) bool {
	rel = filepath.ToSlash(rel)
	return docExtensions[strings.ToLower(filepath.Ext(rel))] ||
		strings.HasPrefix(rel, "docs/") || strings.Contains(rel, "/docs/")
}

// docsStale reports code changes that came without any documentation change.
func docsStale(files []string) bool {
	code := false
	for _, rel := range files {
		if isDoc(rel) {
			return false
		}
		if codeExtensions[strings.ToLower(filepath.Ext(rel))] {
			code = true
		}
	}
	return code
}

// recentlyModified lists files below dir modified after since, as slash
// separated relative paths in lexical order. A done ctx ends the walk with
// the files found so far.
func recentlyModified(ctx context.Context, dir string, since time.Time) ([]string, error) {
	var files []string
	seen := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		seen++
		if seen > maxWalkEntries {
			return fs.SkipAll
		}
		if d.IsDir() {
			if path != dir && skippedDirs[d.Name()] {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().After(since) {
			return nil
		}
		if rel, err := filepath.Rel(dir, path); err == nil {
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	return files, err
}
