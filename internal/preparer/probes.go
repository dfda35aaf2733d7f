package preparer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/mod/modfile"

	"github.com/kingrea/lattice-hooks/internal/gitrepo"
)

const (
	maxWalkEntries  = 5000
	maxDependencies = 10
	maxSimilarFiles = 5
	maxKeyTerms     = 3
	testSampleLines = 30
	recentCommits   = 10
	histogramRows   = 5
)

// probe is one context-gathering step. An empty string means "no data".
type probe struct {
	name    string
	title   string
	applies func(TaskTypes) bool
	run     func(ctx context.Context, env probeEnv) (string, error)
}

type probeEnv struct {
	dir   string
	task  string
	types TaskTypes
}

func always(TaskTypes) bool { return true }

// battery is the fixed, ordered list of probes.
var battery = []probe{
	{name: "structure", title: "Project Structure", applies: always, run: probeStructure},
	{name: "standards", title: "Coding Standards", applies: always, run: probeStandards},
	{name: "dependencies", title: "Dependencies", applies: always, run: probeDependencies},
	{name: "similar", title: "Similar Implementations", applies: TaskTypes.buildsCode, run: probeSimilar},
	{name: "performance", title: "Performance Guidelines", applies: TaskTypes.buildsCode, run: probePerformance},
	{name: "tests", title: "Test Examples", applies: func(t TaskTypes) bool { return t.Has(TaskTesting) }, run: probeTests},
	{name: "recent-changes", title: "Recent Changes", applies: always, run: probeRecentChanges},
	{name: "guidelines", title: "Task Guidelines", applies: always, run: probeGuidelines},
}

var keyDirectories = []string{"src", "lib", "app", "cmd", "internal", "pkg", "components", "pages", "api", "tests", "docs"}

var sourceExtensions = map[string]bool{
	".py": true, ".js": true, ".ts": true, ".jsx": true, ".tsx": true,
	".go": true, ".rs": true, ".java": true,
}

var skippedDirs = map[string]bool{
	".git": true, ".claude": true, "node_modules": true, "vendor": true,
	".venv": true, "venv": true, "__pycache__": true, "dist": true, "build": true, "target": true,
}

func exists(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}

func anyExists(dir string, names ...string) bool {
	for _, name := range names {
		if exists(dir, name) {
			return true
		}
	}
	return false
}

// walkSources visits regular files below dir, skipping VCS and dependency
// directories, and stops after maxWalkEntries entries.
func walkSources(dir string, visit func(path string, d fs.DirEntry) bool) error {
	seen := 0
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
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
		if !visit(path, d) {
			return fs.SkipAll
		}
		return nil
	})
}

type countRow struct {
	key   string
	count int
}

func histogram(counts map[string]int, limit int) []countRow {
	rows := make([]countRow, 0, len(counts))
	for key, count := range counts {
		rows = append(rows, countRow{key: key, count: count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].count != rows[j].count {
			return rows[i].count > rows[j].count
		}
		return rows[i].key < rows[j].key
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

func probeStructure(_ context.Context, env probeEnv) (string, error) {
	var lines []string
	var dirs []string
	for _, name := range keyDirectories {
		if info, err := os.Stat(filepath.Join(env.dir, name)); err == nil && info.IsDir() {
			dirs = append(dirs, name)
		}
	}
	if len(dirs) > 0 {
		lines = append(lines, "Key directories: "+strings.Join(dirs, ", "))
	}

	var kinds []string
	if exists(env.dir, "package.json") {
		kinds = append(kinds, "Node.js/JavaScript")
	}
	if anyExists(env.dir, "pyproject.toml", "setup.py") {
		kinds = append(kinds, "Python")
	}
	if exists(env.dir, "go.mod") {
		kinds = append(kinds, "Go")
	}
	if exists(env.dir, "Cargo.toml") {
		kinds = append(kinds, "Rust")
	}
	if len(kinds) > 0 {
		lines = append(lines, "Project type: "+strings.Join(kinds, ", "))
	}

	counts := map[string]int{}
	err := walkSources(env.dir, func(path string, _ fs.DirEntry) bool {
		if ext := filepath.Ext(path); sourceExtensions[ext] {
			counts[ext]++
		}
		return true
	})
	if err != nil {
		return "", fmt.Errorf("walk %s: %w", env.dir, err)
	}
	if rows := histogram(counts, histogramRows); len(rows) > 0 {
		lines = append(lines, "File distribution:")
		for _, row := range rows {
			lines = append(lines, fmt.Sprintf("  %s: %d files", row.key, row.count))
		}
	}
	return strings.Join(lines, "\n"), nil
}

type pyproject struct {
	Project struct {
		Dependencies []string `toml:"dependencies"`
	} `toml:"project"`
	Tool struct {
		Ruff *struct {
			LineLength int `toml:"line-length"`
		} `toml:"ruff"`
	} `toml:"tool"`
}

func readPyproject(dir string) (*pyproject, error) {
	data, err := os.ReadFile(filepath.Join(dir, "pyproject.toml"))
	if err != nil {
		return nil, err
	}
	var doc pyproject
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse pyproject.toml: %w", err)
	}
	return &doc, nil
}

func probeStandards(_ context.Context, env probeEnv) (string, error) {
	var lines []string
	var errs []error
	if exists(env.dir, "pyproject.toml") {
		doc, err := readPyproject(env.dir)
		switch {
		case err != nil:
			errs = append(errs, err)
		case doc.Tool.Ruff != nil:
			lines = append(lines, "Python: ruff (see pyproject.toml)")
			if doc.Tool.Ruff.LineLength > 0 {
				lines = append(lines, fmt.Sprintf("  - Line length: %d", doc.Tool.Ruff.LineLength))
			}
		}
	}
	if anyExists(env.dir, "eslint.config.js", "eslint.config.mjs", ".eslintrc.js", ".eslintrc.json", ".eslintrc") {
		lines = append(lines, "JavaScript: ESLint (see eslint config)")
	}
	if anyExists(env.dir, ".prettierrc", ".prettierrc.json", "prettier.config.js") {
		lines = append(lines, "Formatting: Prettier")
	}
	if exists(env.dir, ".editorconfig") {
		lines = append(lines, "Editor: .editorconfig")
	}
	if anyExists(env.dir, ".golangci.yml", ".golangci.yaml") {
		lines = append(lines, "Go: golangci-lint (see .golangci.yml)")
	}
	return strings.Join(lines, "\n"), errors.Join(errs...)
}

func limitList(items []string) []string {
	if len(items) <= maxDependencies {
		return items
	}
	rest := len(items) - maxDependencies
	return append(items[:maxDependencies:maxDependencies], fmt.Sprintf("... and %d more", rest))
}

func probeDependencies(_ context.Context, env probeEnv) (string, error) {
	var lines []string
	var errs []error
	section := func(label string, deps []string) {
		if len(deps) == 0 {
			return
		}
		lines = append(lines, label+":")
		for _, dep := range limitList(deps) {
			lines = append(lines, "  - "+dep)
		}
	}

	if data, err := os.ReadFile(filepath.Join(env.dir, "go.mod")); err == nil {
		mod, err := modfile.Parse("go.mod", data, nil)
		if err != nil {
			errs = append(errs, err)
		} else {
			var deps []string
			for _, req := range mod.Require {
				if !req.Indirect {
					deps = append(deps, req.Mod.Path+" "+req.Mod.Version)
				}
			}
			section("Go modules", deps)
		}
	}

	if data, err := os.ReadFile(filepath.Join(env.dir, "package.json")); err == nil {
		var pkg struct {
			Dependencies    map[string]string `json:"dependencies"`
			DevDependencies map[string]string `json:"devDependencies"`
		}
		if err := json.Unmarshal(data, &pkg); err != nil {
			errs = append(errs, fmt.Errorf("parse package.json: %w", err))
		} else {
			section("npm dependencies", sortedKeys(pkg.Dependencies))
			section("npm devDependencies", sortedKeys(pkg.DevDependencies))
		}
	}

	if exists(env.dir, "pyproject.toml") {
		if doc, err := readPyproject(env.dir); err != nil {
			errs = append(errs, err)
		} else {
			section("Python (pyproject.toml)", doc.Project.Dependencies)
		}
	}

	if data, err := os.ReadFile(filepath.Join(env.dir, "requirements.txt")); err == nil {
		var deps []string
		scanner := bufio.NewScanner(bytes.NewReader(data))
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
				continue
			}
			deps = append(deps, line)
		}
		section("Python (requirements.txt)", deps)
	}

	if data, err := os.ReadFile(filepath.Join(env.dir, "Cargo.toml")); err == nil {
		var cargo struct {
			Dependencies map[string]any `toml:"dependencies"`
		}
		if err := toml.Unmarshal(data, &cargo); err != nil {
			errs = append(errs, fmt.Errorf("parse Cargo.toml: %w", err))
		} else {
			deps := make([]string, 0, len(cargo.Dependencies))
			for name := range cargo.Dependencies {
				deps = append(deps, name)
			}
			sort.Strings(deps)
			section("Rust crates", deps)
		}
	}
	return strings.Join(lines, "\n"), errors.Join(errs...)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

var (
	termPattern = regexp.MustCompile(`[a-z]+`)
	stopWords   = map[string]bool{
		"that": true, "this": true, "with": true, "from": true, "into": true,
		"have": true, "been": true, "will": true, "should": true, "please": true,
	}
)

// keyTerms picks the first few distinctive words of the task.
func keyTerms(task string) []string {
	var terms []string
	seen := map[string]bool{}
	for _, word := range termPattern.FindAllString(strings.ToLower(task), -1) {
		if len(word) <= 3 || stopWords[word] || seen[word] {
			continue
		}
		seen[word] = true
		terms = append(terms, word)
		if len(terms) == maxKeyTerms {
			break
		}
	}
	return terms
}

func probeSimilar(ctx context.Context, env probeEnv) (string, error) {
	terms := keyTerms(env.task)
	if len(terms) == 0 {
		return "", nil
	}
	found := map[string]bool{}
	var errs []error
	for _, term := range terms {
		cmd := exec.CommandContext(ctx, "grep", "-l", "-r", "-i",
			"--include=*.py", "--include=*.js", "--include=*.ts", "--include=*.go",
			"--exclude-dir=.git", "--exclude-dir=node_modules", "--exclude-dir=vendor", "--exclude-dir=.claude",
			"--", term, env.dir)
		out, err := cmd.Output()
		if err != nil {
			var exitErr *exec.ExitError
			// grep exits 1 when nothing matched.
			if !errors.As(err, &exitErr) || exitErr.ExitCode() != 1 {
				errs = append(errs, fmt.Errorf("grep %q: %w", term, err))
			}
			if ctx.Err() != nil {
				break
			}
		}
		for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
			if line == "" {
				continue
			}
			if rel, err := filepath.Rel(env.dir, line); err == nil {
				found[filepath.ToSlash(rel)] = true
			}
		}
	}
	if len(found) == 0 {
		return "", errors.Join(errs...)
	}
	files := make([]string, 0, len(found))
	for file := range found {
		files = append(files, file)
	}
	sort.Strings(files)
	if len(files) > maxSimilarFiles {
		files = files[:maxSimilarFiles]
	}
	lines := []string{fmt.Sprintf("Files mentioning %s:", strings.Join(terms, ", "))}
	for _, file := range files {
		lines = append(lines, "  - "+file)
	}
	return strings.Join(lines, "\n"), nil
}

func probePerformance(_ context.Context, env probeEnv) (string, error) {
	var lines []string
	if exists(env.dir, "package.json") {
		lines = append(lines,
			"JavaScript/TypeScript:",
			"  - Prefer async/await over callbacks",
			"  - Pick Map/Set over plain objects for dynamic keys",
			"  - Keep frontend bundles small",
			"  - Memoize expensive computations")
	}
	if anyExists(env.dir, "pyproject.toml", "setup.py") {
		lines = append(lines,
			"Python:",
			"  - Use generators for large datasets",
			"  - Prefer comprehensions over loops where readable",
			"  - Model data with dataclasses or Pydantic",
			"  - Profile before optimizing")
	}
	if exists(env.dir, "go.mod") {
		lines = append(lines,
			"Go:",
			"  - Preallocate slices when the size is known",
			"  - Pass context.Context through blocking calls",
			"  - Benchmark with testing.B before optimizing")
	}
	return strings.Join(lines, "\n"), nil
}

var testMarkers = []string{"describe(", "it(", "test(", "def test_", "class Test", "func Test"}

func isTestFile(name string) bool {
	switch {
	case strings.Contains(name, ".test."), strings.Contains(name, ".spec."):
		return true
	case strings.HasPrefix(name, "test_") && strings.HasSuffix(name, ".py"):
		return true
	case strings.HasSuffix(name, "_test.go"):
		return true
	}
	return false
}

func probeTests(_ context.Context, env probeEnv) (string, error) {
	var sample string
	err := walkSources(env.dir, func(path string, d fs.DirEntry) bool {
		if isTestFile(d.Name()) {
			sample = path
			return false
		}
		return true
	})
	if err != nil {
		return "", fmt.Errorf("walk %s: %w", env.dir, err)
	}
	if sample == "" {
		return "", nil
	}
	f, err := os.Open(sample)
	if err != nil {
		return "", err
	}
	defer f.Close()

	rel, _ := filepath.Rel(env.dir, sample)
	lines := []string{fmt.Sprintf("Test structure from %s:", filepath.ToSlash(rel))}
	scanner := bufio.NewScanner(f)
	for n := 0; n < testSampleLines && scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())
		for _, marker := range testMarkers {
			if strings.Contains(line, marker) {
				if len(line) > 60 {
					line = cutRunes(line, 60) + "..."
				}
				lines = append(lines, "  "+line)
				break
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}

func probeRecentChanges(_ context.Context, env probeEnv) (string, error) {
	repo, err := gitrepo.Open(env.dir)
	if errors.Is(err, gitrepo.ErrNotRepository) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	files, err := repo.RecentFiles(recentCommits)
	if err != nil {
		return "", err
	}
	counts := map[string]int{}
	for _, file := range files {
		if ext := filepath.Ext(file); ext != "" {
			counts[ext]++
		}
	}
	rows := histogram(counts, histogramRows)
	if len(rows) == 0 {
		return "", nil
	}
	lines := []string{fmt.Sprintf("File types touched in the last %d commits:", recentCommits)}
	for _, row := range rows {
		lines = append(lines, fmt.Sprintf("  %s: %d changes", row.key, row.count))
	}
	return strings.Join(lines, "\n"), nil
}

func probeGuidelines(_ context.Context, env probeEnv) (string, error) {
	var lines []string
	for _, kind := range env.types {
		if line, ok := taskGuidelines[kind]; ok {
			lines = append(lines, line)
		}
	}
	lines = append(lines,
		"Follow the project's coding standards",
		"Update documentation when behaviour changes")
	return strings.Join(lines, "\n"), nil
}
