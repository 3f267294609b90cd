// Package archive implements the archive loader (C6): extraction of an
// uploaded submission into tasks, agent code, and detected agent language.
package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/basilica-network/term-executor/internal/session"
	"gopkg.in/yaml.v3"
)

// ErrExtractionFailed covers both ZIP and gzipped-tar inflation failure.
var ErrExtractionFailed = errors.New("extraction_failed")

// ErrMissingArchiveRoot is returned when neither tasks/ nor agent_code/ can
// be located at the top level or one level deep.
var ErrMissingArchiveRoot = errors.New("extraction_failed: could not locate archive root")

// Extracted is the parsed result of loading a submission archive.
type Extracted struct {
	Tasks         []session.Task
	AgentCode     string
	AgentLanguage string
}

var languageByExt = map[string]string{
	".py": "python",
	".js": "javascript",
	".ts": "typescript",
	".sh": "shell",
	".rs": "rust",
	".go": "go",
}

// Load extracts archive bytes into destDir and parses the resulting tree
// into tasks, agent code, and agent language (§4.6).
func Load(data []byte, destDir string) (*Extracted, error) {
	if err := extractInto(data, destDir); err != nil {
		return nil, err
	}

	root, err := findArchiveRoot(destDir)
	if err != nil {
		return nil, err
	}

	agentCode, agentLang, err := loadAgentCode(filepath.Join(root, "agent_code"))
	if err != nil {
		return nil, err
	}

	tasks, err := loadTasks(filepath.Join(root, "tasks"))
	if err != nil {
		return nil, err
	}

	return &Extracted{
		Tasks:         tasks,
		AgentCode:     agentCode,
		AgentLanguage: agentLang,
	}, nil
}

// extractInto tries ZIP first, falling back to gzipped tar.
func extractInto(data []byte, destDir string) error {
	if err := extractZip(data, destDir); err == nil {
		return nil
	}
	if err := extractTarGz(data, destDir); err == nil {
		return nil
	}
	return ErrExtractionFailed
}

func extractZip(data []byte, destDir string) error {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return err
	}
	for _, f := range r.File {
		target := filepath.Join(destDir, f.Name)
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) && target != filepath.Clean(destDir) {
			return fmt.Errorf("zip entry escapes destination: %s", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, f.Mode())
		if err != nil {
			rc.Close()
			return err
		}
		_, copyErr := io.Copy(out, rc)
		rc.Close()
		out.Close()
		if copyErr != nil {
			return copyErr
		}
	}
	return nil
}

func extractTarGz(data []byte, destDir string) error {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(destDir, hdr.Name)
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) && target != filepath.Clean(destDir) {
			return fmt.Errorf("tar entry escapes destination: %s", hdr.Name)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			_, copyErr := io.Copy(out, tr)
			out.Close()
			if copyErr != nil {
				return copyErr
			}
		}
	}
}

// findArchiveRoot locates the directory containing tasks/ or agent_code/,
// checking the top level first and then one level deeper.
func findArchiveRoot(destDir string) (string, error) {
	if hasMarker(destDir) {
		return destDir, nil
	}
	entries, err := os.ReadDir(destDir)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMissingArchiveRoot, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		candidate := filepath.Join(destDir, e.Name())
		if hasMarker(candidate) {
			return candidate, nil
		}
	}
	return "", ErrMissingArchiveRoot
}

func hasMarker(dir string) bool {
	for _, marker := range []string{"tasks", "agent_code"} {
		if info, err := os.Stat(filepath.Join(dir, marker)); err == nil && info.IsDir() {
			return true
		}
	}
	return false
}

// loadAgentCode reads agent_code/ in filename-sorted order. A single file's
// content is the agent body; multiple files are concatenated with a
// "# --- <filename> ---" separator before each. Emptiness is fatal.
func loadAgentCode(dir string) (string, string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", "", fmt.Errorf("%w: agent_code: %v", ErrExtractionFailed, err)
	}

	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return "", "", fmt.Errorf("%w: agent_code is empty", ErrExtractionFailed)
	}

	language := detectLanguage(names[0])

	if len(names) == 1 {
		body, err := os.ReadFile(filepath.Join(dir, names[0]))
		if err != nil {
			return "", "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
		}
		return string(body), language, nil
	}

	var sb strings.Builder
	for _, name := range names {
		body, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return "", "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
		}
		sb.WriteString(fmt.Sprintf("# --- %s ---\n", name))
		sb.Write(body)
		if !strings.HasSuffix(string(body), "\n") {
			sb.WriteByte('\n')
		}
	}
	return sb.String(), language, nil
}

func detectLanguage(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if lang, ok := languageByExt[ext]; ok {
		return lang
	}
	return "python"
}

type workspaceYAML struct {
	Repo       string   `yaml:"repo"`
	Version    string   `yaml:"version"`
	BaseCommit string   `yaml:"base_commit"`
	Install    []string `yaml:"install"`
	Language   string   `yaml:"language"`
}

// loadTasks parses one subdirectory per task under tasksDir.
func loadTasks(tasksDir string) ([]session.Task, error) {
	entries, err := os.ReadDir(tasksDir)
	if err != nil {
		return nil, fmt.Errorf("%w: tasks: %v", ErrExtractionFailed, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	tasks := make([]session.Task, 0, len(names))
	for _, name := range names {
		task, err := parseTask(filepath.Join(tasksDir, name), name)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func parseTask(dir, id string) (session.Task, error) {
	wsBytes, err := os.ReadFile(filepath.Join(dir, "workspace.yaml"))
	if err != nil {
		return session.Task{}, fmt.Errorf("%w: %s/workspace.yaml: %v", ErrExtractionFailed, id, err)
	}
	var ws workspaceYAML
	if err := yaml.Unmarshal(wsBytes, &ws); err != nil {
		return session.Task{}, fmt.Errorf("%w: %s/workspace.yaml: %v", ErrExtractionFailed, id, err)
	}

	promptBytes, err := os.ReadFile(filepath.Join(dir, "prompt.md"))
	if err != nil {
		return session.Task{}, fmt.Errorf("%w: %s/prompt.md: %v", ErrExtractionFailed, id, err)
	}

	language := ws.Language
	if language == "" {
		language = "python"
	}

	testScripts, testSourceFiles, err := loadTestsRecursive(filepath.Join(dir, "tests"))
	if err != nil {
		return session.Task{}, err
	}
	if len(testScripts) == 0 {
		if scripts, ok, err := loadChecksTxt(filepath.Join(dir, "checks.txt")); err != nil {
			return session.Task{}, err
		} else if ok {
			testScripts = scripts
		}
	}

	return session.Task{
		ID: id,
		Workspace: session.Workspace{
			Repo:       ws.Repo,
			Version:    ws.Version,
			BaseCommit: ws.BaseCommit,
			Install:    ws.Install,
			Language:   language,
		},
		Prompt:          string(promptBytes),
		TestScripts:     testScripts,
		TestSourceFiles: testSourceFiles,
	}, nil
}

// loadTestsRecursive walks tests/ (if present), classifying .sh files as
// test scripts and everything else as test source files, paths relative to
// tests/.
func loadTestsRecursive(testsDir string) ([]session.NamedFile, []session.NamedFile, error) {
	info, err := os.Stat(testsDir)
	if err != nil || !info.IsDir() {
		return nil, nil, nil
	}

	var scripts, sources []session.NamedFile
	err = filepath.Walk(testsDir, func(path string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if fi.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(testsDir, path)
		if relErr != nil {
			return relErr
		}
		body, readErr := os.ReadFile(path)
		if readErr != nil {
			return readErr
		}
		if strings.HasSuffix(strings.ToLower(rel), ".sh") {
			scripts = append(scripts, session.NamedFile{Name: rel, Body: body})
		} else {
			sources = append(sources, session.NamedFile{Name: rel, Body: body})
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: tests/: %v", ErrExtractionFailed, err)
	}

	sort.Slice(scripts, func(i, j int) bool { return scripts[i].Name < scripts[j].Name })
	sort.Slice(sources, func(i, j int) bool { return sources[i].Name < sources[j].Name })
	return scripts, sources, nil
}

// loadChecksTxt is the fallback when tests/ is absent or yields no scripts:
// each non-empty, non-comment line becomes a synthetic check_<i>.sh.
func loadChecksTxt(path string) ([]session.NamedFile, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, nil
	}

	var scripts []session.NamedFile
	i := 0
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		body := "#!/bin/sh\nset -e\n" + trimmed + "\n"
		scripts = append(scripts, session.NamedFile{
			Name: "check_" + strconv.Itoa(i) + ".sh",
			Body: []byte(body),
		})
		i++
	}
	return scripts, true, nil
}
