package archive

import (
	"archive/zip"
	"bytes"
	"testing"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func minimalArchiveFiles() map[string]string {
	return map[string]string{
		"agent_code/main.py": "print('hello')\n",
		"tasks/task-1/workspace.yaml": "repo: https://example.com/repo.git\n" +
			"version: main\n" +
			"install:\n  - pip install -r requirements.txt\n",
		"tasks/task-1/prompt.md":        "do the thing\n",
		"tasks/task-1/tests/t.sh":       "#!/bin/sh\nexit 0\n",
		"tasks/task-1/tests/helper.txt": "not a script\n",
	}
}

func TestLoad_MinimalArchive(t *testing.T) {
	data := buildZip(t, minimalArchiveFiles())
	dest := t.TempDir()

	extracted, err := Load(data, dest)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if extracted.AgentLanguage != "python" {
		t.Fatalf("expected python, got %s", extracted.AgentLanguage)
	}
	if extracted.AgentCode != "print('hello')\n" {
		t.Fatalf("unexpected agent code: %q", extracted.AgentCode)
	}
	if len(extracted.Tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(extracted.Tasks))
	}
	task := extracted.Tasks[0]
	if task.ID != "task-1" {
		t.Fatalf("expected task id task-1, got %s", task.ID)
	}
	if len(task.TestScripts) != 1 || task.TestScripts[0].Name != "t.sh" {
		t.Fatalf("expected 1 test script named t.sh, got %+v", task.TestScripts)
	}
	if len(task.TestSourceFiles) != 1 || task.TestSourceFiles[0].Name != "helper.txt" {
		t.Fatalf("expected 1 test source file named helper.txt, got %+v", task.TestSourceFiles)
	}
}

func TestLoad_RootOneLevelDeep(t *testing.T) {
	files := map[string]string{}
	for name, content := range minimalArchiveFiles() {
		files["submission/"+name] = content
	}
	data := buildZip(t, files)
	dest := t.TempDir()

	extracted, err := Load(data, dest)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(extracted.Tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(extracted.Tasks))
	}
}

func TestLoad_MultipleAgentFilesConcatenatedSorted(t *testing.T) {
	files := minimalArchiveFiles()
	delete(files, "agent_code/main.py")
	files["agent_code/b.py"] = "second\n"
	files["agent_code/a.py"] = "first\n"
	data := buildZip(t, files)
	dest := t.TempDir()

	extracted, err := Load(data, dest)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := "# --- a.py ---\nfirst\n# --- b.py ---\nsecond\n"
	if extracted.AgentCode != want {
		t.Fatalf("expected concatenated agent code %q, got %q", want, extracted.AgentCode)
	}
}

func TestLoad_EmptyAgentCodeIsFatal(t *testing.T) {
	files := minimalArchiveFiles()
	delete(files, "agent_code/main.py")
	data := buildZip(t, map[string]string{
		"agent_code/":                 "", // directory entry only, no regular files
		"tasks/task-1/workspace.yaml": files["tasks/task-1/workspace.yaml"],
		"tasks/task-1/prompt.md":      files["tasks/task-1/prompt.md"],
	})
	dest := t.TempDir()

	if _, err := Load(data, dest); err == nil {
		t.Fatalf("expected extraction_failed for empty agent_code")
	}
}

func TestLoad_ChecksTxtFallback(t *testing.T) {
	files := map[string]string{
		"agent_code/main.py":         "print(1)\n",
		"tasks/task-1/workspace.yaml": "repo: r\nversion: v\n",
		"tasks/task-1/prompt.md":      "p\n",
		"tasks/task-1/checks.txt":     "# comment\n\necho one\necho two\n",
	}
	data := buildZip(t, files)
	dest := t.TempDir()

	extracted, err := Load(data, dest)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	task := extracted.Tasks[0]
	if len(task.TestScripts) != 2 {
		t.Fatalf("expected 2 synthetic scripts, got %d", len(task.TestScripts))
	}
	if task.TestScripts[0].Name != "check_0.sh" || task.TestScripts[1].Name != "check_1.sh" {
		t.Fatalf("unexpected script names: %+v", task.TestScripts)
	}
}

func TestLoad_MissingRootFails(t *testing.T) {
	data := buildZip(t, map[string]string{"random/file.txt": "x"})
	dest := t.TempDir()

	if _, err := Load(data, dest); err == nil {
		t.Fatalf("expected error for archive with no tasks/ or agent_code/")
	}
}

func TestLanguageDetection(t *testing.T) {
	cases := map[string]string{
		"a.py": "python",
		"a.js": "javascript",
		"a.ts": "typescript",
		"a.sh": "shell",
		"a.rs": "rust",
		"a.go": "go",
		"a.xx": "python",
	}
	for name, want := range cases {
		if got := detectLanguage(name); got != want {
			t.Errorf("detectLanguage(%s) = %s, want %s", name, got, want)
		}
	}
}
