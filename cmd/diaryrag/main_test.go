package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after query are moved first",
			args:     []string{"아이가 걸을 수 있나요?", "-limit", "3"},
			expected: []string{"-limit", "3", "아이가 걸을 수 있나요?"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-threshold", "0.2", "걸음마"},
			expected: []string{"-threshold", "0.2", "걸음마"},
		},
		{
			name:     "bool flags take no value",
			args:     []string{"질문 하나", "-save", "질문 둘"},
			expected: []string{"-save", "질문 하나", "질문 둘"},
		},
		{
			name:     "flag with equals sign",
			args:     []string{"42", "--config=/tmp/c.yaml"},
			expected: []string{"--config=/tmp/c.yaml", "42"},
		},
		{
			name:     "empty args returns empty",
			args:     []string{},
			expected: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := argsReorder(tt.args)
			if len(got) == 0 && len(tt.expected) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("argsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"걸음마"}, "걸음마"},
		{"multiple words", []string{"혼자", "걸어요"}, "혼자 걸어요"},
		{"quoted phrase", []string{"혼자 걸어요 "}, "혼자 걸어요"},
		{"empty", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildQuery(tt.args); got != tt.expected {
				t.Errorf("buildQuery(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("debug: true\n"), 0600); err != nil {
		t.Fatal(err)
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(origWd) }()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func mockConfig(t *testing.T, store string) string {
	return writeConfig(t, `
embedding:
  provider: mock
  dimensions: 64
store:
`+store)
}

func decodeLine(t *testing.T, out string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &m); err != nil {
		t.Fatalf("output is not one JSON object: %v\n%s", err, out)
	}
	return m
}

func TestRun_SearchJSONFromStdinServesBuiltinDataset(t *testing.T) {
	cfgPath := mockConfig(t, "  backend: memory\n")
	stdin := strings.NewReader(`{"query": "아이가 혼자 걸었어요", "limit": 3, "threshold": -1}`)
	var stdout, stderr bytes.Buffer

	code := run([]string{"search", "-config", cfgPath}, stdin, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d, stdout=%s stderr=%s", code, stdout.String(), stderr.String())
	}
	resp := decodeLine(t, stdout.String())
	if resp["success"] != true {
		t.Fatalf("success = %v", resp["success"])
	}
	results, _ := resp["results"].([]any)
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	for _, r := range results {
		id := r.(map[string]any)["id"].(float64)
		if id < 20 || id > 29 {
			t.Errorf("result id %v is not from the built-in dataset", id)
		}
	}
}

func TestRun_UpsertThenSearchWithArgs(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "diaries.db")
	cfgPath := mockConfig(t, "  backend: sqlite\n  path: "+dbPath+"\n")
	empty := &bytes.Buffer{}

	var stdout, stderr bytes.Buffer
	code := run([]string{"upsert", "-config", cfgPath, "-id", "42", "-output", "json", "아이가 처음 혼자 걸었다"}, empty, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("upsert exit code = %d, stdout=%s stderr=%s", code, stdout.String(), stderr.String())
	}
	if resp := decodeLine(t, stdout.String()); resp["success"] != true {
		t.Fatalf("upsert response = %v", resp)
	}

	stdout.Reset()
	code = run([]string{"search", "아이가 처음 혼자 걸었다", "-config", cfgPath, "-limit", "1", "-output", "json"}, empty, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("search exit code = %d, stdout=%s stderr=%s", code, stdout.String(), stderr.String())
	}
	resp := decodeLine(t, stdout.String())
	results, _ := resp["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("results = %v", resp["results"])
	}
	hit := results[0].(map[string]any)
	if hit["id"].(float64) != 42 {
		t.Errorf("top hit id = %v, want 42", hit["id"])
	}
	if score := hit["score"].(float64); score < 0.999 {
		t.Errorf("identical text should score ~1, got %v", score)
	}
}

func TestRun_ModelUnavailableIsFatal(t *testing.T) {
	cfgPath := writeConfig(t, `
embedding:
  provider: onnx
  model_path: /nonexistent/model.onnx
store:
  backend: memory
`)
	var stdout, stderr bytes.Buffer
	code := run([]string{"search", "-config", cfgPath, "-output", "json", "걸음마"}, &bytes.Buffer{}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	resp := decodeLine(t, stdout.String())
	if resp["success"] != false {
		t.Errorf("success = %v, want false", resp["success"])
	}
	if msg, _ := resp["message"].(string); !strings.Contains(msg, "embedding model unavailable") {
		t.Errorf("message = %q", msg)
	}
}

func TestRun_ImportBareArray(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "diaries.db")
	cfgPath := mockConfig(t, "  backend: sqlite\n  path: "+dbPath+"\n")
	file := filepath.Join(t.TempDir(), "diaries.json")
	data := `[{"id": 1, "date": "2025-08-01", "content": "공원에 갔다"}, {"id": 2, "text": "  "}]`
	if err := os.WriteFile(file, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	code := run([]string{"import", "-config", cfgPath, file}, nil, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d, stdout=%s stderr=%s", code, stdout.String(), stderr.String())
	}
	resp := decodeLine(t, stdout.String())
	if resp["total_diaries"].(float64) != 2 || resp["converted"].(float64) != 1 || resp["failed"].(float64) != 1 {
		t.Errorf("import response = %v", resp)
	}
}

func TestRun_VersionAndUnknown(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"version"}, nil, &stdout, &stderr); code != 0 {
		t.Fatalf("version exit code = %d", code)
	}
	if !strings.Contains(stdout.String(), "diaryrag version dev") {
		t.Errorf("version output = %q", stdout.String())
	}
	if code := run([]string{"frobnicate"}, nil, &stdout, &stderr); code != 1 {
		t.Errorf("unknown command exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "Unknown command: frobnicate") {
		t.Errorf("stderr = %q", stderr.String())
	}
}
