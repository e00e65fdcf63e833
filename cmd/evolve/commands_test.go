package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadPayload(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "cmd.sh")
	if err := os.WriteFile(file, []byte("#!/bin/sh\nexit 0\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	got, err := readPayload(file, "", nil)
	if err != nil || got != "#!/bin/sh\nexit 0\n" {
		t.Fatalf("from file: %q, %v", got, err)
	}

	got, err = readPayload("", "pip install numpy", nil)
	if err != nil {
		t.Fatalf("from command: %v", err)
	}
	if !strings.Contains(got, "set -e") || !strings.Contains(got, "pip install numpy") {
		t.Fatalf("wrapped command = %q", got)
	}

	got, err = readPayload("", "", strings.NewReader("from stdin"))
	if err != nil || got != "from stdin" {
		t.Fatalf("from stdin: %q, %v", got, err)
	}

	if _, err := readPayload(file, "true", nil); err == nil {
		t.Fatal("both --file and --command accepted")
	}
}

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	critical := filepath.Join(dir, "brain.py")
	if err := os.WriteFile(critical, []byte("print('hi')\n"), 0o644); err != nil {
		t.Fatalf("seed critical file: %v", err)
	}
	body := fmt.Sprintf(`
[paths]
proposals_dir = %q
backup_dir = %q
lock_file = %q
critical_files = [%q]
`, filepath.Join(dir, "proposals"), filepath.Join(dir, "backups"),
		filepath.Join(dir, "maintenance.lock"), critical)
	path := filepath.Join(dir, "evolve.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestProposeAndListLocal(t *testing.T) {
	cfg := writeTestConfig(t)

	root := buildRoot()
	root.SetArgs([]string{"propose", "--config", cfg, "--title", "tune prompts", "--command", "true"})
	if err := root.Execute(); err != nil {
		t.Fatalf("propose: %v", err)
	}

	root = buildRoot()
	root.SetArgs([]string{"list", "--config", cfg})
	if err := root.Execute(); err != nil {
		t.Fatalf("list: %v", err)
	}
}

func TestLocalCommandsRequireConfig(t *testing.T) {
	root := buildRoot()
	root.SetArgs([]string{"list"})
	if err := root.Execute(); err == nil {
		t.Fatal("list without --config accepted")
	}
}

func TestRemoteModeUsesDaemon(t *testing.T) {
	var proposed bool
	mux := http.NewServeMux()
	mux.HandleFunc("/api/proposals", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid or missing api key"})
			return
		}
		switch r.Method {
		case http.MethodPost:
			proposed = true
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "20260831-140000_remote"})
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(map[string]any{"proposals": []any{}})
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	root := buildRoot()
	root.SetArgs([]string{"propose", "--api-url", srv.URL + "/api", "--api-key", "secret",
		"--title", "remote", "--command", "true"})
	if err := root.Execute(); err != nil {
		t.Fatalf("remote propose: %v", err)
	}
	if !proposed {
		t.Fatal("daemon never received the proposal")
	}

	root = buildRoot()
	root.SetArgs([]string{"list", "--api-url", srv.URL + "/api"})
	if err := root.Execute(); err == nil {
		t.Fatal("wrong key accepted by daemon")
	}
}

func TestRootHasAllCommands(t *testing.T) {
	root := buildRoot()
	want := []string{"propose", "list", "apply-latest", "watchdog-tick", "selftest", "boot-sequence", "serve"}
	have := make(map[string]bool)
	for _, c := range root.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Fatalf("missing command %q", name)
		}
	}
}
