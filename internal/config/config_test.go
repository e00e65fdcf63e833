package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Hensonam23/self-learning-ai/internal/probe"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "evolve.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const fullConfig = `
[paths]
proposals_dir = "/var/lib/evolve/proposals"
backup_dir = "/var/lib/evolve/backups"
lock_file = "/run/evolve/maintenance.lock"
critical_files = ["/opt/brain/brain.py", "/opt/brain/memory.json"]

[apply]
stale_after = "2h"
payload_timeout = "10m"
restart_wait = "45s"

[maintenance]
title = "nightly upkeep"
command = "python3 /opt/brain/reindex.py"

[[services]]
name = "brain"
stop_command = "systemctl stop brain"
restart_command = "systemctl restart brain"
  [services.probe]
  type = "http"
  url = "http://127.0.0.1:8000/health"
  timeout = "2s"

[[services]]
name = "web"
  [services.probe]
  type = "tcp"
  addr = "127.0.0.1:8080"

[selftest]
base_url = "http://127.0.0.1:8000"
api_key = "secret"
topic = "selfcheck-pinned"

[git]
enabled = true
repo_dir = "/opt/brain"
push = false

[schedules]
apply = "@every 30m"
watchdog = "@every 2m"

[history]
dsn = "sqlite:///var/lib/evolve/history.db"

[server]
listen = "127.0.0.1:9900"
api_key = "server-key"
base_path = "/api"

[log]
dir = "/var/log/evolve"
level = "debug"
`

func TestLoadFullConfig(t *testing.T) {
	c, err := Load(writeConfig(t, fullConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Apply.StaleAfter != 2*time.Hour {
		t.Fatalf("stale_after = %v, want 2h", c.Apply.StaleAfter)
	}
	if c.Apply.PayloadTimeout != 10*time.Minute {
		t.Fatalf("payload_timeout = %v, want 10m", c.Apply.PayloadTimeout)
	}
	if len(c.Paths.CriticalFiles) != 2 {
		t.Fatalf("critical_files = %v", c.Paths.CriticalFiles)
	}
	if c.Maintenance.Command != "python3 /opt/brain/reindex.py" {
		t.Fatalf("maintenance command = %q", c.Maintenance.Command)
	}
	if c.Schedules.Apply != "@every 30m" || c.Schedules.Watchdog != "@every 2m" {
		t.Fatalf("schedules = %+v", c.Schedules)
	}
	if c.History.DSN == "" || c.Server.APIKey != "server-key" {
		t.Fatalf("history/server sections not decoded: %+v %+v", c.History, c.Server)
	}
	if c.Log == nil || c.Log.Level != "debug" {
		t.Fatalf("log section not decoded: %+v", c.Log)
	}

	svcs, err := c.RuntimeServices()
	if err != nil {
		t.Fatalf("RuntimeServices: %v", err)
	}
	if len(svcs) != 2 {
		t.Fatalf("services = %d, want 2", len(svcs))
	}
	hp, ok := svcs[0].Probe.(probe.HTTPProbe)
	if !ok || hp.URL != "http://127.0.0.1:8000/health" || hp.Timeout != 2*time.Second {
		t.Fatalf("brain probe = %#v", svcs[0].Probe)
	}
	if _, ok := svcs[1].Probe.(probe.TCPProbe); !ok {
		t.Fatalf("web probe = %#v", svcs[1].Probe)
	}
	if svcs[1].StopCommand != "systemctl stop web" {
		t.Fatalf("default stop command = %q", svcs[1].StopCommand)
	}
}

func TestLoadDefaults(t *testing.T) {
	body := `
[paths]
critical_files = ["/opt/brain/brain.py"]
`
	path := writeConfig(t, body)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	base := filepath.Dir(path)
	if c.Paths.ProposalsDir != filepath.Join(base, "proposals") {
		t.Fatalf("proposals_dir = %q", c.Paths.ProposalsDir)
	}
	if c.Paths.LockFile != filepath.Join(base, "maintenance.lock") {
		t.Fatalf("lock_file = %q", c.Paths.LockFile)
	}
	if c.Apply.StaleAfter != time.Hour {
		t.Fatalf("stale_after default = %v, want 1h", c.Apply.StaleAfter)
	}
	if c.Apply.PayloadTimeout != 0 {
		t.Fatalf("payload_timeout default = %v, want 0 (unlimited)", c.Apply.PayloadTimeout)
	}
	if c.Schedules.Apply != "@every 15m" || c.Schedules.Watchdog != "@every 1m" {
		t.Fatalf("schedule defaults = %+v", c.Schedules)
	}
	if c.Server.Listen != "127.0.0.1:8787" || c.Server.BasePath != "/api" {
		t.Fatalf("server defaults = %+v", c.Server)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"no critical files": `
[paths]
proposals_dir = "/tmp/p"
`,
		"nameless service": `
[paths]
critical_files = ["/f"]
[[services]]
stop_command = "true"
`,
		"duplicate service": `
[paths]
critical_files = ["/f"]
[[services]]
name = "brain"
[[services]]
name = "brain"
`,
		"unknown probe type": `
[paths]
critical_files = ["/f"]
[[services]]
name = "brain"
  [services.probe]
  type = "icmp"
`,
		"http probe without url": `
[paths]
critical_files = ["/f"]
[[services]]
name = "brain"
  [services.probe]
  type = "http"
`,
		"git enabled without repo": `
[paths]
critical_files = ["/f"]
[git]
enabled = true
`,
		"bad base path": `
[paths]
critical_files = ["/f"]
[server]
base_path = "api"
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatal("invalid config accepted")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("missing file accepted")
	}
}
