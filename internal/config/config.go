// Package config loads the pipeline's TOML configuration and converts it
// into the runtime types the other packages consume.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Hensonam23/self-learning-ai/internal/logger"
	"github.com/Hensonam23/self-learning-ai/internal/probe"
	"github.com/Hensonam23/self-learning-ai/internal/supervisor"
)

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Paths       PathsConfig     `toml:"paths" mapstructure:"paths"`
	Apply       ApplyConfig     `toml:"apply" mapstructure:"apply"`
	Maintenance Maintenance     `toml:"maintenance" mapstructure:"maintenance"`
	Services    []ServiceConfig `toml:"services" mapstructure:"services"`
	Selftest    SelftestConfig  `toml:"selftest" mapstructure:"selftest"`
	Git         GitConfig       `toml:"git" mapstructure:"git"`
	Schedules   Schedules       `toml:"schedules" mapstructure:"schedules"`
	History     HistoryConfig   `toml:"history" mapstructure:"history"`
	Server      ServerConfig    `toml:"server" mapstructure:"server"`
	Log         *logger.Config  `toml:"log" mapstructure:"log"`
}

type PathsConfig struct {
	ProposalsDir  string   `toml:"proposals_dir" mapstructure:"proposals_dir"`
	BackupDir     string   `toml:"backup_dir" mapstructure:"backup_dir"`
	LockFile      string   `toml:"lock_file" mapstructure:"lock_file"`
	CriticalFiles []string `toml:"critical_files" mapstructure:"critical_files"`
}

type ApplyConfig struct {
	StaleAfter     time.Duration `toml:"stale_after" mapstructure:"stale_after"`
	PayloadTimeout time.Duration `toml:"payload_timeout" mapstructure:"payload_timeout"`
	RestartWait    time.Duration `toml:"restart_wait" mapstructure:"restart_wait"`
	PollInterval   time.Duration `toml:"poll_interval" mapstructure:"poll_interval"`
}

// Maintenance describes the routine upkeep proposal seeded at boot when the
// queue is empty. An empty command disables seeding.
type Maintenance struct {
	Title   string `toml:"title" mapstructure:"title"`
	Command string `toml:"command" mapstructure:"command"`
}

type ServiceConfig struct {
	Name           string      `toml:"name" mapstructure:"name"`
	StopCommand    string      `toml:"stop_command" mapstructure:"stop_command"`
	RestartCommand string      `toml:"restart_command" mapstructure:"restart_command"`
	Probe          ProbeConfig `toml:"probe" mapstructure:"probe"`
}

type ProbeConfig struct {
	Type    string        `toml:"type" mapstructure:"type"` // http|tcp|command
	URL     string        `toml:"url" mapstructure:"url"`
	Addr    string        `toml:"addr" mapstructure:"addr"`
	Command string        `toml:"command" mapstructure:"command"`
	Timeout time.Duration `toml:"timeout" mapstructure:"timeout"`
}

// SelftestConfig points the API checks at the managed daemon.
type SelftestConfig struct {
	BaseURL string `toml:"base_url" mapstructure:"base_url"`
	APIKey  string `toml:"api_key" mapstructure:"api_key"`
	Topic   string `toml:"topic" mapstructure:"topic"`
}

type GitConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	RepoDir string `toml:"repo_dir" mapstructure:"repo_dir"`
	Push    bool   `toml:"push" mapstructure:"push"`
}

type Schedules struct {
	Apply    string `toml:"apply" mapstructure:"apply"`       // e.g. "@every 15m"
	Watchdog string `toml:"watchdog" mapstructure:"watchdog"` // e.g. "@every 1m"
}

type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	APIKey   string `toml:"api_key" mapstructure:"api_key"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

// Load reads, validates and defaults a TOML config file.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	fc.applyDefaults(filepath.Dir(path))
	if err := fc.validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

func (c *FileConfig) applyDefaults(baseDir string) {
	if c.Paths.ProposalsDir == "" {
		c.Paths.ProposalsDir = filepath.Join(baseDir, "proposals")
	}
	if c.Paths.BackupDir == "" {
		c.Paths.BackupDir = filepath.Join(baseDir, "backups")
	}
	if c.Paths.LockFile == "" {
		c.Paths.LockFile = filepath.Join(baseDir, "maintenance.lock")
	}
	if c.Apply.StaleAfter <= 0 {
		c.Apply.StaleAfter = time.Hour
	}
	if c.Maintenance.Title == "" {
		c.Maintenance.Title = "routine maintenance"
	}
	if c.Schedules.Apply == "" {
		c.Schedules.Apply = "@every 15m"
	}
	if c.Schedules.Watchdog == "" {
		c.Schedules.Watchdog = "@every 1m"
	}
	if c.Server.Listen == "" {
		c.Server.Listen = "127.0.0.1:8787"
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/api"
	}
}

func (c *FileConfig) validate() error {
	if len(c.Paths.CriticalFiles) == 0 {
		return errors.New("paths.critical_files must list at least one file")
	}
	seen := make(map[string]bool)
	for i, s := range c.Services {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("services[%d]: name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("services: duplicate name %q", s.Name)
		}
		seen[s.Name] = true
		if _, err := buildProbe(s.Probe); err != nil {
			return fmt.Errorf("service %s: %w", s.Name, err)
		}
	}
	if c.Git.Enabled && strings.TrimSpace(c.Git.RepoDir) == "" {
		return errors.New("git.repo_dir is required when git.enabled is true")
	}
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("server.base_path must start with /: %q", c.Server.BasePath)
	}
	return nil
}

// RuntimeServices converts the service sections into supervisor services
// with their probes attached.
func (c *FileConfig) RuntimeServices() ([]supervisor.Service, error) {
	out := make([]supervisor.Service, 0, len(c.Services))
	for _, s := range c.Services {
		p, err := buildProbe(s.Probe)
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", s.Name, err)
		}
		svc := supervisor.Service{
			Name:           s.Name,
			StopCommand:    s.StopCommand,
			RestartCommand: s.RestartCommand,
			Probe:          p,
		}
		out = append(out, svc.WithDefaults())
	}
	return out, nil
}

func buildProbe(pc ProbeConfig) (probe.Probe, error) {
	switch pc.Type {
	case "":
		return nil, nil
	case "http":
		if pc.URL == "" {
			return nil, errors.New("http probe requires url")
		}
		return probe.HTTPProbe{URL: pc.URL, Timeout: pc.Timeout}, nil
	case "tcp":
		if pc.Addr == "" {
			return nil, errors.New("tcp probe requires addr")
		}
		return probe.TCPProbe{Addr: pc.Addr, Timeout: pc.Timeout}, nil
	case "command":
		if strings.TrimSpace(pc.Command) == "" {
			return nil, errors.New("command probe requires command")
		}
		return probe.CommandProbe{Command: pc.Command}, nil
	default:
		return nil, fmt.Errorf("unknown probe type %q", pc.Type)
	}
}
