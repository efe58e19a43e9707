// Package config loads the settings for the example pathauditor daemon
// (cmd/pathauditor): which mode to audit in, the walk budget, where reports
// go. It is a struct loaded from YAML, with Validate/ApplyDefaults methods.
package config

// AuditorConfig is the root configuration for the example daemon.
type AuditorConfig struct {
	// Mode selects which ProcessView realization to audit with: "self" for
	// SameProcess, "remote" for RemoteProcess against a pid.
	Mode string `yaml:"mode"`

	// WatchPath is the directory shimref watches for fanotify events when
	// Mode is "self".
	WatchPath string `yaml:"watch_path"`

	// RemotePid is the target pid when Mode is "remote".
	RemotePid int `yaml:"remote_pid"`
	// RemoteCwd is that pid's working directory, since the auditor can't
	// safely read it live without racing the very thing it's auditing.
	RemoteCwd string `yaml:"remote_cwd"`
	// RemoteFallback enables falling back to the current mount namespace
	// if RemotePid has already exited.
	RemoteFallback bool `yaml:"remote_fallback"`

	// Budget is the walker's iteration budget. It is validated and
	// defaulted here but not passed on: the daemon's dispatcher always walks
	// with walker.DefaultBudget.
	Budget int `yaml:"budget"`

	// LogFile is where reports are written; empty means stderr.
	LogFile string `yaml:"log_file"`
	// LogFormat is one of "text", "json", "cef".
	LogFormat string `yaml:"log_format"`

	// ProcessCacheSize bounds the procenrich LRU.
	ProcessCacheSize int `yaml:"process_cache_size"`
}
