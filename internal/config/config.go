// Package config holds the settings for a sync run.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/openmined/remotesync/internal/changes"
	"github.com/openmined/remotesync/internal/remote"
	"github.com/openmined/remotesync/internal/utils"
	"github.com/openmined/remotesync/internal/watchdog"
)

var (
	home, _            = os.UserHomeDir()
	DefaultConfigDir   = filepath.Join(home, ".remotesync")
	DefaultJournalPath = filepath.Join(DefaultConfigDir, "journal.db")
	DefaultLogFilePath = filepath.Join(DefaultConfigDir, "logs", "remotesync.log")
	DefaultSSHKeyDir   = filepath.Join(home, ".ssh")
	DefaultKnownHosts  = filepath.Join(home, ".ssh", "known_hosts")
)

const (
	DefaultRetryBackoff = time.Second
	DefaultChunkSize    = 32 * 1024
	DefaultWatcher      = string(changes.KindAuto)
)

type Config struct {
	SourceDir  string `mapstructure:"source"`
	TargetType string `mapstructure:"type"`
	Target     string `mapstructure:"target"`

	Watcher     string `mapstructure:"watcher"`
	FswatchPath string `mapstructure:"fswatch_path"`

	WatchdogTimeout time.Duration `mapstructure:"watchdog_timeout"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	ChunkSize       int           `mapstructure:"chunk_size"`

	SSHPort       int    `mapstructure:"ssh_port"`
	SSHKeyDir     string `mapstructure:"ssh_key_dir"`
	SSHKnownHosts string `mapstructure:"ssh_known_hosts"`
	FTPPort       int    `mapstructure:"ftp_port"`
	S3Region      string `mapstructure:"s3_region"`
	S3Endpoint    string `mapstructure:"s3_endpoint"`

	// JournalPath is the upload history database. Empty disables it.
	JournalPath string `mapstructure:"journal"`
	LogFile     string `mapstructure:"log_file"`
	Debug       bool   `mapstructure:"debug"`
}

// Default returns a config with every tunable at its default value
func Default() *Config {
	return &Config{
		Watcher:         DefaultWatcher,
		WatchdogTimeout: watchdog.DefaultTimeout,
		RetryBackoff:    DefaultRetryBackoff,
		ChunkSize:       DefaultChunkSize,
		SSHKeyDir:       DefaultSSHKeyDir,
		SSHKnownHosts:   DefaultKnownHosts,
		JournalPath:     DefaultJournalPath,
		LogFile:         DefaultLogFilePath,
	}
}

// Validate normalizes paths and checks every setting. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.SourceDir == "" {
		errs = append(errs, errors.New("source directory is required"))
	} else if dir, err := utils.ResolvePath(c.SourceDir); err != nil {
		errs = append(errs, fmt.Errorf("source directory: %w", err))
	} else if !utils.DirExists(dir) {
		errs = append(errs, fmt.Errorf("source directory %q does not exist", dir))
	} else {
		c.SourceDir = dir
	}

	c.TargetType = strings.ToLower(strings.TrimSpace(c.TargetType))
	if !slices.Contains(remote.Kinds(), remote.Kind(c.TargetType)) {
		errs = append(errs, fmt.Errorf("%w %q", remote.ErrUnknownTargetType, c.TargetType))
	}
	if strings.TrimSpace(c.Target) == "" {
		errs = append(errs, errors.New("target is required"))
	}

	switch changes.Kind(c.Watcher) {
	case changes.KindAuto, changes.KindNative, changes.KindFswatch:
	default:
		errs = append(errs, fmt.Errorf("watcher must be auto, native or fswatch, got %q", c.Watcher))
	}

	if c.WatchdogTimeout <= 0 {
		errs = append(errs, fmt.Errorf("watchdog timeout must be positive, got %s", c.WatchdogTimeout))
	}
	if c.RetryBackoff <= 0 {
		errs = append(errs, fmt.Errorf("retry backoff must be positive, got %s", c.RetryBackoff))
	}
	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize))
	}
	if c.SSHPort < 0 || c.SSHPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ssh port %d", c.SSHPort))
	}
	if c.FTPPort < 0 || c.FTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ftp port %d", c.FTPPort))
	}

	for _, p := range []*string{&c.JournalPath, &c.LogFile, &c.SSHKeyDir, &c.SSHKnownHosts} {
		if *p == "" || *p == ":memory:" {
			continue
		}
		resolved, err := utils.ResolvePath(*p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*p = resolved
	}

	return errors.Join(errs...)
}

// RemoteOptions maps the transfer settings onto remote client options
func (c *Config) RemoteOptions() remote.Options {
	return remote.Options{
		WatchdogTimeout: c.WatchdogTimeout,
		ChunkSize:       c.ChunkSize,
		SSH: remote.SSHOptions{
			Port:           c.SSHPort,
			KeyDir:         c.SSHKeyDir,
			KnownHostsFile: c.SSHKnownHosts,
		},
		FTP: remote.FTPOptions{
			Port: c.FTPPort,
		},
		S3: remote.S3Options{
			Region:   c.S3Region,
			Endpoint: c.S3Endpoint,
		},
	}
}

// WatcherOptions maps the watcher settings onto change source options
func (c *Config) WatcherOptions() changes.Options {
	return changes.Options{
		Mode:        changes.Kind(c.Watcher),
		FswatchPath: c.FswatchPath,
	}
}
