package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/openmined/remotesync/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// flag name -> config key
var flagKeys = map[string]string{
	"watcher":          "watcher",
	"fswatch-path":     "fswatch_path",
	"watchdog-timeout": "watchdog_timeout",
	"retry-backoff":    "retry_backoff",
	"chunk-size":       "chunk_size",
	"ssh-port":         "ssh_port",
	"ssh-key-dir":      "ssh_key_dir",
	"known-hosts":      "ssh_known_hosts",
	"ftp-port":         "ftp_port",
	"s3-region":        "s3_region",
	"s3-endpoint":      "s3_endpoint",
	"journal":          "journal",
	"log-file":         "log_file",
	"debug":            "debug",
}

// positional arguments in order
var argKeys = []string{"source", "type", "target"}

// newViper reads the config file and environment. Precedence is flags, then
// environment, then the config file, then flag defaults.
func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()

	if f := cmd.Flag("config"); f != nil && f.Changed {
		v.SetConfigFile(f.Value.String())
	} else {
		v.AddConfigPath(config.DefaultConfigDir)
		v.SetConfigName(configFileName)
	}

	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, ok := err.(viper.ConfigFileNotFoundError)
		if !enoent && !ok {
			return nil, fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	}

	for name, key := range flagKeys {
		if f := cmd.Flag(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	v.SetEnvPrefix("REMOTESYNC")
	v.AutomaticEnv()
	return v, nil
}

func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	v, err := newViper(cmd)
	if err != nil {
		return nil, err
	}

	for i, arg := range args {
		v.Set(argKeys[i], arg)
	}

	return &config.Config{
		SourceDir:       v.GetString("source"),
		TargetType:      v.GetString("type"),
		Target:          v.GetString("target"),
		Watcher:         v.GetString("watcher"),
		FswatchPath:     v.GetString("fswatch_path"),
		WatchdogTimeout: v.GetDuration("watchdog_timeout"),
		RetryBackoff:    v.GetDuration("retry_backoff"),
		ChunkSize:       v.GetInt("chunk_size"),
		SSHPort:         v.GetInt("ssh_port"),
		SSHKeyDir:       v.GetString("ssh_key_dir"),
		SSHKnownHosts:   v.GetString("ssh_known_hosts"),
		FTPPort:         v.GetInt("ftp_port"),
		S3Region:        v.GetString("s3_region"),
		S3Endpoint:      v.GetString("s3_endpoint"),
		JournalPath:     v.GetString("journal"),
		LogFile:         v.GetString("log_file"),
		Debug:           v.GetBool("debug"),
	}, nil
}
