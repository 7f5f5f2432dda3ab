package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/openmined/remotesync/internal/config"
	"github.com/openmined/remotesync/internal/syncer"
	"github.com/openmined/remotesync/internal/version"
	"github.com/spf13/cobra"
)

const configFileName = "config"

func newRootCmd() *cobra.Command {
	defaults := config.Default()

	cmd := &cobra.Command{
		Use:   "remotesync <source> <type> <target>",
		Short: "Mirror a local directory onto a remote target",
		Long: `Mirror a local directory onto a remote target.

Types and target formats:
  scp    user[:password]@host:/remote/dir
  sftp   user[:password]@host:/remote/dir
  ftp    user[:password]@host[:port]/dir   (//dir for an absolute path)
  s3     [access_key[:secret_key]@]bucket[/prefix]`,
		Version: version.Detailed(),
		Args:    cobra.MaximumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, args)
			if err != nil {
				return err
			}

			engine, err := syncer.NewEngine(cfg)
			if err != nil {
				return err
			}
			defer engine.Close()

			// config is good, errors from here on are not usage errors
			cmd.SilenceUsage = true

			closeLog, err := setupLogging(cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			showHeader(cmd.OutOrStdout(), cfg.SourceDir, engine.TargetName())
			defer slog.Info("bye")
			return engine.Run(cmd.Context())
		},
	}

	cmd.Flags().SortFlags = false
	cmd.Flags().String("watcher", defaults.Watcher, "Change source: auto, native or fswatch")
	cmd.Flags().String("fswatch-path", "", "Path to the fswatch binary")
	cmd.Flags().Duration("watchdog-timeout", defaults.WatchdogTimeout, "Abort a transfer after this long without progress")
	cmd.Flags().Duration("retry-backoff", defaults.RetryBackoff, "Pause after a failed remote operation")
	cmd.Flags().Int("chunk-size", defaults.ChunkSize, "Transfer chunk size in bytes")
	cmd.Flags().Int("ssh-port", 0, "SSH port for scp and sftp targets (default 22)")
	cmd.Flags().String("ssh-key-dir", defaults.SSHKeyDir, "Directory with SSH private keys")
	cmd.Flags().String("known-hosts", defaults.SSHKnownHosts, "SSH known_hosts file, empty disables host key checks")
	cmd.Flags().Int("ftp-port", 0, "Default FTP port when the target has none (default 21)")
	cmd.Flags().String("s3-region", "", "S3 region")
	cmd.Flags().String("s3-endpoint", "", "S3 compatible endpoint URL")
	cmd.Flags().String("journal", defaults.JournalPath, "Upload journal database, empty disables it")
	cmd.Flags().String("log-file", defaults.LogFile, "Log file, empty disables file logging")
	cmd.PersistentFlags().StringP("config", "c", "", "Config file (default ~/.remotesync/config.{json,yaml})")
	cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newHistoryCmd())
	return cmd
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
