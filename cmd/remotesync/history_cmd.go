package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/openmined/remotesync/internal/config"
	"github.com/openmined/remotesync/internal/journal"
	"github.com/openmined/remotesync/internal/utils"
	"github.com/spf13/cobra"
)

const defaultHistoryLimit = 20

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the most recent uploads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newViper(cmd)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")

			path := v.GetString("journal")
			if path == "" {
				return errors.New("journal is disabled")
			}
			if path, err = utils.ResolvePath(path); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !utils.FileExists(path) {
				fmt.Fprintln(out, gray.Render("no uploads recorded"))
				return nil
			}

			j, err := journal.Open(path)
			if err != nil {
				return err
			}
			defer j.Close()

			entries, err := j.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, gray.Render("no uploads recorded"))
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "UPLOADED\tSIZE\tTOOK\tPATH\tTARGET\tRUN")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					humanize.Time(e.UploadedAt),
					humanize.Bytes(uint64(e.Size)),
					e.Duration,
					e.RemotePath,
					e.Target,
					shortRunID(e.RunID),
				)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			total, err := j.Count(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(out, gray.Render(fmt.Sprintf("showing %d of %d uploads", len(entries), total)))
			return nil
		},
	}

	cmd.Flags().IntP("limit", "n", defaultHistoryLimit, "Number of uploads to show")
	cmd.Flags().String("journal", config.DefaultJournalPath, "Upload journal database")
	return cmd
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
