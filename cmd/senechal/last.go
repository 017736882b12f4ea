package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"senechal/internal/domain"
	"senechal/internal/snapshot"

	"github.com/spf13/cobra"
)

func lastCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "last",
		Short: "Print the last endpoint response",
		Long:  "Prints the most recent dispatch result in full, as stored before the chat reply was truncated.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if _, err := os.Stat(cfg.Snapshot.Path); err != nil {
				return fmt.Errorf("no snapshot at %s: %w", cfg.Snapshot.Path, err)
			}

			store, err := snapshot.NewSQLiteStore(cfg.Snapshot.Path, logger)
			if err != nil {
				return fmt.Errorf("snapshot store: %w", err)
			}
			defer store.Close()

			snap, err := store.Last(cmd.Context())
			if err != nil {
				return err
			}
			if snap == nil {
				fmt.Println("No command has been dispatched yet.")
				return nil
			}
			if asJSON {
				return writeSnapshotJSON(os.Stdout, snap)
			}
			return writeSnapshot(os.Stdout, snap)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the snapshot as JSON")
	return cmd
}

func writeSnapshot(w io.Writer, s *domain.Snapshot) error {
	fmt.Fprintf(w, "Dispatch:  %s\n", s.DispatchID)
	fmt.Fprintf(w, "When:      %s\n", s.CreatedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(w, "Command:   %s (channel %s)\n", s.CommandSet, s.ChatID)
	fmt.Fprintf(w, "URL:       %s\n", s.URL)
	status := s.Status
	if s.ErrorKind != "" {
		status += " (" + s.ErrorKind + ")"
	}
	fmt.Fprintf(w, "Status:    %s\n", status)
	if s.HTTPStatus != 0 {
		fmt.Fprintf(w, "HTTP:      %d\n", s.HTTPStatus)
	}
	fmt.Fprintf(w, "Latency:   %dms\n", s.LatencyMs)
	if s.Message != "" {
		fmt.Fprintf(w, "Message:   %s\n", s.Message)
	}
	if len(s.Data) > 0 {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, s.Data, "", "  "); err != nil {
			pretty.Reset()
			pretty.Write(s.Data)
		}
		fmt.Fprintf(w, "Data:\n%s\n", pretty.String())
	} else if s.Raw != "" {
		fmt.Fprintf(w, "Body:\n%s\n", s.Raw)
	}
	return nil
}

func writeSnapshotJSON(w io.Writer, s *domain.Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
