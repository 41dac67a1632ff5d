package main

import (
	"encoding/json"
	"fmt"

	"github.com/Sternrassler/reportstream/pkg/store"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewSnapshotCmd creates the snapshot command.
func NewSnapshotCmd() *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "snapshot <report>",
		Short: "Print a stored snapshot",
		Long: `Print a snapshot stored in Redis as JSON. Without --run the most recent
snapshot of the report is printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.RedisAddr == "" {
				return fmt.Errorf("redis_addr is not configured")
			}
			rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
			defer rdb.Close()
			mgr := store.NewManager(rdb, cfg.SnapshotTTL())

			var entry *store.Entry
			if runID == "" {
				entry, err = mgr.Latest(cmd.Context(), args[0])
			} else {
				entry, err = mgr.Get(cmd.Context(), store.Key{RunID: runID, Report: args[0]})
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(entry)
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run ID (default: latest)")
	return cmd
}
