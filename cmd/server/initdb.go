package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ashureev/oracle-shell/internal/archive"
	"github.com/ashureev/oracle-shell/internal/config"
	"github.com/ashureev/oracle-shell/internal/domain"
	"github.com/ashureev/oracle-shell/internal/store"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Create the shard collection and verify the store with a test shard",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadStorage()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()
		return initDB(ctx, cfg.DBPath, cmd.OutOrStdout())
	},
}

// initDB makes sure the shard collection exists, then writes, reads back
// and removes a test shard.
func initDB(ctx context.Context, dbPath string, out io.Writer) error {
	docs, err := store.NewSQLite(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer docs.Close()

	shards, err := archive.New(ctx, docs)
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}

	collections, err := docs.Collections(ctx)
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	fmt.Fprintf(out, "Collections: %v\n", collections)

	test := &domain.TruthShard{
		ID:        "test_" + uuid.NewString(),
		Timestamp: time.Now(),
		Mode:      domain.ModeClairvoyant,
		Prompt:    "Test prompt",
		Response:  "Test response",
		Owner:     "0x0000000000000000000000000000000000000000",
	}
	if _, err := shards.UpsertShard(ctx, test); err != nil {
		return fmt.Errorf("write test shard: %w", err)
	}
	fmt.Fprintf(out, "Test shard written: %s\n", test.ID)

	found, err := shards.FindShardByID(ctx, test.ID)
	if err != nil {
		return fmt.Errorf("read test shard: %w", err)
	}
	if found.Prompt != test.Prompt || found.Response != test.Response {
		return fmt.Errorf("read test shard: content mismatch")
	}
	fmt.Fprintln(out, "Test shard read back")

	if err := docs.Delete(ctx, archive.Collection, test.ID); err != nil {
		return fmt.Errorf("clean up test shard: %w", err)
	}
	fmt.Fprintln(out, "Test shard removed")
	fmt.Fprintln(out, "Database initialization complete")
	return nil
}
