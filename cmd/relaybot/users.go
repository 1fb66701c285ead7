package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"relaybot/internal/config"
	"relaybot/internal/store"

	"github.com/spf13/cobra"
)

func usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Inspect the user registry",
		Long:  "List, count and import the users who started the bot.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print all users as users.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, s *store.SQLiteStore) error {
				users, err := s.List(ctx)
				if err != nil {
					return err
				}
				data, _ := json.MarshalIndent(store.Export(users), "", "  ")
				fmt.Println(string(data))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "count",
		Short: "Print the number of registered users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, s *store.SQLiteStore) error {
				n, err := s.Count(ctx)
				if err != nil {
					return err
				}
				fmt.Println(n)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "import [file]",
		Short: "Import users from a users.json export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return withStore(func(ctx context.Context, s *store.SQLiteStore) error {
				n, err := s.Import(ctx, f)
				if err != nil {
					return err
				}
				logger.Info("users imported", "file", args[0], "new", n)
				return nil
			})
		},
	})

	return cmd
}

// withStore opens the configured user store for the duration of fn.
func withStore(fn func(ctx context.Context, s *store.SQLiteStore) error) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	s, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return fn(ctx, s)
}
