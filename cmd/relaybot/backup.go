package main

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"relaybot/internal/config"
	"relaybot/internal/store"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// Archive entry names.
const (
	entryDatabase = "users.db"
	entryUsers    = "users.json"
	entryConfig   = "config.json"
)

// archiveEntry is one file of a backup, read from Path or held in Data.
type archiveEntry struct {
	Name string
	Path string
	Data []byte
}

func (e archiveEntry) size() int64 {
	if e.Path == "" {
		return int64(len(e.Data))
	}
	info, err := os.Stat(e.Path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create a backup of the user registry and config",
		Long: `Writes a .tar.gz archive holding a consistent snapshot of the users
database, the registry exported as users.json and the configuration file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if outputPath == "" {
				dir := filepath.Join(config.DefaultConfigDir(), "backups")
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				outputPath = filepath.Join(dir, "relaybot-backup-"+time.Now().Format("20060102-150405")+".tar.gz")
			}

			cfgPath := resolveConfigPath()
			return withStore(func(ctx context.Context, s *store.SQLiteStore) error {
				entries, err := createBackup(ctx, s, cfgPath, outputPath)
				if err != nil {
					return fmt.Errorf("backup failed: %w", err)
				}
				fmt.Printf("Backup created: %s\n", outputPath)
				for _, e := range entries {
					fmt.Printf("  - %s (%s)\n", e.Name, humanize.Bytes(uint64(e.size())))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: ~/.relaybot/backups/relaybot-backup-<timestamp>.tar.gz)")
	cmd.AddCommand(restoreCmd())
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore [file.tar.gz]",
		Short: "Restore the user registry and config from a backup archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			dbPath := resolveDBPath(cfgPath)

			if !force {
				for _, p := range []string{dbPath, cfgPath} {
					if _, err := os.Stat(p); err == nil {
						return fmt.Errorf("%s exists, restore aborted (use --force to overwrite)", p)
					}
				}
			}

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			restored, err := restoreBackup(ctx, args[0], dbPath, cfgPath)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}
			fmt.Printf("Restored from %s:\n", args[0])
			for _, line := range restored {
				fmt.Printf("  - %s\n", line)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing data")
	return cmd
}

// resolveDBPath returns the configured users database, falling back to
// users.db next to the config file when the config cannot be loaded.
func resolveDBPath(cfgPath string) string {
	if cfg, err := config.Load(cfgPath); err == nil && cfg.Store.DBPath != "" {
		return cfg.Store.DBPath
	}
	return filepath.Join(filepath.Dir(cfgPath), entryDatabase)
}

// createBackup snapshots s and writes the archive to outputPath. A missing
// config file is left out.
func createBackup(ctx context.Context, s *store.SQLiteStore, cfgPath, outputPath string) ([]archiveEntry, error) {
	tmp, err := os.MkdirTemp("", "relaybot-backup-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmp)

	snapshot := filepath.Join(tmp, entryDatabase)
	if err := s.Snapshot(ctx, snapshot); err != nil {
		return nil, err
	}
	users, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	export, err := json.MarshalIndent(store.Export(users), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode users: %w", err)
	}

	entries := []archiveEntry{
		{Name: entryDatabase, Path: snapshot},
		{Name: entryUsers, Data: export},
	}
	if _, err := os.Stat(cfgPath); err == nil {
		entries = append(entries, archiveEntry{Name: entryConfig, Path: cfgPath})
	}
	if err := writeArchive(outputPath, entries); err != nil {
		os.Remove(outputPath)
		return nil, err
	}
	return entries, nil
}

func writeArchive(outputPath string, entries []archiveEntry) error {
	out, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		if err := writeEntry(tw, e); err != nil {
			return fmt.Errorf("add %s: %w", e.Name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return out.Close()
}

func writeEntry(tw *tar.Writer, e archiveEntry) error {
	var r io.Reader = bytes.NewReader(e.Data)
	if e.Path != "" {
		f, err := os.Open(e.Path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	hdr := &tar.Header{
		Name:    e.Name,
		Mode:    0o644,
		Size:    e.size(),
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := io.CopyN(tw, r, hdr.Size)
	return err
}

// restoreBackup unpacks an archive made by createBackup. The database
// snapshot replaces dbPath. An archive carrying only users.json is imported
// into the database at dbPath instead. Unknown entries are skipped.
func restoreBackup(ctx context.Context, archivePath, dbPath, cfgPath string) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("not a valid gzip file: %w", err)
	}
	defer gz.Close()

	var (
		restored []string
		users    []byte
		haveDB   bool
	)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch filepath.Base(hdr.Name) {
		case entryDatabase:
			if err := replaceFile(dbPath, tr); err != nil {
				return nil, err
			}
			// A stale WAL would be replayed over the restored snapshot.
			os.Remove(dbPath + "-wal")
			os.Remove(dbPath + "-shm")
			haveDB = true
			restored = append(restored, dbPath)
		case entryConfig:
			if err := replaceFile(cfgPath, tr); err != nil {
				return nil, err
			}
			restored = append(restored, cfgPath)
		case entryUsers:
			if users, err = io.ReadAll(tr); err != nil {
				return nil, fmt.Errorf("read %s: %w", entryUsers, err)
			}
		default:
			logger.Warn("skipping unknown archive entry", "name", hdr.Name)
		}
	}

	if !haveDB && users != nil {
		s, err := store.NewSQLiteStore(dbPath, logger)
		if err != nil {
			return nil, err
		}
		defer s.Close()
		added, err := s.Import(ctx, bytes.NewReader(users))
		if err != nil {
			return nil, err
		}
		restored = append(restored, fmt.Sprintf("%s (%d users imported)", dbPath, added))
	}
	if len(restored) == 0 {
		return nil, fmt.Errorf("%s holds no relaybot backup entries", archivePath)
	}
	return restored, nil
}

// replaceFile writes r to a sibling temp file and renames it over path.
func replaceFile(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("extract %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
