// Copyright (c) 2026 Certmaster Team
// Certmaster - SSH certificate authority control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	log "github.com/charmbracelet/log"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"

	"github.com/dreilach/certmaster/internal/db"
	"github.com/dreilach/certmaster/internal/i18n"
	"github.com/dreilach/certmaster/internal/model"
)

var fullRestore bool

// backupCmd dumps the database into a zstd-compressed JSON file.
var backupCmd = &cobra.Command{
	Use:   "backup [output-file]",
	Short: "Create a compressed (zstd) JSON backup of the database",
	Long: `Dumps the entire Certmaster database (organizations, CA keys, issued
certificates, hosts, audit log) into a single Zstandard-compressed JSON
file. CA private keys stay in their sealed form; a backup never
contains plaintext key material.

If no output file is given, 'certmaster-backup-YYYY-MM-DD.json.zst' is
used. The file can restore into any supported database backend, so it
also works for migrating between SQLite and PostgreSQL.`,
	Args:    cobra.MaximumNArgs(1),
	PreRunE: setupDefaultServices,
	Run: func(cmd *cobra.Command, args []string) {
		var outputFile string
		if len(args) == 0 {
			outputFile = fmt.Sprintf("certmaster-backup-%s.json.zst", time.Now().Format("2006-01-02"))
		} else {
			outputFile = args[0]
			if !strings.HasSuffix(outputFile, ".zst") {
				outputFile += ".zst"
			}
		}

		data, err := db.GetStore().ExportAll()
		if err != nil {
			log.Fatalf("failed to export database: %v", err)
		}
		data.Version = model.BackupVersion

		outf, err := os.Create(outputFile)
		if err != nil {
			log.Fatalf("failed to create backup file: %v", err)
		}
		defer func() { _ = outf.Close() }()

		if err := writeCompressedBackup(outf, data); err != nil {
			log.Fatalf("failed to write backup: %v", err)
		}
		fmt.Printf("%s: %s\n", i18n.T("backup.written"), outputFile)
	},
}

// restoreCmd restores the database from a compressed JSON backup.
var restoreCmd = &cobra.Command{
	Use:   "restore <backup-file.zst>",
	Short: "Restore the database from a compressed JSON backup",
	Long: `Restores the Certmaster database from a Zstandard-compressed JSON
backup file. By default this is a non-destructive "integration"
restore that only adds data which does not already exist.

To perform a full, destructive restore that WIPES all existing data
first, use the --full flag. WARNING: --full is not reversible.`,
	Args:    cobra.ExactArgs(1),
	PreRunE: setupDefaultServices,
	Run: func(cmd *cobra.Command, args []string) {
		f, err := os.Open(args[0])
		if err != nil {
			log.Fatalf("failed to open backup file: %v", err)
		}
		defer func() { _ = f.Close() }()

		data, err := readCompressedBackup(f)
		if err != nil {
			log.Fatalf("failed to read backup: %v", err)
		}

		if fullRestore {
			ans := promptForConfirmation("This WIPES all existing data. Continue (yes/no)? ")
			if ans != "yes" && ans != "y" {
				fmt.Println("Cancelled.")
				return
			}
		}

		if err := db.GetStore().ImportAll(data, fullRestore); err != nil {
			log.Fatalf("failed to import backup: %v", err)
		}
		fmt.Printf("%s: %s\n", i18n.T("backup.restored"), args[0])
	},
}

func init() {
	restoreCmd.Flags().BoolVar(&fullRestore, "full", false, "Perform a full, destructive restore (wipes all existing data first)")
}

// writeCompressedBackup streams the JSON encoding through a zstd writer.
func writeCompressedBackup(w io.Writer, data *model.BackupData) error {
	zstdWriter, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("could not create zstd writer: %w", err)
	}

	encoder := json.NewEncoder(zstdWriter)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		_ = zstdWriter.Close()
		return fmt.Errorf("could not encode json to zstd writer: %w", err)
	}
	// Close flushes the zstd frame; without it the file is truncated.
	return zstdWriter.Close()
}

// readCompressedBackup decodes a zstd-compressed JSON backup.
func readCompressedBackup(r io.Reader) (*model.BackupData, error) {
	zstdReader, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("could not create zstd reader: %w", err)
	}
	defer zstdReader.Close()

	var backupData model.BackupData
	if err := json.NewDecoder(zstdReader).Decode(&backupData); err != nil {
		return nil, fmt.Errorf("could not decode json from zstd reader: %w", err)
	}
	return &backupData, nil
}
