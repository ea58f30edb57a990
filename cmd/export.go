package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/headline-tracker/internal/export"
)

func newExportCmd() *cobra.Command {
	var upload bool
	cmd := &cobra.Command{
		Use:   "export OUTPUT.csv",
		Short: "Write the full observation history to a CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := a.Store().AllHistory(cmd.Context())
			if err != nil {
				return fmt.Errorf("load history: %w", err)
			}
			var buf bytes.Buffer
			if err := export.WriteHistoryCSV(&buf, entries); err != nil {
				return err
			}

			out := args[0]
			if dir := filepath.Dir(out); dir != "." {
				if err := os.MkdirAll(dir, 0o750); err != nil {
					return fmt.Errorf("create output dir: %w", err)
				}
			}
			if err := os.WriteFile(out, buf.Bytes(), 0o600); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			printf(cmd, "Exported %d rows to %s\n", len(entries), out)

			if !upload {
				return nil
			}
			blobs, err := a.BlobStore(cmd.Context())
			if err != nil {
				return err
			}
			uri, err := blobs.PutObject(cmd.Context(), "exports/"+filepath.Base(out), "text/csv; charset=utf-8", buf.Bytes())
			if err != nil {
				return fmt.Errorf("upload export: %w", err)
			}
			a.Logger().Info("history export uploaded", zap.String("blob_uri", uri), zap.Int("rows", len(entries)))
			printf(cmd, "Uploaded to %s\n", uri)
			return nil
		},
	}
	cmd.Flags().BoolVar(&upload, "upload", false, "also store the CSV in the configured blob store")
	return cmd
}
