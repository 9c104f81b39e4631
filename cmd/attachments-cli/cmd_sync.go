package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"jan-server/services/attachments-api/pkg/rowfilesclient"
)

var syncDryRun bool

var syncCmd = &cobra.Command{
	Use:   "sync <dir>",
	Short: "Download missing files and upload local-only files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scope, err := flags.scope()
		if err != nil {
			return err
		}
		report, err := syncDir(cmd.Context(), flags.client(), scope, args[0], syncDryRun)
		if err != nil {
			return err
		}
		report.print(cmd.OutOrStdout())
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "print the plan without transferring files")
}

type syncReport struct {
	Downloaded []string
	Uploaded   []string
	DryRun     bool
}

func (r syncReport) print(w io.Writer) {
	verb := ""
	if r.DryRun {
		verb = "would be "
	}
	for _, p := range r.Downloaded {
		fmt.Fprintf(w, "%sdownloaded  %s\n", verb, p)
	}
	for _, p := range r.Uploaded {
		fmt.Fprintf(w, "%suploaded    %s\n", verb, p)
	}
	if len(r.Downloaded)+len(r.Uploaded) == 0 {
		fmt.Fprintln(w, "already in sync")
	}
}

// syncDir brings dir and the server row into agreement. Server content wins
// for paths present on both sides.
func syncDir(ctx context.Context, client *rowfilesclient.Client, scope rowfilesclient.Scope, dir string, dryRun bool) (syncReport, error) {
	report := syncReport{DryRun: dryRun}

	local, err := buildLocalManifest(dir)
	if err != nil {
		return report, err
	}
	plan, err := client.Diff(ctx, scope, local)
	if err != nil {
		return report, fmt.Errorf("diff: %w", err)
	}

	if dryRun {
		for _, f := range plan.ToSend {
			report.Downloaded = append(report.Downloaded, f.Filename)
		}
		report.Uploaded = append(report.Uploaded, plan.ToReceive...)
		return report, nil
	}

	if len(plan.ToSend) > 0 {
		// Request by name only; the server's hashes would mark them as already held.
		wanted := make([]rowfilesclient.FileEntry, 0, len(plan.ToSend))
		for _, f := range plan.ToSend {
			wanted = append(wanted, rowfilesclient.FileEntry{Filename: f.Filename})
		}
		files, err := client.Download(ctx, scope, wanted)
		if err != nil {
			return report, fmt.Errorf("download: %w", err)
		}
		for _, f := range files {
			if err := writeLocalFile(dir, f); err != nil {
				return report, err
			}
			report.Downloaded = append(report.Downloaded, f.Path)
		}
	}

	if len(plan.ToReceive) > 0 {
		files := make([]rowfilesclient.File, 0, len(plan.ToReceive))
		for _, p := range plan.ToReceive {
			f, err := readLocalFile(dir, p)
			if err != nil {
				return report, err
			}
			files = append(files, f)
		}
		if _, err := client.Upload(ctx, scope, files); err != nil {
			return report, fmt.Errorf("upload: %w", err)
		}
		report.Uploaded = append(report.Uploaded, plan.ToReceive...)
	}
	return report, nil
}

func writeLocalFile(dir string, f rowfilesclient.File) error {
	target, err := localPath(dir, f.Path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	return os.WriteFile(target, f.Data, 0o644)
}
