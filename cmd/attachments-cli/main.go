package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"jan-server/services/attachments-api/pkg/rowfilesclient"
)

var version = "1.0.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "attachments-cli",
	Short: "Synchronize row attachments with attachments-api",
	Long: `attachments-cli reconciles a local directory of row attachments with the
attachments-api server using the manifest protocol.

Examples:
  # Show what the server stores for a row
  attachments-cli manifest --app default --table census --etag v1 --row uuid:42

  # Bring a local directory and the server into agreement
  attachments-cli sync ./row-files --app default --table census --etag v1 --row uuid:42`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

type scopeFlags struct {
	url     string
	token   string
	app     string
	table   string
	etag    string
	row     string
	timeout time.Duration
	retries int
}

var flags scopeFlags

func init() {
	rootCmd.AddCommand(manifestCmd)
	rootCmd.AddCommand(syncCmd)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.url, "url", envOr("ATTACHMENTS_API_URL", "http://localhost:8290"), "attachments-api base URL")
	pf.StringVar(&flags.token, "token", os.Getenv("ATTACHMENTS_API_TOKEN"), "bearer token")
	pf.StringVar(&flags.app, "app", "default", "app id")
	pf.StringVar(&flags.table, "table", "", "table id")
	pf.StringVar(&flags.etag, "etag", "", "schema ETag")
	pf.StringVar(&flags.row, "row", "", "row id")
	pf.DurationVar(&flags.timeout, "timeout", 60*time.Second, "per-request timeout")
	pf.IntVar(&flags.retries, "retries", 3, "retries when the row is locked by another writer")
}

func (f scopeFlags) scope() (rowfilesclient.Scope, error) {
	if f.table == "" || f.etag == "" || f.row == "" {
		return rowfilesclient.Scope{}, fmt.Errorf("--table, --etag and --row are required")
	}
	return rowfilesclient.Scope{AppID: f.app, TableID: f.table, SchemaETag: f.etag, RowID: f.row}, nil
}

func (f scopeFlags) client() *rowfilesclient.Client {
	return rowfilesclient.New(f.url,
		rowfilesclient.WithToken(f.token),
		rowfilesclient.WithTimeout(f.timeout),
		rowfilesclient.WithRetries(f.retries),
	)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
