package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"xficredit/app"
	"xficredit/config"
	"xficredit/core/state"
	"xficredit/native/bank"
	"xficredit/reports"
	"xficredit/storage"
)

type reportOptions struct {
	db       string
	backend  string
	protocol string
	out      string
	s3       reports.S3Config
}

func newReportCmd() *cobra.Command {
	var opts reportOptions
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write a reconciliation report from a ledger database",
		Long: `Restore the ledgers from a stopped ledgerd database and write balances and
loans as CSV and Parquet, optionally copying them to an S3 bucket.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReport(cmd.Context(), cmd, opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.db, "db", "", "ledger database path")
	flags.StringVar(&opts.backend, "backend", storage.BackendLevelDB, "storage backend (leveldb or bolt)")
	flags.StringVar(&opts.protocol, "protocol", "config/protocol.toml", "protocol configuration")
	flags.StringVar(&opts.out, "out", "reports", "output directory")
	flags.StringVar(&opts.s3.Bucket, "s3-bucket", "", "upload the report to this bucket")
	flags.StringVar(&opts.s3.Endpoint, "s3-endpoint", "", "S3 compatible endpoint")
	flags.StringVar(&opts.s3.Region, "s3-region", "us-east-1", "bucket region")
	flags.StringVar(&opts.s3.Prefix, "s3-prefix", "xficredit", "object key prefix")
	flags.BoolVar(&opts.s3.ForcePathStyle, "s3-path-style", false, "use path style addressing")
	_ = cmd.MarkFlagRequired("db")
	return cmd
}

func runReport(ctx context.Context, cmd *cobra.Command, opts reportOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	// config.Load would create a fresh protocol file with a new owner.
	if _, err := os.Stat(opts.protocol); err != nil {
		return fmt.Errorf("protocol config: %w", err)
	}
	protocolCfg, err := config.Load(opts.protocol)
	if err != nil {
		return err
	}
	db, err := storage.Open(opts.backend, opts.db)
	if err != nil {
		return fmt.Errorf("open %s: %w", opts.db, err)
	}
	defer db.Close()

	// Restoring never moves funds, so an empty bank stands in for custody.
	b := bank.NewBank()
	ledgers, err := app.New(protocolCfg, app.Options{
		Store:       state.NewManager(db),
		YieldPort:   b.Port(app.CustodyAddress(app.YieldCustody)),
		LendingPort: b.Port(app.CustodyAddress(app.LendingCustody)),
	})
	if err != nil {
		return err
	}

	paths, err := reports.Write(opts.out, reports.Build(ledgers, time.Now()))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, p := range paths {
		fmt.Fprintln(out, p)
	}
	if opts.s3.Bucket == "" {
		return nil
	}
	opts.s3.AccessKey = os.Getenv("AWS_ACCESS_KEY_ID")
	opts.s3.SecretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	uploader, err := reports.NewS3Uploader(ctx, opts.s3)
	if err != nil {
		return err
	}
	keys, err := uploader.Upload(ctx, paths)
	if err != nil {
		return err
	}
	for _, key := range keys {
		fmt.Fprintf(out, "s3://%s/%s\n", opts.s3.Bucket, key)
	}
	return nil
}
