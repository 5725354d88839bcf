package cmd

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/treeverse/termstore/pkg/repository"
	"github.com/treeverse/termstore/pkg/service"
	"github.com/treeverse/termstore/pkg/store"
)

const (
	fromBranchFlagName = "from-branch"
	toBranchFlagName   = "to-branch"
	fromTimeFlagName   = "from-time"
	toTimeFlagName     = "to-time"
)

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Export branches, commits, revisions, external references and lock areas as JSON lines",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		fromBranch, _ := flags.GetInt32(fromBranchFlagName)
		toBranch, _ := flags.GetInt32(toBranchFlagName)
		fromTime, _ := flags.GetInt64(fromTimeFlagName)
		toTime, _ := flags.GetInt64(toTimeFlagName)
		rng := repository.RawRange{
			FromBranch: store.BranchID(fromBranch),
			ToBranch:   store.BranchID(toBranch),
			FromTime:   fromTime,
			ToTime:     toTime,
		}
		withService(cmd, func(ctx context.Context, svc *service.Service) error {
			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			bar := progressbar.Default(-1, "exporting")
			count, err := svc.Repo.RawExport(ctx, f, rng, bar)
			_ = bar.Finish()
			if closeErr := f.Close(); err == nil {
				err = closeErr
			}
			if err != nil {
				return err
			}
			fmt.Printf("Exported %d records to %s\n", count, args[0])
			return nil
		})
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import records written by 'export' in one transaction",
	Long: `Import records written by 'export' in one transaction.  Existing rows are kept,
branch heads only move forward and counters never move back.  The index is not
updated with the imported revisions.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withService(cmd, func(ctx context.Context, svc *service.Service) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()
			bar := progressbar.Default(-1, "importing")
			count, err := svc.Repo.RawImport(ctx, f, bar)
			_ = bar.Finish()
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d records from %s\n", count, args[0])
			return nil
		})
	},
}

//nolint:gochecknoinits
func init() {
	flags := exportCmd.Flags()
	flags.Int32(fromBranchFlagName, math.MinInt32, "first branch id to export")
	flags.Int32(toBranchFlagName, math.MaxInt32, "last branch id to export")
	flags.Int64(fromTimeFlagName, math.MinInt64, "earliest commit time to export")
	flags.Int64(toTimeFlagName, math.MaxInt64, "latest commit time to export")
	rootCmd.AddCommand(exportCmd, importCmd)
}
