package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/treeverse/termstore/pkg/service"
	"github.com/treeverse/termstore/pkg/store"
)

const userPrefixFlagName = "user-prefix"

var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "Inspect, export and import durable lock areas",
}

var locksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List lock areas",
	Run: func(cmd *cobra.Command, args []string) {
		prefix, _ := cmd.Flags().GetString(userPrefixFlagName)
		withService(cmd, func(ctx context.Context, svc *service.Service) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "AREA\tUSER\tBRANCH POINT\tREAD ONLY\tLOCKS")
			err := svc.Repo.Locks().GetLockAreas(ctx, prefix, func(area store.LockArea) error {
				_, err := fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%d\n", area.ID, area.UserID, area.BranchPoint, area.ReadOnly, len(area.Locks))
				return err
			})
			if err != nil {
				return err
			}
			return w.Flush()
		})
	},
}

var locksDeleteCmd = &cobra.Command{
	Use:   "delete <area id>",
	Short: "Delete a lock area and all its locks",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withService(cmd, func(ctx context.Context, svc *service.Service) error {
			return svc.Repo.Locks().DeleteLockArea(ctx, args[0])
		})
	},
}

var locksExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Export all lock areas as JSON lines",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withService(cmd, func(ctx context.Context, svc *service.Service) error {
			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			bar := progressbar.Default(-1, "exporting")
			err = svc.Repo.Locks().RawExport(ctx, f, bar)
			_ = bar.Finish()
			if closeErr := f.Close(); err == nil {
				err = closeErr
			}
			return err
		})
	},
}

var locksImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import lock areas exported by 'locks export' in one transaction",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withService(cmd, func(ctx context.Context, svc *service.Service) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()
			bar := progressbar.Default(-1, "importing")
			defer func() { _ = bar.Finish() }()
			return svc.Repo.Locks().RawImport(ctx, f, bar)
		})
	},
}

//nolint:gochecknoinits
func init() {
	locksListCmd.Flags().String(userPrefixFlagName, "", "only areas of users with this prefix")
	locksCmd.AddCommand(locksListCmd, locksDeleteCmd, locksExportCmd, locksImportCmd)
	rootCmd.AddCommand(locksCmd)
}
