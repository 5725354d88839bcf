package cmd

import (
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/treeverse/termstore/pkg/branch"
	"github.com/treeverse/termstore/pkg/service"
	"github.com/treeverse/termstore/pkg/store"
)

const (
	baseFlagName     = "base"
	baseTimeFlagName = "base-time"
	localFlagName    = "local"
)

var branchCmd = &cobra.Command{
	Use:   "branch",
	Short: "Create and inspect branches",
}

var branchCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a branch based on another branch at a point in time",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		base, _ := cmd.Flags().GetInt32(baseFlagName)
		baseTime, _ := cmd.Flags().GetInt64(baseTimeFlagName)
		local, _ := cmd.Flags().GetBool(localFlagName)
		withService(cmd, func(ctx context.Context, svc *service.Service) error {
			if baseTime == 0 {
				b, err := svc.Repo.Branches().LoadBranch(ctx, store.BranchID(base))
				if err != nil {
					return err
				}
				baseTime = b.HeadTime
			}
			var opts []branch.CreateOption
			if local {
				opts = append(opts, branch.WithLocal())
			}
			b, err := svc.Repo.Branches().CreateBranch(ctx, store.BranchID(base), args[0], baseTime, opts...)
			if err != nil {
				return err
			}
			fmt.Printf("Branch %s created with id %d\n", b.Name, b.ID)
			return nil
		})
	},
}

var branchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all branches",
	Run: func(cmd *cobra.Command, args []string) {
		withService(cmd, func(ctx context.Context, svc *service.Service) error {
			branches, err := svc.Repo.Branches().LoadBranches(ctx, math.MinInt32, math.MaxInt32)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tNAME\tBASE\tBASE TIME\tHEAD TIME")
			for _, b := range branches {
				_, _ = fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\n", b.ID, b.Name, b.BaseBranchID, b.BaseTimestamp, b.HeadTime)
			}
			return w.Flush()
		})
	},
}

var branchLineageCmd = &cobra.Command{
	Use:   "lineage <id> [time]",
	Short: "Print the branch points visible from a branch",
	Args:  cobra.RangeArgs(1, 2), //nolint:mnd
	Run: func(cmd *cobra.Command, args []string) {
		id, err := strconv.ParseInt(args[0], 10, 32)
		if err != nil {
			fmt.Println("Bad branch id:", err)
			os.Exit(1)
		}
		var t int64
		if len(args) > 1 {
			if t, err = strconv.ParseInt(args[1], 10, 64); err != nil {
				fmt.Println("Bad time:", err)
				os.Exit(1)
			}
		}
		withService(cmd, func(ctx context.Context, svc *service.Service) error {
			if t == 0 {
				b, err := svc.Repo.Branches().LoadBranch(ctx, store.BranchID(id))
				if err != nil {
					return err
				}
				t = b.HeadTime
			}
			lineage, err := svc.Repo.Branches().Lineage(ctx, store.BranchID(id), t)
			if err != nil {
				return err
			}
			for _, p := range lineage {
				fmt.Println(p)
			}
			return nil
		})
	},
}

//nolint:gochecknoinits
func init() {
	branchCreateCmd.Flags().Int32(baseFlagName, int32(store.MainBranchID), "base branch id")
	branchCreateCmd.Flags().Int64(baseTimeFlagName, 0, "base time in ms (default is the base branch head)")
	branchCreateCmd.Flags().Bool(localFlagName, false, "create a local branch")
	branchCmd.AddCommand(branchCreateCmd, branchListCmd, branchLineageCmd)
	rootCmd.AddCommand(branchCmd)
}
