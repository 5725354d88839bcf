package cmd

import (
	"context"
	"fmt"
	"math"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/treeverse/termstore/pkg/query"
	"github.com/treeverse/termstore/pkg/service"
	"github.com/treeverse/termstore/pkg/store"
)

const (
	idsFlagName   = "ids"
	paramFlagName = "param"
)

var commitsCmd = &cobra.Command{
	Use:   "commits",
	Short: "Inspect the commit log",
}

var commitsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List commits in time order",
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		var branch *store.BranchID
		if flags.Changed(branchFlagName) {
			id, _ := flags.GetInt32(branchFlagName)
			b := store.BranchID(id)
			branch = &b
		}
		fromTime, _ := flags.GetInt64(fromTimeFlagName)
		toTime, _ := flags.GetInt64(toTimeFlagName)
		withService(cmd, func(ctx context.Context, svc *service.Service) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "TIME\tPREVIOUS\tBRANCH\tUSER\tCOMMENT")
			err := svc.Repo.CommitLog(ctx, branch, fromTime, toTime, func(ci store.CommitInfo) error {
				_, err := fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%s\n", ci.CommitTime, ci.PreviousTime, ci.BranchID, ci.UserID, ci.Comment)
				return err
			})
			if err != nil {
				return err
			}
			return w.Flush()
		})
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Run a read-only query against the store with :name parameters",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ids, _ := cmd.Flags().GetBool(idsFlagName)
		params, _ := cmd.Flags().GetStringToString(paramFlagName)
		q := query.Query{Text: args[0], IDs: ids}
		if len(params) > 0 {
			q.Named = make(map[string]interface{}, len(params))
			for k, v := range params {
				q.Named[k] = v
			}
		}
		withService(cmd, func(ctx context.Context, svc *service.Service) error {
			res, err := svc.Query(ctx, q)
			if err != nil {
				return err
			}
			if ids {
				for _, id := range res.IDs {
					fmt.Println(id)
				}
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			for i, col := range res.Rows.Columns {
				if i > 0 {
					_, _ = fmt.Fprint(w, "\t")
				}
				_, _ = fmt.Fprint(w, col)
			}
			_, _ = fmt.Fprintln(w)
			for _, row := range res.Rows.Values {
				for i, v := range row {
					if i > 0 {
						_, _ = fmt.Fprint(w, "\t")
					}
					_, _ = fmt.Fprint(w, v)
				}
				_, _ = fmt.Fprintln(w)
			}
			return w.Flush()
		})
	},
}

//nolint:gochecknoinits
func init() {
	flags := commitsListCmd.Flags()
	flags.Int32(branchFlagName, 0, "only commits of this branch id")
	flags.Int64(fromTimeFlagName, 0, "earliest commit time")
	flags.Int64(toTimeFlagName, math.MaxInt64, "latest commit time")
	commitsCmd.AddCommand(commitsListCmd)

	queryCmd.Flags().Bool(idsFlagName, false, "decode the first column as object ids")
	queryCmd.Flags().StringToString(paramFlagName, nil, "named parameter value, name=value")
	rootCmd.AddCommand(commitsCmd, queryCmd)
}
