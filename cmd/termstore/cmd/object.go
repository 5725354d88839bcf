package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/treeverse/termstore/pkg/revision"
	"github.com/treeverse/termstore/pkg/service"
	"github.com/treeverse/termstore/pkg/store"
)

const branchFlagName = "branch"

var objectCmd = &cobra.Command{
	Use:   "object",
	Short: "Inspect object revisions",
}

var objectHistoryCmd = &cobra.Command{
	Use:   "history <object id>",
	Short: "Print the revisions of an object on a branch",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		branchID, _ := cmd.Flags().GetInt32(branchFlagName)
		withService(cmd, func(ctx context.Context, svc *service.Service) error {
			id, err := svc.Repo.IDs().CreateID(args[0])
			if err != nil {
				return err
			}
			var history []store.Revision
			err = svc.Repo.Pools().Read(ctx, func(tx store.Tx) error {
				var err error
				history, err = revision.History(ctx, tx, store.BranchID(branchID), id)
				return err
			})
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "VERSION\tTYPE\tCREATED\tREVISED\tFIELDS")
			for _, r := range history {
				_, _ = fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%v\n", r.Version, r.Type, r.CreatedAt, r.RevisedAt, r.Fields)
			}
			return w.Flush()
		})
	},
}

//nolint:gochecknoinits
func init() {
	objectHistoryCmd.Flags().Int32(branchFlagName, int32(store.MainBranchID), "branch id")
	objectCmd.AddCommand(objectHistoryCmd)
	rootCmd.AddCommand(objectCmd)
}
