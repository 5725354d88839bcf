package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/treeverse/termstore/pkg/service"
	"github.com/treeverse/termstore/pkg/store"
)

// setupCmd creates the schema and the main branch of a new store
var setupCmd = &cobra.Command{
	Use:     "setup",
	Aliases: []string{"init"},
	Short:   "Setup a new termstore repository",
	Run: func(cmd *cobra.Command, args []string) {
		withService(cmd, func(ctx context.Context, svc *service.Service) error {
			b, err := svc.Repo.Branches().LoadBranch(ctx, store.MainBranchID)
			if err != nil {
				return err
			}
			fmt.Printf("Repository created at %d, %s head at %d\n", svc.Repo.CreationTime(), b.Name, b.HeadTime)
			return nil
		})
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(setupCmd)
}
