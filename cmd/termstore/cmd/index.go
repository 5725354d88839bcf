package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/treeverse/termstore/pkg/index"
	"github.com/treeverse/termstore/pkg/service"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Index maintenance",
}

var indexRecoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Resolve index commits left pending by a crash",
	Run: func(cmd *cobra.Command, args []string) {
		withService(cmd, func(ctx context.Context, svc *service.Service) error {
			// activation already recovered, anything left here was prepared since
			published, discarded, err := svc.Commits.Recover(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Published %d, discarded %d pending index commits\n", published, discarded)
			return nil
		})
	},
}

var indexGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Run one index garbage collection pass",
	Run: func(cmd *cobra.Command, args []string) {
		withService(cmd, func(ctx context.Context, svc *service.Service) error {
			m, ok := svc.Index.Store().(index.Maintainer)
			if !ok {
				fmt.Println("Index has no maintenance")
				return nil
			}
			rewrites, err := m.CollectGarbage()
			if err != nil {
				return err
			}
			fmt.Printf("Rewrote %d value log files\n", rewrites)
			return nil
		})
	},
}

//nolint:gochecknoinits
func init() {
	indexCmd.AddCommand(indexRecoverCmd, indexGCCmd)
	rootCmd.AddCommand(indexCmd)
}
