package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/treeverse/termstore/pkg/logging"
	"github.com/treeverse/termstore/pkg/service"
)

// withService runs fn on an activated service and deactivates it afterwards.  Failures
// exit the process.
func withService(cmd *cobra.Command, fn func(ctx context.Context, svc *service.Service) error) {
	cfg := loadConfig()
	ctx := cmd.Context()
	svc, err := service.New(ctx, cfg, logging.Default())
	if err != nil {
		fmt.Println("Failed to open store:", err)
		os.Exit(1)
	}
	if err := svc.Activate(ctx); err != nil {
		_ = svc.Close(ctx)
		fmt.Println("Failed to activate store:", err)
		os.Exit(1)
	}
	fnErr := fn(ctx, svc)
	if err := svc.Close(ctx); err != nil {
		fmt.Println("Failed to close store:", err)
		if fnErr == nil {
			os.Exit(1)
		}
	}
	if fnErr != nil {
		fmt.Println(fnErr)
		os.Exit(1)
	}
}
