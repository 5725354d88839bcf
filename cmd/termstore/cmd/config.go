package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/treeverse/termstore/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration, secrets elided",
	Run: func(cmd *cobra.Command, args []string) {
		_ = loadConfig()
		out, err := config.ToYAML()
		if err != nil {
			fmt.Println("Failed to dump config:", err)
			os.Exit(1)
		}
		fmt.Print(string(out))
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(configCmd)
}
