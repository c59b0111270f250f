package cmd

import (
	"fmt"

	"github.com/robstride/robstride-go"
	"github.com/spf13/cobra"
)

var adaptersCmd = &cobra.Command{
	Use:   "adapters",
	Short: "List the available CAN adapters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, info := range robstride.ListAdapters() {
			fmt.Println(info.String())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(adaptersCmd)
}
