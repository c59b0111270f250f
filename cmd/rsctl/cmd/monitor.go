package cmd

import (
	"fmt"

	"github.com/robstride/robstride-go"
	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Dump raw bus traffic until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		name, cfg, err := adapterConfig(cmd)
		if err != nil {
			return err
		}
		dev, err := robstride.NewAdapter(name, cfg)
		if err != nil {
			return err
		}
		if err := dev.Open(ctx); err != nil {
			return err
		}
		defer dev.Close()
		for {
			select {
			case <-ctx.Done():
				return nil
			case err := <-dev.Err():
				return err
			case f := <-dev.Recv():
				fmt.Println(f.ColorString())
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}
