package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/robstride/robstride-go"
	"github.com/robstride/robstride-go/pkg/protocol"
	"github.com/spf13/cobra"
)

var paramCmd = &cobra.Command{
	Use:   "param",
	Short: "Read and write motor parameters",
}

var paramListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the known parameters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, d := range protocol.Parameters() {
			access := "rw"
			if d.ReadOnly {
				access = "ro"
			}
			fmt.Printf("0x%04X  %-14s %s  [%g, %g]\n", d.Addr, d.Name, access, d.Range.Min, d.Range.Max)
		}
		return nil
	},
}

var paramReadCmd = &cobra.Command{
	Use:   "read <name|0xADDR>",
	Short: "Read a parameter from the motor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		desc, err := resolveParam(args[0])
		if err != nil {
			return err
		}
		return withMotor(cmd, func(ctx context.Context, m *robstride.Motor) error {
			v, err := m.ReadParameter(ctx, desc.Addr, 0)
			if err != nil {
				return err
			}
			fmt.Printf("%s = %g\n", desc.Name, v)
			return nil
		})
	},
}

var paramWriteCmd = &cobra.Command{
	Use:   "write <name|0xADDR> <value>",
	Short: "Write a parameter to the motor",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		desc, err := resolveParam(args[0])
		if err != nil {
			return err
		}
		value, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid value %q: %w", args[1], err)
		}
		return withMotor(cmd, func(ctx context.Context, m *robstride.Motor) error {
			return m.WriteParameter(ctx, desc.Addr, value, 0)
		})
	},
}

func resolveParam(s string) (protocol.Descriptor, error) {
	if d, ok := protocol.LookupName(s); ok {
		return d, nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		addr, err := strconv.ParseUint(s[2:], 16, 16)
		if err == nil {
			if d, ok := protocol.Lookup(uint16(addr)); ok {
				return d, nil
			}
		}
	}
	return protocol.Descriptor{}, fmt.Errorf("unknown parameter %q", s)
}

func init() {
	paramCmd.AddCommand(paramListCmd, paramReadCmd, paramWriteCmd)
	rootCmd.AddCommand(paramCmd)
}
