package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/robstride/robstride-go"
	"github.com/robstride/robstride-go/pkg/protocol"
	"github.com/spf13/cobra"
)

var enableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Enable the motor control loop",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMotor(cmd, func(ctx context.Context, m *robstride.Motor) error {
			return m.Enable(ctx)
		})
	},
}

var disableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Stop the motor control loop",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		clear, err := cmd.Flags().GetBool("clear")
		if err != nil {
			return err
		}
		return withMotor(cmd, func(ctx context.Context, m *robstride.Motor) error {
			return m.Disable(ctx, clear)
		})
	},
}

var modeCmd = &cobra.Command{
	Use:       "mode <motion|position|velocity|current|csp>",
	Short:     "Select the control loop, motor must be disabled",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"motion", "position", "velocity", "current", "csp"},
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, ok := runModes[args[0]]
		if !ok {
			return fmt.Errorf("unknown run mode %q", args[0])
		}
		return withMotor(cmd, func(ctx context.Context, m *robstride.Motor) error {
			return m.SetRunMode(ctx, mode)
		})
	},
}

var runModes = map[string]protocol.RunMode{
	"motion":   protocol.ModeMotionControl,
	"position": protocol.ModePosition,
	"velocity": protocol.ModeVelocity,
	"current":  protocol.ModeCurrent,
	"csp":      protocol.ModeCSP,
}

var moveCmd = &cobra.Command{
	Use:   "move <position>",
	Short: "Send a single motion control setpoint",
	Long:  "Enables the motor in motion control mode and sends one combined position, velocity, gain and feedforward torque setpoint.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pos, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid position %q: %w", args[0], err)
		}
		pf := cmd.Flags()
		vel, _ := pf.GetFloat64("vel")
		kp, _ := pf.GetFloat64("kp")
		kd, _ := pf.GetFloat64("kd")
		torque, _ := pf.GetFloat64("torque")
		return withMotor(cmd, func(ctx context.Context, m *robstride.Motor) error {
			mit, _ := cmd.Flags().GetBool(flagMIT)
			if !mit {
				if err := m.SetRunMode(ctx, protocol.ModeMotionControl); err != nil {
					return err
				}
			}
			if err := m.Enable(ctx); err != nil {
				return err
			}
			return m.MotionControl(protocol.MotionCommand{
				Position: pos,
				Velocity: vel,
				Kp:       kp,
				Kd:       kd,
				Torque:   torque,
			})
		})
	},
}

var positionCmd = &cobra.Command{
	Use:   "position <rad>",
	Short: "Command a position reference, requires position or csp mode",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pos, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid position %q: %w", args[0], err)
		}
		var limit *float64
		if cmd.Flags().Changed("speed-limit") {
			v, _ := cmd.Flags().GetFloat64("speed-limit")
			limit = &v
		}
		return withMotor(cmd, func(ctx context.Context, m *robstride.Motor) error {
			return m.SetPositionReference(ctx, pos, limit)
		})
	},
}

var velocityCmd = &cobra.Command{
	Use:   "velocity <rad/s>",
	Short: "Command a velocity reference, requires velocity mode",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vel, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid velocity %q: %w", args[0], err)
		}
		var limit *float64
		if cmd.Flags().Changed("current-limit") {
			v, _ := cmd.Flags().GetFloat64("current-limit")
			limit = &v
		}
		return withMotor(cmd, func(ctx context.Context, m *robstride.Motor) error {
			return m.SetVelocityReference(ctx, vel, limit)
		})
	},
}

var currentCmd = &cobra.Command{
	Use:   "current <amps>",
	Short: "Command a current reference, requires current mode",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cur, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid current %q: %w", args[0], err)
		}
		return withMotor(cmd, func(ctx context.Context, m *robstride.Motor) error {
			return m.SetCurrentReference(ctx, cur)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query the motor for a fresh status report",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMotor(cmd, func(ctx context.Context, m *robstride.Motor) error {
			st, err := m.FreshStatus(ctx, 0)
			if err != nil {
				return err
			}
			fmt.Printf("motor %d uid %X\n", m.ID(), m.UniqueID())
			fmt.Printf("  position:    %8.3f rad\n", st.Position)
			fmt.Printf("  velocity:    %8.3f rad/s\n", st.Velocity)
			fmt.Printf("  torque:      %8.3f Nm\n", st.Torque)
			fmt.Printf("  temperature: %8.1f C\n", st.Temperature)
			fmt.Printf("  fault:       0x%02X\n", st.Fault)
			return nil
		})
	},
}

var zeroCmd = &cobra.Command{
	Use:   "zero",
	Short: "Set the current mechanical position as zero",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMotor(cmd, func(ctx context.Context, m *robstride.Motor) error {
			return m.SetZeroPosition(ctx)
		})
	},
}

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Persist the motor configuration to flash",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMotor(cmd, func(ctx context.Context, m *robstride.Motor) error {
			return m.SaveConfiguration(ctx)
		})
	},
}

func init() {
	disableCmd.Flags().Bool("clear", false, "clear latched fault bits")
	moveCmd.Flags().Float64("vel", 0, "velocity setpoint in rad/s")
	moveCmd.Flags().Float64("kp", 0, "position gain")
	moveCmd.Flags().Float64("kd", 0, "velocity gain")
	moveCmd.Flags().Float64("torque", 0, "feedforward torque in Nm")
	positionCmd.Flags().Float64("speed-limit", 0, "speed limit in rad/s")
	velocityCmd.Flags().Float64("current-limit", 0, "current limit in A")
	rootCmd.AddCommand(enableCmd, disableCmd, modeCmd, moveCmd, positionCmd, velocityCmd, currentCmd, statusCmd, zeroCmd, saveCmd)
}
