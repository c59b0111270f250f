package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/robstride/robstride-go"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "rsctl",
	Short:        "Robstride servo motor control tool",
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) {
	rootCmd.ExecuteContext(ctx)
}

const (
	flagAdapter  = "adapter"
	flagPort     = "port"
	flagBaudrate = "baudrate"
	flagRate     = "rate"
	flagID       = "id"
	flagHost     = "host"
	flagTimeout  = "timeout"
	flagMIT      = "mit"
	flagDebug    = "debug"
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringP(flagAdapter, "a", "slcan", "what adapter to use")
	pf.StringP(flagPort, "p", "/dev/ttyUSB0", "com-port")
	pf.IntP(flagBaudrate, "b", 921600, "com-port baudrate")
	pf.Float64P(flagRate, "r", 1000, "CAN bitrate in kbit/s")
	pf.Uint8P(flagID, "i", 127, "motor CAN id")
	pf.Uint16(flagHost, 0xFD, "host CAN id")
	pf.DurationP(flagTimeout, "t", time.Second, "reply timeout")
	pf.Bool(flagMIT, false, "use the MIT compatible protocol")
	pf.BoolP(flagDebug, "d", false, "debug mode")
}

func adapterConfig(cmd *cobra.Command) (string, *robstride.AdapterConfig, error) {
	pf := cmd.Flags()
	name, err := pf.GetString(flagAdapter)
	if err != nil {
		return "", nil, err
	}
	port, err := pf.GetString(flagPort)
	if err != nil {
		return "", nil, err
	}
	baudrate, err := pf.GetInt(flagBaudrate)
	if err != nil {
		return "", nil, err
	}
	rate, err := pf.GetFloat64(flagRate)
	if err != nil {
		return "", nil, err
	}
	debug, err := pf.GetBool(flagDebug)
	if err != nil {
		return "", nil, err
	}
	return name, &robstride.AdapterConfig{
		Debug:        debug,
		Port:         port,
		PortBaudrate: baudrate,
		CANRate:      rate,
	}, nil
}

func initClient(ctx context.Context, cmd *cobra.Command) (*robstride.Client, error) {
	name, cfg, err := adapterConfig(cmd)
	if err != nil {
		return nil, err
	}
	dev, err := robstride.NewAdapter(name, cfg)
	if err != nil {
		return nil, err
	}
	return robstride.New(ctx, dev)
}

// withMotor runs fn against the motor selected by the id flag, with the
// client torn down afterwards.
func withMotor(cmd *cobra.Command, fn func(ctx context.Context, m *robstride.Motor) error) error {
	ctx := cmd.Context()
	c, err := initClient(ctx, cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	pf := cmd.Flags()
	id, err := pf.GetUint8(flagID)
	if err != nil {
		return err
	}
	host, err := pf.GetUint16(flagHost)
	if err != nil {
		return err
	}
	timeout, err := pf.GetDuration(flagTimeout)
	if err != nil {
		return err
	}
	mit, err := pf.GetBool(flagMIT)
	if err != nil {
		return err
	}

	opts := []robstride.MotorOpt{
		robstride.WithHostID(host),
		robstride.WithTimeout(timeout),
	}
	if mit {
		opts = append(opts, robstride.WithMIT())
	}
	m := c.Motor(id, opts...)
	if err := m.Connect(ctx); err != nil {
		return fmt.Errorf("connect motor %d: %w", id, err)
	}
	defer m.Close()
	return fn(ctx, m)
}
