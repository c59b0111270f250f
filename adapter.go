package robstride

import (
	"context"
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/robstride/robstride-go/pkg/frame"
)

// Adapter is the transport boundary: anything that can move 8-byte CAN
// frames on and off a physical (or simulated) bus. Bus configuration such as
// bitrate and interface name is the adapter's concern, not the driver's.
type Adapter interface {
	Name() string
	Open(context.Context) error
	Close() error
	Send() chan<- *frame.CANFrame
	Recv() <-chan *frame.CANFrame
	Err() <-chan error
}

// AdapterInfo describes a registered adapter so tooling can enumerate them.
type AdapterInfo struct {
	Name               string
	Description        string
	RequiresSerialPort bool
	New                func(*AdapterConfig) (Adapter, error)
}

func (a *AdapterInfo) String() string {
	return fmt.Sprintf("%s | %s, requires serial port: %v", a.Name, a.Description, a.RequiresSerialPort)
}

// AdapterConfig carries transport settings. Which fields matter depends on
// the adapter.
type AdapterConfig struct {
	Debug        bool
	Port         string  // serial port or network device name
	PortBaudrate int     // serial baudrate
	CANRate      float64 // bus bitrate in kbit/s
	CANFilter    []uint32
	OnMessage    func(string) // adapter chatter, defaults to the package logger
}

var adapterMap = make(map[string]*AdapterInfo)

// RegisterAdapter adds an adapter to the registry. Called from init() by
// each adapter implementation.
func RegisterAdapter(info *AdapterInfo) error {
	if _, found := adapterMap[info.Name]; found {
		return fmt.Errorf("adapter %q already registered", info.Name)
	}
	adapterMap[info.Name] = info
	return nil
}

// NewAdapter creates a registered adapter by name.
func NewAdapter(adapterName string, cfg *AdapterConfig) (Adapter, error) {
	if cfg.OnMessage == nil {
		cfg.OnMessage = func(msg string) {
			log.Info(msg)
		}
	}
	if info, found := adapterMap[adapterName]; found {
		return info.New(cfg)
	}
	return nil, fmt.Errorf("unknown adapter %q", adapterName)
}

// ListAdapters returns the registered adapters sorted by name.
func ListAdapters() []*AdapterInfo {
	out := make([]*AdapterInfo, 0, len(adapterMap))
	for _, info := range adapterMap {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListAdapterNames returns just the registered adapter names, sorted.
func ListAdapterNames() []string {
	out := make([]string, 0, len(adapterMap))
	for name := range adapterMap {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
