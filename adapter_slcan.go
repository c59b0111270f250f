package robstride

import (
	"context"
	"fmt"
	"time"

	"go.bug.st/serial"
	"golang.org/x/sync/errgroup"

	"github.com/robstride/robstride-go/pkg/frame"
)

// SLCan speaks the Lawicel serial line CAN protocol used by CANable and
// compatible USB sticks. Both standard ('t') and extended ('T') data frames
// are supported; the private protocol needs the latter.
type SLCan struct {
	BaseAdapter
	port   serial.Port
	g      *errgroup.Group
	closed bool
}

func init() {
	if err := RegisterAdapter(&AdapterInfo{
		Name:               "slcan",
		Description:        "Lawicel SLCAN serial adapter (CANable et al)",
		RequiresSerialPort: true,
		New:                NewSLCan,
	}); err != nil {
		panic(err)
	}
}

func NewSLCan(cfg *AdapterConfig) (Adapter, error) {
	return &SLCan{
		BaseAdapter: NewBaseAdapter("slcan", cfg),
	}, nil
}

func (sl *SLCan) Open(ctx context.Context) error {
	mode := &serial.Mode{
		BaudRate: sl.cfg.PortBaudrate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(sl.cfg.Port, mode)
	if err != nil {
		return fmt.Errorf("failed to open com port %q: %w", sl.cfg.Port, err)
	}
	p.SetReadTimeout(3 * time.Millisecond)
	sl.port = p

	p.ResetOutputBuffer()
	p.ResetInputBuffer()

	if code, ok := slcanBitrate[sl.cfg.CANRate]; ok {
		p.Write([]byte(code))
	} else {
		p.Write([]byte("S8\r")) // servo buses run 1 Mbit unless told otherwise
	}
	time.Sleep(10 * time.Millisecond)
	p.Write([]byte("O\r"))

	sl.g, ctx = errgroup.WithContext(ctx)
	sl.g.Go(func() error { return sl.sendManager(ctx) })
	sl.g.Go(func() error { return sl.recvManager(ctx) })
	return nil
}

var slcanBitrate = map[float64]string{
	10.0:   "S0\r",
	20.0:   "S1\r",
	50.0:   "S2\r",
	100.0:  "S3\r",
	125.0:  "S4\r",
	250.0:  "S5\r",
	500.0:  "S6\r",
	750.0:  "S7\r",
	1000.0: "S8\r",
}

func (sl *SLCan) Close() error {
	sl.CloseBase()
	sl.closed = true
	if sl.port == nil {
		return nil
	}
	time.Sleep(10 * time.Millisecond)
	sl.port.Write([]byte("C\r"))
	time.Sleep(10 * time.Millisecond)
	err := sl.port.Close()
	if sl.g != nil {
		sl.g.Wait()
	}
	return err
}

func (sl *SLCan) sendManager(ctx context.Context) error {
	outBuf := make([]byte, 0, 32)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sl.closeChan:
			return nil
		case f := <-sl.sendChan:
			if err := sl.writeFrame(f, &outBuf); err != nil {
				sl.cfg.OnMessage(fmt.Sprintf("send error: %v", err))
			}
		}
	}
}

func (sl *SLCan) writeFrame(f *frame.CANFrame, outBuf *[]byte) error {
	buf := (*outBuf)[:0]
	if f.Extended {
		// 'T' + 8 hex digit ID + len nibble + data + CR
		buf = append(buf, 'T')
		id := f.Identifier & 0x1FFFFFFF
		for shift := 28; shift >= 0; shift -= 4 {
			buf = append(buf, nybbleToHex(byte(id>>shift)&0xF))
		}
	} else {
		// 't' + 3 hex digit ID + len nibble + data + CR
		buf = append(buf, 't')
		id := f.Identifier & 0x7FF
		buf = append(buf, nybbleToHex(byte(id>>8)&0xF), nybbleToHex(byte(id>>4)&0xF), nybbleToHex(byte(id)&0xF))
	}
	buf = append(buf, nybbleToHex(byte(f.Length())&0xF))
	for _, b := range f.Data {
		buf = append(buf, nybbleToHex(b>>4), nybbleToHex(b&0xF))
	}
	buf = append(buf, '\r')
	if _, err := sl.port.Write(buf); err != nil {
		return fmt.Errorf("failed to write to com port: %w", err)
	}
	if sl.cfg.Debug {
		sl.cfg.OnMessage(">> " + string(buf))
	}
	*outBuf = buf // keep the grown capacity
	return nil
}

func nybbleToHex(n byte) byte {
	if n < 10 {
		return '0' + n
	}
	return 'A' + (n - 10)
}

func hexToNybble(b byte) (byte, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, true
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, true
	}
	return 0, false
}

func (sl *SLCan) recvManager(ctx context.Context) error {
	buf := make([]byte, 0, 1024)
	readBuf := make([]byte, 16)
	for ctx.Err() == nil {
		n, err := sl.port.Read(readBuf)
		if err != nil {
			if !sl.closed {
				sl.Fatal(fmt.Errorf("failed to read com port: %w", err))
				return err
			}
			return nil
		}
		if n == 0 {
			continue
		}
		buf = sl.parse(buf, readBuf[:n])
	}
	return ctx.Err()
}

// parse consumes CR-terminated SLCAN lines and returns any partial tail.
func (sl *SLCan) parse(buf, readBuf []byte) []byte {
	for _, b := range readBuf {
		if b != '\r' {
			buf = append(buf, b)
			continue
		}
		if len(buf) == 0 {
			continue
		}
		switch buf[0] {
		case 't', 'T':
			if sl.cfg.Debug {
				sl.cfg.OnMessage("<< " + string(buf))
			}
			f, err := sl.decodeFrame(buf)
			if err != nil {
				sl.cfg.OnMessage(fmt.Sprintf("%v: %X", err, buf))
				buf = buf[:0]
				continue
			}
			sl.deliver(f)
		case 'z', 'Z':
			// transmit ack, nothing to do
		default:
			sl.cfg.OnMessage(fmt.Sprintf("unknown SLCAN line: %q", buf))
		}
		buf = buf[:0]
	}
	return buf
}

func (sl *SLCan) decodeFrame(line []byte) (*frame.CANFrame, error) {
	extended := line[0] == 'T'
	idLen := 3
	if extended {
		idLen = 8
	}
	if len(line) < 1+idLen+1 {
		return nil, fmt.Errorf("slcan line too short")
	}
	var id uint32
	for _, c := range line[1 : 1+idLen] {
		n, ok := hexToNybble(c)
		if !ok {
			return nil, fmt.Errorf("bad identifier hex")
		}
		id = id<<4 | uint32(n)
	}
	dlcNyb, ok := hexToNybble(line[1+idLen])
	if !ok || dlcNyb > 8 {
		return nil, fmt.Errorf("bad DLC")
	}
	dlc := int(dlcNyb)
	if len(line) < 1+idLen+1+dlc*2 {
		return nil, fmt.Errorf("slcan line truncated")
	}
	data := make([]byte, dlc)
	for i := 0; i < dlc; i++ {
		hi, ok1 := hexToNybble(line[1+idLen+1+i*2])
		lo, ok2 := hexToNybble(line[1+idLen+2+i*2])
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("bad data hex")
		}
		data[i] = hi<<4 | lo
	}
	if extended {
		return frame.NewExtended(id, data, frame.Incoming), nil
	}
	return frame.New(id, data, frame.Incoming), nil
}
