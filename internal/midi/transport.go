package midi

import (
	"fmt"

	"github.com/franz/sysex-librarian/internal/util"
	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

// EndpointInfo identifies a MIDI endpoint. The ID is stable for the
// lifetime of the OS session, the Name is what users see.
type EndpointInfo struct {
	ID   string
	Name string
}

// IsValid reports whether this refers to a real endpoint
func (e EndpointInfo) IsValid() bool {
	return e.ID != ""
}

// InputPort is an open MIDI input delivering messages to a callback
type InputPort interface {
	Info() EndpointInfo
	// Start begins delivery. Calling Start on a running port is a restart.
	Start() error
	Stop()
	Close() error
}

// OutputPort is an open MIDI output
type OutputPort interface {
	Info() EndpointInfo
	Send(msg Message) error
	Close() error
}

// Transport abstracts the OS MIDI layer so tests can substitute an
// in-memory simulator with identical semantics.
type Transport interface {
	Inputs() ([]EndpointInfo, error)
	Outputs() ([]EndpointInfo, error)
	// OpenInput opens the input and delivers complete messages to recv.
	// partial receives growing SysEx chunks before a frame completes and
	// may be nil.
	OpenInput(id string, recv func(Message), partial func(data []byte, bytesSoFar int)) (InputPort, error)
	OpenOutput(id string) (OutputPort, error)
}

// DriverTransport is the production Transport on top of the gomidi
// driver layer.
type DriverTransport struct{}

// NewDriverTransport returns a Transport using the system MIDI driver
func NewDriverTransport() *DriverTransport {
	return &DriverTransport{}
}

func (t *DriverTransport) Inputs() ([]EndpointInfo, error) {
	ins, err := drivers.Ins()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate MIDI inputs: %w", err)
	}
	var result []EndpointInfo
	for _, in := range ins {
		result = append(result, EndpointInfo{ID: fmt.Sprintf("in:%d:%s", in.Number(), in.String()), Name: in.String()})
	}
	return result, nil
}

func (t *DriverTransport) Outputs() ([]EndpointInfo, error) {
	outs, err := drivers.Outs()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate MIDI outputs: %w", err)
	}
	var result []EndpointInfo
	for _, out := range outs {
		result = append(result, EndpointInfo{ID: fmt.Sprintf("out:%d:%s", out.Number(), out.String()), Name: out.String()})
	}
	return result, nil
}

func (t *DriverTransport) OpenInput(id string, recv func(Message), partial func([]byte, int)) (InputPort, error) {
	ins, err := drivers.Ins()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate MIDI inputs: %w", err)
	}
	for _, in := range ins {
		info := EndpointInfo{ID: fmt.Sprintf("in:%d:%s", in.Number(), in.String()), Name: in.String()}
		if info.ID == id {
			if err := in.Open(); err != nil {
				return nil, fmt.Errorf("failed to open MIDI input %s: %w", info.Name, err)
			}
			return &driverInput{in: in, info: info, recv: recv}, nil
		}
	}
	return nil, fmt.Errorf("MIDI input %s: %w", id, util.ErrInvalidPort)
}

func (t *DriverTransport) OpenOutput(id string) (OutputPort, error) {
	outs, err := drivers.Outs()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate MIDI outputs: %w", err)
	}
	for _, out := range outs {
		info := EndpointInfo{ID: fmt.Sprintf("out:%d:%s", out.Number(), out.String()), Name: out.String()}
		if info.ID == id {
			if err := out.Open(); err != nil {
				return nil, fmt.Errorf("failed to open MIDI output %s: %w", info.Name, err)
			}
			return &driverOutput{out: out, info: info}, nil
		}
	}
	return nil, fmt.Errorf("MIDI output %s: %w", id, util.ErrInvalidPort)
}

type driverInput struct {
	in   drivers.In
	info EndpointInfo
	recv func(Message)
	stop func()
}

func (d *driverInput) Info() EndpointInfo { return d.info }

func (d *driverInput) Start() error {
	// A restart replaces the previous listener
	d.Stop()
	stop, err := gomidi.ListenTo(d.in, func(msg gomidi.Message, _ int32) {
		d.recv(Message(msg.Bytes()))
	}, gomidi.UseSysEx(), gomidi.SysExBufferSize(65536))
	if err != nil {
		return fmt.Errorf("failed to listen on MIDI input %s: %w", d.info.Name, err)
	}
	d.stop = stop
	return nil
}

func (d *driverInput) Stop() {
	if d.stop != nil {
		d.stop()
		d.stop = nil
	}
}

func (d *driverInput) Close() error {
	d.Stop()
	return d.in.Close()
}

type driverOutput struct {
	out  drivers.Out
	info EndpointInfo
}

func (d *driverOutput) Info() EndpointInfo { return d.info }

func (d *driverOutput) Send(msg Message) error {
	return d.out.Send([]byte(msg))
}

func (d *driverOutput) Close() error {
	return d.out.Close()
}
