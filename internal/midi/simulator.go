package midi

import (
	"fmt"
	"sync"

	"github.com/franz/sysex-librarian/internal/util"
)

// Reply routes a simulated device response to a named input
type Reply struct {
	Input   string
	Message Message
}

// Responder models the device side of a simulated MIDI network: it
// receives whatever is sent to an output and may reply on any input.
type Responder func(output EndpointInfo, msg Message) []Reply

// Simulator is an in-memory Transport for tests. Endpoints can be
// added and removed at runtime to exercise the hot-plug path, and a
// Responder can stand in for a synth on the other end of the cable.
type Simulator struct {
	mu        sync.Mutex
	inputs    map[string]*simInput
	outputs   map[string]EndpointInfo
	responder Responder
	sent      []Message
}

// NewSimulator creates an empty simulated MIDI network
func NewSimulator() *Simulator {
	return &Simulator{
		inputs:  make(map[string]*simInput),
		outputs: make(map[string]EndpointInfo),
	}
}

type simInput struct {
	info    EndpointInfo
	mu      sync.Mutex
	recv    func(Message)
	partial func([]byte, int)
	started bool
	open    bool
}

// AddInput registers a simulated input endpoint
func (s *Simulator) AddInput(name string) EndpointInfo {
	info := EndpointInfo{ID: "sim-in:" + name, Name: name}
	s.mu.Lock()
	s.inputs[info.ID] = &simInput{info: info}
	s.mu.Unlock()
	return info
}

// AddOutput registers a simulated output endpoint
func (s *Simulator) AddOutput(name string) EndpointInfo {
	info := EndpointInfo{ID: "sim-out:" + name, Name: name}
	s.mu.Lock()
	s.outputs[info.ID] = info
	s.mu.Unlock()
	return info
}

// RemoveInput unplugs a simulated input
func (s *Simulator) RemoveInput(info EndpointInfo) {
	s.mu.Lock()
	delete(s.inputs, info.ID)
	s.mu.Unlock()
}

// RemoveOutput unplugs a simulated output
func (s *Simulator) RemoveOutput(info EndpointInfo) {
	s.mu.Lock()
	delete(s.outputs, info.ID)
	s.mu.Unlock()
}

// SetResponder installs the device model answering sends
func (s *Simulator) SetResponder(r Responder) {
	s.mu.Lock()
	s.responder = r
	s.mu.Unlock()
}

// SentMessages returns everything sent through any simulated output
func (s *Simulator) SentMessages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message{}, s.sent...)
}

// Inject delivers a message to an input as if a device had sent it
func (s *Simulator) Inject(input EndpointInfo, msg Message) {
	s.deliver(input.ID, msg)
}

// InjectPartial delivers a partial SysEx chunk to an input
func (s *Simulator) InjectPartial(input EndpointInfo, data []byte, soFar int) {
	s.mu.Lock()
	in := s.inputs[input.ID]
	s.mu.Unlock()
	if in == nil {
		return
	}
	in.mu.Lock()
	partial := in.partial
	started := in.started
	in.mu.Unlock()
	if started && partial != nil {
		partial(data, soFar)
	}
}

func (s *Simulator) deliver(inputID string, msg Message) {
	s.mu.Lock()
	in := s.inputs[inputID]
	s.mu.Unlock()
	if in == nil {
		util.DebugLog("Simulator: dropping message for unplugged input %s", inputID)
		return
	}
	in.mu.Lock()
	recv := in.recv
	started := in.started
	in.mu.Unlock()
	if started && recv != nil {
		recv(msg)
	}
}

// Inputs implements Transport
func (s *Simulator) Inputs() ([]EndpointInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []EndpointInfo
	for _, in := range s.inputs {
		result = append(result, in.info)
	}
	return result, nil
}

// Outputs implements Transport
func (s *Simulator) Outputs() ([]EndpointInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []EndpointInfo
	for _, info := range s.outputs {
		result = append(result, info)
	}
	return result, nil
}

// OpenInput implements Transport
func (s *Simulator) OpenInput(id string, recv func(Message), partial func([]byte, int)) (InputPort, error) {
	s.mu.Lock()
	in, ok := s.inputs[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("simulated input %s: %w", id, util.ErrInvalidPort)
	}
	in.mu.Lock()
	in.recv = recv
	in.partial = partial
	in.open = true
	in.mu.Unlock()
	return in, nil
}

// OpenOutput implements Transport
func (s *Simulator) OpenOutput(id string) (OutputPort, error) {
	s.mu.Lock()
	info, ok := s.outputs[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("simulated output %s: %w", id, util.ErrInvalidPort)
	}
	return &simOutput{sim: s, info: info}, nil
}

func (in *simInput) Info() EndpointInfo { return in.info }

func (in *simInput) Start() error {
	in.mu.Lock()
	in.started = true
	in.mu.Unlock()
	return nil
}

func (in *simInput) Stop() {
	in.mu.Lock()
	in.started = false
	in.mu.Unlock()
}

func (in *simInput) Close() error {
	in.Stop()
	in.mu.Lock()
	in.open = false
	in.mu.Unlock()
	return nil
}

type simOutput struct {
	sim  *Simulator
	info EndpointInfo
}

func (o *simOutput) Info() EndpointInfo { return o.info }

func (o *simOutput) Send(msg Message) error {
	o.sim.mu.Lock()
	if _, still := o.sim.outputs[o.info.ID]; !still {
		o.sim.mu.Unlock()
		return fmt.Errorf("simulated output %s: %w", o.info.Name, util.ErrInvalidPort)
	}
	o.sim.sent = append(o.sim.sent, msg.Clone())
	responder := o.sim.responder
	o.sim.mu.Unlock()

	if responder != nil {
		for _, reply := range responder(o.info, msg) {
			o.sim.deliver("sim-in:"+reply.Input, reply.Message)
		}
	}
	return nil
}

func (o *simOutput) Close() error { return nil }
