package midi

import (
	"sort"
	"sync"
	"time"

	"github.com/franz/sysex-librarian/internal/util"
)

// MessageLogLevel controls which traffic the message sink sees
type MessageLogLevel int

const (
	// LogSysExOnly forwards only SysEx messages to the sink
	LogSysExOnly MessageLogLevel = iota
	// LogAllButRealtime forwards everything except clock and active sense
	LogAllButRealtime
)

// MessageSink observes every message with its direction and endpoint
type MessageSink func(msg Message, endpoint string, outgoing bool)

const devicePollInterval = 500 * time.Millisecond

// DeviceManager owns the open MIDI endpoint handles and the
// authoritative roster of known inputs and outputs. A background poll
// reconciles the OS endpoint set roughly twice a second and publishes a
// change event; lost outputs invalidate their SafeOutput handles, lost
// inputs are closed.
type DeviceManager struct {
	transport  Transport
	dispatcher *Dispatcher

	mu           sync.Mutex
	inputsOpen   map[string]InputPort
	outputsOpen  map[string]OutputPort
	safeOutputs  map[string]*SafeOutput
	knownInputs  map[string]EndpointInfo
	knownOutputs map[string]EndpointInfo
	historyIns   map[string]EndpointInfo
	historyOuts  map[string]EndpointInfo

	sink      MessageSink
	sinkLevel MessageLogLevel

	changeListeners []func()

	stopPoll chan struct{}
	pollDone chan struct{}
}

// NewDeviceManager creates a manager over the given transport and
// starts the reconcile poll.
func NewDeviceManager(transport Transport) *DeviceManager {
	m := &DeviceManager{
		transport:    transport,
		dispatcher:   NewDispatcher(),
		inputsOpen:   make(map[string]InputPort),
		outputsOpen:  make(map[string]OutputPort),
		safeOutputs:  make(map[string]*SafeOutput),
		knownInputs:  make(map[string]EndpointInfo),
		knownOutputs: make(map[string]EndpointInfo),
		historyIns:   make(map[string]EndpointInfo),
		historyOuts:  make(map[string]EndpointInfo),
		stopPoll:     make(chan struct{}),
		pollDone:     make(chan struct{}),
	}
	m.reconcile(false)
	go m.pollLoop()
	return m
}

// Dispatcher returns the handler registry fed by all open inputs
func (m *DeviceManager) Dispatcher() *Dispatcher {
	return m.dispatcher
}

// SetMessageSink installs the observing sink, replacing any previous one
func (m *DeviceManager) SetMessageSink(sink MessageSink, level MessageLogLevel) {
	m.mu.Lock()
	m.sink = sink
	m.sinkLevel = level
	m.mu.Unlock()
}

// OnDeviceChange registers a callback invoked after every detected
// change in the endpoint roster.
func (m *DeviceManager) OnDeviceChange(fn func()) {
	m.mu.Lock()
	m.changeListeners = append(m.changeListeners, fn)
	m.mu.Unlock()
}

// ListInputs returns the current inputs, optionally including every
// endpoint ever seen during this session.
func (m *DeviceManager) ListInputs(withHistory bool) []EndpointInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return endpointSet(m.knownInputs, m.historyIns, withHistory)
}

// ListOutputs returns the current outputs, optionally with history
func (m *DeviceManager) ListOutputs(withHistory bool) []EndpointInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return endpointSet(m.knownOutputs, m.historyOuts, withHistory)
}

// InputByName finds an input endpoint by display name, searching history too
func (m *DeviceManager) InputByName(name string) EndpointInfo {
	for _, ep := range m.ListInputs(true) {
		if ep.Name == name {
			return ep
		}
	}
	return EndpointInfo{}
}

// OutputByName finds an output endpoint by display name, searching history too
func (m *DeviceManager) OutputByName(name string) EndpointInfo {
	for _, ep := range m.ListOutputs(true) {
		if ep.Name == name {
			return ep
		}
	}
	return EndpointInfo{}
}

// EnableInput opens an input idempotently. Re-enabling an already open
// endpoint restarts it, which recovers devices that were unplugged and
// plugged back in.
func (m *DeviceManager) EnableInput(ep EndpointInfo) error {
	if !ep.IsValid() {
		return util.ErrInvalidPort
	}
	m.mu.Lock()
	port, open := m.inputsOpen[ep.ID]
	m.mu.Unlock()

	if open {
		util.DebugLog("MIDI input %s restarted", ep.Name)
		return port.Start()
	}

	port, err := m.transport.OpenInput(ep.ID, func(msg Message) {
		m.logMessage(msg, ep.Name, false)
		m.dispatcher.Dispatch(ep, msg)
	}, func(data []byte, soFar int) {
		m.dispatcher.DispatchPartial(ep, data, soFar)
	})
	if err != nil {
		util.ErrorLog("MIDI input %s could not be opened, maybe it is locked by another program: %v", ep.Name, err)
		return err
	}
	if err := port.Start(); err != nil {
		port.Close()
		return err
	}
	m.mu.Lock()
	m.inputsOpen[ep.ID] = port
	m.mu.Unlock()
	util.DebugLog("MIDI input %s opened with ID %s", ep.Name, ep.ID)
	return nil
}

// DisableInput stops a previously opened input. Unknown endpoints are
// logged, not errors.
func (m *DeviceManager) DisableInput(ep EndpointInfo) {
	if !ep.IsValid() {
		return
	}
	m.mu.Lock()
	port, ok := m.inputsOpen[ep.ID]
	m.mu.Unlock()
	if !ok {
		util.DebugLog("MIDI input %s never was opened, nothing to disable", ep.Name)
		return
	}
	port.Stop()
	util.DebugLog("MIDI input %s stopped", ep.Name)
}

// EnableAllInputs opens every currently known input, returning the set
// it managed to open. Used by discovery.
func (m *DeviceManager) EnableAllInputs() []EndpointInfo {
	var enabled []EndpointInfo
	for _, ep := range m.ListInputs(false) {
		if err := m.EnableInput(ep); err == nil {
			enabled = append(enabled, ep)
		}
	}
	return enabled
}

// OpenOutput returns a SafeOutput handle for the endpoint. Opening is
// lazy and failures produce an invalid handle whose sends are silent
// no-ops; the manager never panics for plug and unplug.
func (m *DeviceManager) OpenOutput(ep EndpointInfo) *SafeOutput {
	m.mu.Lock()
	if safe, ok := m.safeOutputs[ep.ID]; ok && safe.IsValid() {
		m.mu.Unlock()
		return safe
	}
	m.mu.Unlock()

	if !ep.IsValid() {
		return &SafeOutput{manager: m, info: ep}
	}

	port, err := m.transport.OpenOutput(ep.ID)
	if err != nil {
		util.ErrorLog("MIDI output %s could not be opened, maybe it is turned off or used by another program: %v", ep.Name, err)
		safe := &SafeOutput{manager: m, info: ep}
		m.mu.Lock()
		m.safeOutputs[ep.ID] = safe
		m.mu.Unlock()
		return safe
	}

	safe := &SafeOutput{manager: m, info: ep, port: port}
	m.mu.Lock()
	m.outputsOpen[ep.ID] = port
	m.safeOutputs[ep.ID] = safe
	m.mu.Unlock()
	util.DebugLog("MIDI output %s opened with ID %s", ep.Name, ep.ID)
	return safe
}

// Close stops the poll loop and closes every open endpoint
func (m *DeviceManager) Close() {
	close(m.stopPoll)
	<-m.pollDone

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, port := range m.inputsOpen {
		port.Close()
		delete(m.inputsOpen, id)
	}
	for id, port := range m.outputsOpen {
		port.Close()
		delete(m.outputsOpen, id)
	}
	for _, safe := range m.safeOutputs {
		safe.invalidate()
	}
}

func (m *DeviceManager) pollLoop() {
	defer close(m.pollDone)
	ticker := time.NewTicker(devicePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.reconcile(true)
		case <-m.stopPoll:
			return
		}
	}
}

// reconcile compares the OS endpoint set with the internal roster,
// closing what vanished and noticing what appeared.
func (m *DeviceManager) reconcile(notify bool) {
	inputs, errIn := m.transport.Inputs()
	outputs, errOut := m.transport.Outputs()
	if errIn != nil || errOut != nil {
		// Transient enumeration failure, try again next tick
		return
	}

	currentIns := make(map[string]EndpointInfo, len(inputs))
	for _, ep := range inputs {
		currentIns[ep.ID] = ep
	}
	currentOuts := make(map[string]EndpointInfo, len(outputs))
	for _, ep := range outputs {
		currentOuts[ep.ID] = ep
	}

	dirty := false
	m.mu.Lock()
	for id, port := range m.inputsOpen {
		if _, still := currentIns[id]; !still {
			util.InfoLog("MIDI input %s unplugged", port.Info().Name)
			port.Close()
			delete(m.inputsOpen, id)
			dirty = true
		}
	}
	for id, port := range m.outputsOpen {
		if _, still := currentOuts[id]; !still {
			util.InfoLog("MIDI output %s unplugged", port.Info().Name)
			port.Close()
			delete(m.outputsOpen, id)
			if safe, ok := m.safeOutputs[id]; ok {
				safe.invalidate()
				delete(m.safeOutputs, id)
			}
			dirty = true
		}
	}
	for id, ep := range currentIns {
		if _, known := m.knownInputs[id]; !known && len(m.knownInputs) > 0 {
			util.InfoLog("MIDI input %s connected", ep.Name)
			dirty = true
		}
		m.historyIns[id] = ep
	}
	for id, ep := range currentOuts {
		if _, known := m.knownOutputs[id]; !known && len(m.knownOutputs) > 0 {
			util.InfoLog("MIDI output %s connected", ep.Name)
			dirty = true
		}
		m.historyOuts[id] = ep
	}
	if len(currentIns) != len(m.knownInputs) || len(currentOuts) != len(m.knownOutputs) {
		dirty = true
	}
	m.knownInputs = currentIns
	m.knownOutputs = currentOuts
	listeners := append([]func(){}, m.changeListeners...)
	m.mu.Unlock()

	if dirty && notify {
		util.DebugLog("Detected change in MIDI device list, notifying listeners")
		for _, fn := range listeners {
			fn()
		}
	}
}

func (m *DeviceManager) logMessage(msg Message, endpoint string, outgoing bool) {
	m.mu.Lock()
	sink := m.sink
	level := m.sinkLevel
	m.mu.Unlock()
	if sink == nil {
		return
	}
	switch level {
	case LogSysExOnly:
		if !msg.IsSysEx() {
			return
		}
	case LogAllButRealtime:
		if msg.IsRealtime() {
			return
		}
	}
	sink(msg, endpoint, outgoing)
}

func endpointSet(current, history map[string]EndpointInfo, withHistory bool) []EndpointInfo {
	set := make(map[string]EndpointInfo, len(current))
	for id, ep := range current {
		set[id] = ep
	}
	if withHistory {
		for id, ep := range history {
			set[id] = ep
		}
	}
	result := make([]EndpointInfo, 0, len(set))
	for _, ep := range set {
		result = append(result, ep)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}
