package librarian

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/franz/sysex-librarian/internal/midi"
	"github.com/franz/sysex-librarian/internal/synth"
	"github.com/franz/sysex-librarian/internal/util"
)

// Location is where a synth was found on the MIDI network
type Location struct {
	Input   midi.EndpointInfo
	Output  midi.EndpointInfo
	Channel synth.Channel
}

// IsValid reports a complete location
func (l Location) IsValid() bool {
	return l.Input.IsValid() && l.Output.IsValid() && l.Channel.IsValid()
}

// Settings persists per-synth state between runs. The CLI backs this
// with viper; tests use a map.
type Settings interface {
	Get(key string) string
	Set(key, value string)
}

// Discovery probes the MIDI network for synths that implement the
// detect capability.
type Discovery struct {
	manager  *midi.DeviceManager
	settings Settings
}

// NewDiscovery creates a discovery engine over the device manager
func NewDiscovery(manager *midi.DeviceManager, settings Settings) *Discovery {
	return &Discovery{manager: manager, settings: settings}
}

// Detect runs the full probe: every output, every channel the synth
// needs, listening on every input. All located triples are returned;
// the caller usually keeps the last one, because the first is often a
// platform "all devices" endpoint.
func (d *Discovery) Detect(ctx context.Context, sy *synth.Synth) ([]Location, error) {
	detect := sy.Capabilities.Detect
	if detect == nil {
		return nil, fmt.Errorf("synth %s: %w", sy.Name, util.ErrNoStrategy)
	}

	enabled := d.manager.EnableAllInputs()
	defer func() {
		for _, ep := range enabled {
			d.manager.DisableInput(ep)
		}
	}()

	channels := []int{0x7f}
	if detect.NeedsChannelSpecific {
		channels = channels[:0]
		for ch := 0; ch < 16; ch++ {
			channels = append(channels, ch)
		}
	}

	var locations []Location
	outputs := d.manager.ListOutputs(false)
	for _, outputEp := range outputs {
		if ctx.Err() != nil {
			return locations, util.ErrCancelled
		}

		conversation := d.manager.Dispatcher().StartConversation(0)
		output := d.manager.OpenOutput(outputEp)
		for _, channel := range channels {
			output.SendBlock(detect.DetectMessage(channel))
		}

		// Bounded polling window; every valid reply within it is recorded
		deadline := time.Now().Add(detect.DetectSleep)
		hit := false
		for time.Now().Before(deadline) {
			remaining := time.Until(deadline)
			incoming, ok := conversation.AwaitFor(ctx, remaining)
			if !ok {
				break
			}
			channel := detect.ChannelIfValidResponse(incoming.Message)
			if !channel.IsValid() {
				continue
			}
			util.InfoLog("Detected %s replying on %s when sending to %s on channel %d",
				sy.Name, incoming.Source.Name, outputEp.Name, channel.ToOneBased())
			locations = append(locations, Location{Input: incoming.Source, Output: outputEp, Channel: channel})
			if detect.EndDetectMessage != nil && !hit {
				output.Send(detect.EndDetectMessage())
			}
			hit = true
		}
		conversation.Close()
	}

	if len(locations) == 0 {
		util.InfoLog("No %s could be detected - is it turned on?", sy.Name)
	}
	return locations, nil
}

// DetectAndPersist runs Detect, selects the last location found and
// stores it in the settings.
func (d *Discovery) DetectAndPersist(ctx context.Context, sy *synth.Synth) (Location, error) {
	locations, err := d.Detect(ctx, sy)
	if err != nil {
		return Location{}, err
	}
	if len(locations) == 0 {
		return Location{}, fmt.Errorf("synth %s: %w", sy.Name, util.ErrNotFound)
	}
	// The first hit is frequently the "all devices" endpoint some
	// platforms enumerate, so pick the last.
	loc := locations[len(locations)-1]
	d.PersistLocation(sy, loc)
	return loc, nil
}

// Verify sends a single probe to the known location of a synth. A
// negative result logs a warning; the caller decides whether to
// re-probe.
func (d *Discovery) Verify(ctx context.Context, sy *synth.Synth, loc Location) bool {
	detect := sy.Capabilities.Detect
	if detect == nil || !loc.IsValid() {
		return false
	}
	if err := d.manager.EnableInput(loc.Input); err != nil {
		return false
	}

	conversation := d.manager.Dispatcher().StartConversation(0)
	defer conversation.Close()

	output := d.manager.OpenOutput(loc.Output)
	output.SendBlock(detect.DetectMessage(loc.Channel.ToZeroBased()))

	deadline := time.Now().Add(detect.DetectSleep)
	for time.Now().Before(deadline) {
		incoming, ok := conversation.AwaitFor(ctx, time.Until(deadline))
		if !ok {
			break
		}
		channel := detect.ChannelIfValidResponse(incoming.Message)
		if channel.IsValid() && incoming.Source.ID == loc.Input.ID && channel.ToZeroBased() == loc.Channel.ToZeroBased() {
			if detect.EndDetectMessage != nil {
				output.Send(detect.EndDetectMessage())
			}
			return true
		}
	}
	util.WarnLog("Lost communication with %s on channel %d of device %s - please rerun detection",
		sy.Name, loc.Channel.ToOneBased(), loc.Output.Name)
	return false
}

// QuickCheck restores the persisted location and verifies it with a
// single probe.
func (d *Discovery) QuickCheck(ctx context.Context, sy *synth.Synth) (Location, bool) {
	loc := d.LoadLocation(sy)
	if !loc.IsValid() {
		return Location{}, false
	}
	return loc, d.Verify(ctx, sy, loc)
}

// PersistLocation stores the location under the per-synth settings keys
func (d *Discovery) PersistLocation(sy *synth.Synth, loc Location) {
	if d.settings == nil {
		return
	}
	if loc.Channel.IsValid() {
		d.settings.Set(sy.Name+"-channel", strconv.Itoa(loc.Channel.ToZeroBased()))
	}
	d.settings.Set(sy.Name+"-input", loc.Input.Name)
	d.settings.Set(sy.Name+"-output", loc.Output.Name)
}

// LoadLocation restores the last persisted location of a synth
func (d *Discovery) LoadLocation(sy *synth.Synth) Location {
	if d.settings == nil {
		return Location{}
	}
	loc := Location{
		Input:  d.manager.InputByName(d.settings.Get(sy.Name + "-input")),
		Output: d.manager.OutputByName(d.settings.Get(sy.Name + "-output")),
	}
	if ch, err := strconv.Atoi(d.settings.Get(sy.Name + "-channel")); err == nil {
		loc.Channel = synth.ChannelFromZeroBased(ch)
	}
	return loc
}
