package librarian

import (
	"context"
	"fmt"
	"time"

	"github.com/franz/sysex-librarian/internal/midi"
	"github.com/franz/sysex-librarian/internal/synth"
	"github.com/franz/sysex-librarian/internal/util"
)

// ProgressFunc publishes a completion fraction in [0,1] and a status
// message. May be nil.
type ProgressFunc func(fraction float64, message string)

// The inactivity window for strategies that cannot know the total
// message count up front.
const downloadIdleTimeout = 3 * time.Second

// Downloader drives bank and edit-buffer downloads. One download is in
// flight per call; every subscription it creates is removed before the
// call returns, whatever the outcome.
type Downloader struct {
	manager *midi.DeviceManager
}

// NewDownloader creates a download engine over the device manager
func NewDownloader(manager *midi.DeviceManager) *Downloader {
	return &Downloader{manager: manager}
}

// DetermineMethod selects the download strategy: a declared preference
// wins, else the best available in the order stream, handshake, bank
// request, program dump loop, edit buffer loop.
func DetermineMethod(sy *synth.Synth) synth.DownloadMethod {
	caps := sy.Capabilities
	if caps.PreferredDownloadMethod != synth.DownloadUnknown {
		return caps.PreferredDownloadMethod
	}
	switch {
	case caps.StreamLoad != nil:
		return synth.DownloadStreaming
	case caps.Handshake != nil:
		return synth.DownloadHandshakes
	case caps.BankDump != nil:
		return synth.DownloadBankDump
	case caps.ProgramDump != nil:
		return synth.DownloadProgramBuffers
	case caps.EditBuffer != nil:
		return synth.DownloadEditBuffers
	default:
		return synth.DownloadUnknown
	}
}

// DownloadBanks downloads several banks in sequence. When more than one
// bank was requested, the resulting patches share a bulk-import
// provenance wrapping their per-bank source info.
func (d *Downloader) DownloadBanks(ctx context.Context, loc Location, sy *synth.Synth, banks []synth.BankNumber, progress ProgressFunc) ([]*PatchHolder, error) {
	var all []*PatchHolder
	for i, bank := range banks {
		if ctx.Err() != nil {
			return all, util.ErrCancelled
		}
		if progress != nil {
			progress(float64(i)/float64(len(banks)), fmt.Sprintf("Importing %s from %s...", sy.FriendlyBankName(bank), sy.Name))
		}
		holders, err := d.DownloadBank(ctx, loc, sy, bank, progress)
		if err != nil {
			return all, err
		}
		all = append(all, holders...)
	}
	if len(banks) > 1 {
		now := time.Now()
		for _, h := range all {
			h.SourceInfo = FromBulkSource(now, h.SourceInfo)
		}
	}
	return all, nil
}

// DownloadBank downloads one bank with the synth's strategy and tags
// the results with FromSynth provenance.
func (d *Downloader) DownloadBank(ctx context.Context, loc Location, sy *synth.Synth, bank synth.BankNumber, progress ProgressFunc) ([]*PatchHolder, error) {
	if err := d.manager.EnableInput(loc.Input); err != nil {
		return nil, fmt.Errorf("failed to open input for download: %w", err)
	}
	output := d.manager.OpenOutput(loc.Output)

	handlersBefore := d.manager.Dispatcher().HandlerCount()

	var messages []midi.Message
	var err error
	switch DetermineMethod(sy) {
	case synth.DownloadStreaming:
		messages, err = d.downloadStream(ctx, output, sy, bank, progress)
	case synth.DownloadHandshakes:
		messages, err = d.downloadHandshake(ctx, output, sy, bank, progress)
	case synth.DownloadBankDump:
		messages, err = d.downloadBankRequest(ctx, output, sy, bank, progress)
	case synth.DownloadProgramBuffers:
		messages, err = d.downloadProgramLoop(ctx, output, sy, bank, progress)
	case synth.DownloadEditBuffers:
		messages, err = d.downloadEditBufferLoop(ctx, output, loc.Channel, sy, bank, progress)
	default:
		return nil, fmt.Errorf("synth %s has no method to retrieve a bank: %w", sy.Name, util.ErrNoStrategy)
	}

	if leaked := d.manager.Dispatcher().HandlerCount() - handlersBefore; leaked != 0 {
		util.ErrorLog("Download leaked %d message handlers, program error", leaked)
	}
	if err != nil {
		return nil, err
	}

	patches := sy.LoadSysex(messages)
	now := time.Now()
	return createHolders(sy, patches, bank, func(program synth.ProgramNumber) *SourceInfo {
		return FromSynthSource(now, bank)
	}), nil
}

// DownloadEditBuffer fetches the single patch currently loaded in the
// synth's edit slot.
func (d *Downloader) DownloadEditBuffer(ctx context.Context, loc Location, sy *synth.Synth) ([]*PatchHolder, error) {
	if err := d.manager.EnableInput(loc.Input); err != nil {
		return nil, fmt.Errorf("failed to open input for download: %w", err)
	}
	output := d.manager.OpenOutput(loc.Output)
	caps := sy.Capabilities

	var messages []midi.Message
	var err error
	switch {
	case caps.StreamLoad != nil:
		messages, err = d.collectStream(ctx, output, sy, synth.StreamEditBufferDump, 0, 1, nil)
	case caps.EditBuffer != nil:
		messages, err = d.collectEditBuffer(ctx, output, sy)
	default:
		return nil, fmt.Errorf("the %s has no way to request the edit buffer: %w", sy.Name, util.ErrNoStrategy)
	}
	if err != nil {
		return nil, err
	}

	patches := sy.LoadSysex(messages)
	now := time.Now()
	return createHolders(sy, patches, synth.InvalidBank(), func(program synth.ProgramNumber) *SourceInfo {
		return FromSynthSource(now, synth.InvalidBank())
	}), nil
}

func (d *Downloader) send(output *midi.SafeOutput, sy *synth.Synth, msgs []midi.Message) {
	if sy.Capabilities.ThrottleInterval > 0 {
		output.SendBlockThrottled(msgs, sy.Capabilities.ThrottleInterval)
		return
	}
	output.SendBlock(msgs)
}

func (d *Downloader) downloadStream(ctx context.Context, output *midi.SafeOutput, sy *synth.Synth, bank synth.BankNumber, progress ProgressFunc) ([]midi.Message, error) {
	expected := bank.Size()
	if expected <= 0 {
		return nil, fmt.Errorf("bank %d of %s is empty: %w", bank.ToZeroBased(), sy.Name, util.ErrInvalidFilter)
	}
	return d.collectStream(ctx, output, sy, synth.StreamBankDump, bank.ToZeroBased(), expected, progress)
}

func (d *Downloader) collectStream(ctx context.Context, output *midi.SafeOutput, sy *synth.Synth, typ synth.StreamType, firstElement, expected int, progress ProgressFunc) ([]midi.Message, error) {
	stream := sy.Capabilities.StreamLoad
	conversation := d.manager.Dispatcher().StartConversation(downloadIdleTimeout)
	defer conversation.Close()

	element := firstElement
	d.send(output, sy, stream.RequestStreamElement(element, typ))

	var collected []midi.Message
	for {
		incoming, err := conversation.Await(ctx)
		if err != nil {
			return collected, err
		}
		if midi.IsTimeoutMessage(incoming.Message) {
			return collected, fmt.Errorf("stream download from %s timed out after %d messages", sy.Name, len(collected))
		}
		if !stream.IsPartOfStream(incoming.Message, typ) {
			continue
		}
		collected = append(collected, incoming.Message)
		if progress != nil && expected > 0 {
			progress(float64(len(collected))/float64(expected), "")
		}
		if stream.IsStreamComplete(collected, typ) {
			return collected, nil
		}
		if stream.ShouldStreamAdvance(collected, typ) {
			element++
			d.send(output, sy, stream.RequestStreamElement(element, typ))
		}
	}
}

func (d *Downloader) downloadHandshake(ctx context.Context, output *midi.SafeOutput, sy *synth.Synth, bank synth.BankNumber, progress ProgressFunc) ([]midi.Message, error) {
	handshake := sy.Capabilities.Handshake
	session := handshake.NewSession(bank)
	if session == nil {
		return nil, fmt.Errorf("synth %s produced no handshake session: %w", sy.Name, util.ErrNoStrategy)
	}

	conversation := d.manager.Dispatcher().StartConversation(downloadIdleTimeout)
	defer conversation.Close()

	d.send(output, sy, handshake.StartDownload(session))

	var collected []midi.Message
	for {
		incoming, err := conversation.Await(ctx)
		if err != nil {
			return nil, err
		}
		// The adapter owns the protocol; the timeout sentinel reaches
		// it like any other message and it decides to retry or fail.
		reply, accepted := session.NextMessage(incoming.Message)
		if accepted {
			collected = append(collected, incoming.Message)
		}
		if len(reply) > 0 {
			d.send(output, sy, reply)
		}
		if progress != nil {
			progress(session.Progress(), "")
		}
		if session.IsFinished() {
			if !session.WasSuccessful() {
				return nil, fmt.Errorf("handshake download from %s failed", sy.Name)
			}
			return collected, nil
		}
	}
}

func (d *Downloader) downloadBankRequest(ctx context.Context, output *midi.SafeOutput, sy *synth.Synth, bank synth.BankNumber, progress ProgressFunc) ([]midi.Message, error) {
	bankDump := sy.Capabilities.BankDump
	conversation := d.manager.Dispatcher().StartConversation(downloadIdleTimeout)
	defer conversation.Close()

	d.send(output, sy, bankDump.RequestBankDump(bank))

	expected := bank.Size()
	var collected []midi.Message
	for {
		incoming, err := conversation.Await(ctx)
		if err != nil {
			return collected, err
		}
		if midi.IsTimeoutMessage(incoming.Message) {
			return collected, fmt.Errorf("bank dump from %s stalled after %d messages", sy.Name, len(collected))
		}
		if !bankDump.IsBankDump(incoming.Message) {
			continue
		}
		collected = append(collected, incoming.Message)
		if progress != nil && expected > 0 {
			progress(float64(len(collected))/float64(expected), "")
		}
		if bankDump.IsBankDumpFinished(collected) {
			return collected, nil
		}
	}
}

func (d *Downloader) downloadProgramLoop(ctx context.Context, output *midi.SafeOutput, sy *synth.Synth, bank synth.BankNumber, progress ProgressFunc) ([]midi.Message, error) {
	programDump := sy.Capabilities.ProgramDump
	conversation := d.manager.Dispatcher().StartConversation(downloadIdleTimeout)
	defer conversation.Close()

	start := sy.StartIndexInBank(bank)
	count := bank.Size()

	var collected []midi.Message
	for index := 0; index < count; index++ {
		if ctx.Err() != nil {
			return collected, util.ErrCancelled
		}
		d.send(output, sy, programDump.RequestPatch(start+index))

		var window []midi.Message
		for {
			incoming, err := conversation.Await(ctx)
			if err != nil {
				return collected, err
			}
			if midi.IsTimeoutMessage(incoming.Message) {
				return collected, fmt.Errorf("program dump %d from %s timed out", start+index, sy.Name)
			}
			if !programDump.IsPartOfProgramDump(incoming.Message) {
				continue
			}
			window = append(window, incoming.Message)
			if programDump.IsSingleProgramDump(window) {
				collected = append(collected, window...)
				break
			}
		}
		if progress != nil {
			progress(float64(index+1)/float64(count), "")
		}
	}
	return collected, nil
}

func (d *Downloader) downloadEditBufferLoop(ctx context.Context, output *midi.SafeOutput, channel synth.Channel, sy *synth.Synth, bank synth.BankNumber, progress ProgressFunc) ([]midi.Message, error) {
	editBuffer := sy.Capabilities.EditBuffer
	conversation := d.manager.Dispatcher().StartConversation(downloadIdleTimeout)
	defer conversation.Close()

	start := sy.StartIndexInBank(bank)
	count := bank.Size()
	ch := 0
	if channel.IsValid() {
		ch = channel.ToZeroBased()
	}

	var collected []midi.Message
	for index := 0; index < count; index++ {
		if ctx.Err() != nil {
			return collected, util.ErrCancelled
		}
		output.Send(midi.ProgramChange(ch, (start+index)%128))
		d.send(output, sy, editBuffer.RequestEditBuffer())

		var window []midi.Message
		for {
			incoming, err := conversation.Await(ctx)
			if err != nil {
				return collected, err
			}
			if midi.IsTimeoutMessage(incoming.Message) {
				return collected, fmt.Errorf("edit buffer %d from %s timed out", start+index, sy.Name)
			}
			if !editBuffer.IsPartOfEditBuffer(incoming.Message) {
				continue
			}
			window = append(window, incoming.Message)
			if editBuffer.IsEditBufferDump(window) {
				collected = append(collected, window...)
				break
			}
		}
		if progress != nil {
			progress(float64(index+1)/float64(count), "")
		}
	}
	return collected, nil
}

func (d *Downloader) collectEditBuffer(ctx context.Context, output *midi.SafeOutput, sy *synth.Synth) ([]midi.Message, error) {
	editBuffer := sy.Capabilities.EditBuffer
	conversation := d.manager.Dispatcher().StartConversation(downloadIdleTimeout)
	defer conversation.Close()

	d.send(output, sy, editBuffer.RequestEditBuffer())

	var window []midi.Message
	for {
		incoming, err := conversation.Await(ctx)
		if err != nil {
			return nil, err
		}
		if midi.IsTimeoutMessage(incoming.Message) {
			return nil, fmt.Errorf("edit buffer request to %s timed out", sy.Name)
		}
		if !editBuffer.IsPartOfEditBuffer(incoming.Message) {
			continue
		}
		window = append(window, incoming.Message)
		if editBuffer.IsEditBufferDump(window) {
			return window, nil
		}
	}
}

// createHolders turns parsed patches into holders with numbering, name
// fallback and provenance.
func createHolders(sy *synth.Synth, patches []*synth.DataFile, bank synth.BankNumber, makeSource func(program synth.ProgramNumber) *SourceInfo) []*PatchHolder {
	var result []*PatchHolder
	for i, patch := range patches {
		runningNumber := synth.ProgramFromZeroBasedWithBank(bank, i)
		holder := NewPatchHolder(sy, nil, patch)

		// Prefer the program slot stored inside the dump if the synth
		// can read it
		if sy.Capabilities.NumberForPatch != nil {
			if stored, ok := sy.Capabilities.NumberForPatch(patch); ok && stored.IsValid() {
				runningNumber = stored
			}
		}
		holder.Bank = bank
		if runningNumber.IsBankKnown() {
			holder.Bank = runningNumber.Bank()
		}
		holder.Program = runningNumber
		holder.SourceInfo = makeSource(runningNumber)
		if holder.Name() == "" {
			holder.SetName(sy.FriendlyProgramName(runningNumber))
		}
		result = append(result, holder)
	}
	return result
}
