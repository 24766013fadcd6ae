package librarian

import (
	"context"
	"fmt"

	"github.com/franz/sysex-librarian/internal/midi"
	"github.com/franz/sysex-librarian/internal/synth"
	"github.com/franz/sysex-librarian/internal/util"
)

// Sender pushes patches back to the instrument, inverting the download
// strategies.
type Sender struct {
	manager *midi.DeviceManager
}

// NewSender creates a send engine over the device manager
func NewSender(manager *midi.DeviceManager) *Sender {
	return &Sender{manager: manager}
}

// SendBank transmits a bank to the synth. With a bank-send packer the
// whole bank goes out as bank-framed messages; otherwise patches are
// sent one by one, restricted to the dirty positions unless fullBank is
// set. Cancellation is polled between patches.
func (s *Sender) SendBank(ctx context.Context, loc Location, bank *SynthBank, fullBank bool, progress ProgressFunc) error {
	sy := bank.Synth()
	if sy == nil {
		return util.ErrNotFound
	}
	if !loc.Channel.IsValid() {
		util.WarnLog("Synth %s is currently not detected, please re-run connectivity check", sy.Name)
		return util.ErrInvalidPort
	}
	output := s.manager.OpenOutput(loc.Output)
	caps := sy.Capabilities

	if caps.BankSend != nil && (caps.EditBuffer != nil || caps.ProgramDump != nil) {
		var patchMessages [][]midi.Message
		for i, patch := range bank.Patches() {
			if patch.Patch == nil {
				continue
			}
			if caps.ProgramDump != nil {
				patchMessages = append(patchMessages, caps.ProgramDump.PatchToProgramDump(patch.Patch, synth.ProgramFromZeroBased(i)))
			} else {
				patchMessages = append(patchMessages, caps.EditBuffer.PatchToSysex(patch.Patch))
			}
		}
		messages := caps.BankSend.CreateBankMessages(patchMessages)
		s.sendBlock(output, sy, messages)
		bank.ClearDirty()
		return nil
	}

	if caps.ProgramDump == nil {
		util.WarnLog("Sending banks to %s is not implemented", sy.Name)
		return util.ErrNoStrategy
	}

	// Count what will go out so progress has a denominator
	count := 0
	for i, patch := range bank.Patches() {
		if patch.Patch != nil && (fullBank || bank.IsPositionDirty(i)) {
			count++
		}
	}

	sent := 0
	for i, patch := range bank.Patches() {
		if ctx.Err() != nil {
			util.WarnLog("Cancelled bank upload in mid-flight")
			return util.ErrCancelled
		}
		if patch.Patch == nil || (!fullBank && !bank.IsPositionDirty(i)) {
			continue
		}
		messages := caps.ProgramDump.PatchToProgramDump(patch.Patch, patch.Program)
		s.sendBlock(output, sy, messages)
		sent++
		if progress != nil && count > 0 {
			progress(float64(sent)/float64(count), fmt.Sprintf("Sending patch %s to %s", patch.Name(), sy.FriendlyProgramName(patch.Program)))
		}
	}
	bank.ClearDirty()
	return nil
}

// SendToEditBuffer transmits a single patch into the synth's edit slot
func (s *Sender) SendToEditBuffer(loc Location, holder *PatchHolder) error {
	sy := holder.Synth
	if sy == nil || holder.Patch == nil {
		return util.ErrNotFound
	}
	messages := sy.PatchToSysex(holder.Patch, holder.Program)
	if len(messages) == 0 {
		return util.ErrNoStrategy
	}
	output := s.manager.OpenOutput(loc.Output)
	s.sendBlock(output, sy, messages)
	return nil
}

func (s *Sender) sendBlock(output *midi.SafeOutput, sy *synth.Synth, msgs []midi.Message) {
	if sy.Capabilities.ThrottleInterval > 0 {
		output.SendBlockThrottled(msgs, sy.Capabilities.ThrottleInterval)
		return
	}
	output.SendBlock(msgs)
}
