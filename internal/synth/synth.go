package synth

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/franz/sysex-librarian/internal/midi"
)

// DownloadMethod selects the bank acquisition strategy
type DownloadMethod int

const (
	DownloadUnknown DownloadMethod = iota
	DownloadStreaming
	DownloadHandshakes
	DownloadBankDump
	DownloadProgramBuffers
	DownloadEditBuffers
)

// StreamType distinguishes what a stream-load request is for
type StreamType int

const (
	StreamBankDump StreamType = iota
	StreamEditBufferDump
)

// BankDescriptor describes one bank of a synth
type BankDescriptor struct {
	Name string
	Size int
	ROM  bool
}

// DataFileType names one non-patch data type a synth can transfer
type DataFileType struct {
	ID   int
	Name string
}

// DetectCapability is the vendor detect protocol
type DetectCapability struct {
	// DetectMessage produces the probe for a zero-based device id or
	// channel; 0x7f is the broadcast id.
	DetectMessage func(channel int) []midi.Message
	// ChannelIfValidResponse classifies a reply; an invalid channel
	// means "not me".
	ChannelIfValidResponse func(msg midi.Message) Channel
	// NeedsChannelSpecific requires probing every channel 0..15
	NeedsChannelSpecific bool
	// DetectSleep bounds how long to wait for a reply
	DetectSleep time.Duration
	// EndDetectMessage, when non-nil, is sent to the output that
	// produced a positive detection.
	EndDetectMessage func() midi.Message
}

// EditBufferCapability transfers the synth's transient edit slot
type EditBufferCapability struct {
	RequestEditBuffer  func() []midi.Message
	IsPartOfEditBuffer func(msg midi.Message) bool
	IsEditBufferDump   func(msgs []midi.Message) bool
	PatchFromSysex     func(msgs []midi.Message) (*DataFile, error)
	PatchToSysex       func(d *DataFile) []midi.Message
}

// ProgramDumpCapability transfers single stored programs
type ProgramDumpCapability struct {
	RequestPatch          func(programNo int) []midi.Message
	IsPartOfProgramDump   func(msg midi.Message) bool
	IsSingleProgramDump   func(msgs []midi.Message) bool
	PatchFromProgramDump  func(msgs []midi.Message) (*DataFile, error)
	PatchToProgramDump    func(d *DataFile, place ProgramNumber) []midi.Message
	ProgramNumberFromDump func(msgs []midi.Message) (ProgramNumber, bool)
}

// BankDumpCapability transfers whole banks in one request
type BankDumpCapability struct {
	RequestBankDump    func(bank BankNumber) []midi.Message
	IsBankDump         func(msg midi.Message) bool
	IsBankDumpFinished func(msgs []midi.Message) bool
	PatchesFromBank    func(msgs []midi.Message) ([]*DataFile, error)
}

// StreamLoadCapability covers synths that send everything as one
// self-describing stream.
type StreamLoadCapability struct {
	RequestStreamElement func(elem int, typ StreamType) []midi.Message
	IsPartOfStream       func(msg midi.Message, typ StreamType) bool
	ShouldStreamAdvance  func(msgs []midi.Message, typ StreamType) bool
	IsStreamComplete     func(msgs []midi.Message, typ StreamType) bool
	LoadStream           func(msgs []midi.Message) []*DataFile
}

// HandshakeSession is the adapter-owned protocol state of one
// handshake download.
type HandshakeSession interface {
	// NextMessage classifies an incoming message and returns the reply
	// to send, which may be empty. accepted reports whether the message
	// is part of the dump and should be collected.
	NextMessage(msg midi.Message) (reply []midi.Message, accepted bool)
	IsFinished() bool
	WasSuccessful() bool
	Progress() float64
}

// HandshakeCapability covers request/acknowledge style protocols
type HandshakeCapability struct {
	NewSession    func(bank BankNumber) HandshakeSession
	StartDownload func(session HandshakeSession) []midi.Message
}

// DataFileCapability transfers non-patch data like tunings or waves
type DataFileCapability struct {
	Types      []DataFileType
	IsDataFile func(msg midi.Message, typeID int) bool
	Load       func(msgs []midi.Message, typeID int) []*DataFile
}

// BankSendCapability packs many patch dumps into bank-framed messages
type BankSendCapability struct {
	CreateBankMessages func(patches [][]midi.Message) []midi.Message
}

// BanksCapability describes uniform banks (all the same size)
type BanksCapability struct {
	NumberOfBanks    int
	NumberOfPatches  int
	FriendlyBankName func(bank BankNumber) string
}

// Capabilities is the immutable capability record of a synth. "Has
// capability X" is a nil check; adapters fill in what their device
// supports.
type Capabilities struct {
	PatchFromBytes func(data []byte, program ProgramNumber) (*DataFile, error)
	IsOwnSysex     func(msg midi.Message) bool

	// FilterVoiceRelevantData reduces a patch to the bytes that define
	// its sound; nil means every byte is relevant.
	FilterVoiceRelevantData func(d *DataFile) []byte

	// NameForPatch extracts the stored name; nil or empty result means
	// the patch data carries no name.
	NameForPatch func(d *DataFile) string
	// RenamePatch pokes a new name into the patch data and returns the
	// name as the device will store it. nil means names live only in
	// the catalog.
	RenamePatch func(d *DataFile, name string) string
	// IsDefaultName identifies factory placeholder names like INIT
	IsDefaultName func(name string) bool
	// NumberForPatch extracts a stored program slot if the data has one
	NumberForPatch func(d *DataFile) (ProgramNumber, bool)

	Banks           *BanksCapability
	BankDescriptors []BankDescriptor

	Detect      *DetectCapability
	EditBuffer  *EditBufferCapability
	ProgramDump *ProgramDumpCapability
	BankDump    *BankDumpCapability
	StreamLoad  *StreamLoadCapability
	Handshake   *HandshakeCapability
	DataFiles   *DataFileCapability
	BankSend    *BankSendCapability

	// PreferredDownloadMethod overrides the default strategy priority
	PreferredDownloadMethod DownloadMethod

	// ThrottleInterval > 0 forces throttled sends for slow devices
	ThrottleInterval time.Duration
}

// Synth is a device profile: a name plus its capability record
type Synth struct {
	Name         string
	Capabilities Capabilities
}

// Fingerprint is the identity of a patch across renames: MD5 over the
// voice-relevant bytes.
func (s *Synth) Fingerprint(d *DataFile) string {
	data := d.Data
	if s.Capabilities.FilterVoiceRelevantData != nil {
		data = s.Capabilities.FilterVoiceRelevantData(d)
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// NameForPatch returns the stored patch name or an empty string
func (s *Synth) NameForPatch(d *DataFile) string {
	if s.Capabilities.NameForPatch != nil {
		return s.Capabilities.NameForPatch(d)
	}
	return ""
}

// FriendlyProgramName renders a program slot for users
func (s *Synth) FriendlyProgramName(program ProgramNumber) string {
	if program.IsBankKnown() {
		return fmt.Sprintf("%02d-%02d", program.Bank().ToZeroBased(), program.ToZeroBasedDiscardingBank())
	}
	return fmt.Sprintf("%02d", program.ToZeroBasedWithBank())
}

// FriendlyBankName renders a bank for users
func (s *Synth) FriendlyBankName(bank BankNumber) string {
	if len(s.Capabilities.BankDescriptors) > 0 {
		if bank.ToZeroBased() < len(s.Capabilities.BankDescriptors) {
			return s.Capabilities.BankDescriptors[bank.ToZeroBased()].Name
		}
		return fmt.Sprintf("out of range bank %d", bank.ToZeroBased())
	}
	if s.Capabilities.Banks != nil && s.Capabilities.Banks.FriendlyBankName != nil {
		return s.Capabilities.Banks.FriendlyBankName(bank)
	}
	return fmt.Sprintf("Bank %d", bank.ToOneBased())
}

// NumberOfBanks returns how many banks the synth has
func (s *Synth) NumberOfBanks() int {
	if len(s.Capabilities.BankDescriptors) > 0 {
		return len(s.Capabilities.BankDescriptors)
	}
	if s.Capabilities.Banks != nil {
		return s.Capabilities.Banks.NumberOfBanks
	}
	return 0
}

// BankSize returns the number of patch slots in the given bank
func (s *Synth) BankSize(bank int) int {
	if len(s.Capabilities.BankDescriptors) > 0 {
		if bank >= 0 && bank < len(s.Capabilities.BankDescriptors) {
			return s.Capabilities.BankDescriptors[bank].Size
		}
		return 0
	}
	if s.Capabilities.Banks != nil {
		return s.Capabilities.Banks.NumberOfPatches
	}
	return 0
}

// Bank builds a size-tagged bank number for this synth
func (s *Synth) Bank(bank int) BankNumber {
	return BankFromZeroBased(bank, s.BankSize(bank))
}

// StartIndexInBank returns the absolute program index of the first
// slot in a bank, accounting for unequal bank sizes.
func (s *Synth) StartIndexInBank(bank BankNumber) int {
	if len(s.Capabilities.BankDescriptors) > 0 {
		index := 0
		for b := 0; b < bank.ToZeroBased() && b < len(s.Capabilities.BankDescriptors); b++ {
			index += s.Capabilities.BankDescriptors[b].Size
		}
		return index
	}
	if s.Capabilities.Banks != nil {
		return bank.ToZeroBased() * s.Capabilities.Banks.NumberOfPatches
	}
	return 0
}

// IsBankWritable reports whether a bank can be written back. ROM banks
// can only be declared through bank descriptors; without them we
// cannot know and assume writable.
func (s *Synth) IsBankWritable(bank BankNumber) bool {
	if len(s.Capabilities.BankDescriptors) > 0 && bank.ToZeroBased() < len(s.Capabilities.BankDescriptors) {
		return !s.Capabilities.BankDescriptors[bank.ToZeroBased()].ROM
	}
	return true
}
