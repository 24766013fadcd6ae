package main

import (
	"context"
	"fmt"

	"github.com/franz/sysex-librarian/internal/librarian"
	"github.com/franz/sysex-librarian/internal/midi"
	"github.com/franz/sysex-librarian/internal/store"
	"github.com/franz/sysex-librarian/internal/util"
	"github.com/spf13/cobra"
)

var (
	sendBankNo    int
	sendDirtyOnly bool
)

var sendCmd = &cobra.Command{
	Use:   "send <synth>",
	Short: "Send a stored bank back to the synth",
	Long: `send transmits the stored bank list of a synth back to the
instrument, either the full bank or only the positions modified since
the last sync (--dirty-only).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		synths := synthRegistry()
		sy, ok := synths[args[0]]
		if !ok {
			return fmt.Errorf("unknown synth %s", args[0])
		}

		dbPath, err := databasePath()
		if err != nil {
			return err
		}
		db, err := store.Open(dbPath, store.ReadWrite, synths)
		if err != nil {
			return err
		}
		defer db.Close()

		bankNo := sy.Bank(sendBankNo)
		bank, err := db.GetSynthBank(librarian.SynthBankID(sy, bankNo))
		if err != nil {
			return fmt.Errorf("no stored bank %d for %s: %w", sendBankNo, sy.Name, err)
		}
		if !bank.IsWritable() {
			return fmt.Errorf("bank %s of %s is a ROM bank and cannot be written", sy.FriendlyBankName(bankNo), sy.Name)
		}

		manager := midi.NewDeviceManager(midi.NewDriverTransport())
		defer manager.Close()

		discovery := librarian.NewDiscovery(manager, viperSettings{})
		loc, ok := discovery.QuickCheck(context.Background(), sy)
		if !ok {
			return fmt.Errorf("%s is not reachable, run 'sxl detect' first", sy.Name)
		}

		sender := librarian.NewSender(manager)
		if err := sender.SendBank(context.Background(), loc, bank, !sendDirtyOnly, nil); err != nil {
			return err
		}
		util.SuccessLog("Sent bank %s to %s", sy.FriendlyBankName(bankNo), sy.Name)
		return nil
	},
}

func init() {
	sendCmd.Flags().IntVar(&sendBankNo, "bank", 0, "bank number to send")
	sendCmd.Flags().BoolVar(&sendDirtyOnly, "dirty-only", false, "only resend positions modified since the last sync")
	rootCmd.AddCommand(sendCmd)
}
