package main

import (
	"context"
	"fmt"

	"github.com/franz/sysex-librarian/internal/librarian"
	"github.com/franz/sysex-librarian/internal/midi"
	"github.com/franz/sysex-librarian/internal/util"
	"github.com/spf13/cobra"
)

var detectQuick bool

var detectCmd = &cobra.Command{
	Use:   "detect [synth...]",
	Short: "Probe the MIDI network for connected synths",
	Long: `detect sends each synth's vendor detect message across every MIDI
output and channel, listening on every input. Located synths are stored
in the settings so later commands find them without probing. With
--quick the last known location is verified with a single probe.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		manager := midi.NewDeviceManager(midi.NewDriverTransport())
		defer manager.Close()

		discovery := librarian.NewDiscovery(manager, viperSettings{})
		synths := synthRegistry()

		names := args
		if len(names) == 0 {
			for name := range synths {
				names = append(names, name)
			}
		}

		for _, name := range names {
			sy, ok := synths[name]
			if !ok {
				return fmt.Errorf("unknown synth %s", name)
			}
			if detectQuick {
				loc, ok := discovery.QuickCheck(context.Background(), sy)
				if ok {
					util.SuccessLog("Detected %s on channel %d of device %s",
						sy.Name, loc.Channel.ToOneBased(), loc.Output.Name)
				}
				continue
			}
			loc, err := discovery.DetectAndPersist(context.Background(), sy)
			if err != nil {
				util.WarnLog("Could not locate %s: %v", sy.Name, err)
				continue
			}
			util.SuccessLog("Found %s replying on %s when sending to %s on channel %d",
				sy.Name, loc.Input.Name, loc.Output.Name, loc.Channel.ToOneBased())
		}
		return nil
	},
}

func init() {
	detectCmd.Flags().BoolVar(&detectQuick, "quick", false, "verify the stored location instead of probing everything")
	rootCmd.AddCommand(detectCmd)
}
