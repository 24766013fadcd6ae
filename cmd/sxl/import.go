package main

import (
	"context"
	"fmt"

	"github.com/franz/sysex-librarian/internal/librarian"
	"github.com/franz/sysex-librarian/internal/midi"
	"github.com/franz/sysex-librarian/internal/store"
	"github.com/franz/sysex-librarian/internal/synth"
	"github.com/franz/sysex-librarian/internal/util"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	importBanks      []int
	importEditBuffer bool
	importFiles      []string
)

var importCmd = &cobra.Command{
	Use:   "import <synth>",
	Short: "Download patches from a synth or load them from files",
	Long: `import downloads patch banks from a detected synth (or its edit
buffer with --edit-buffer) and merges everything into the catalog. With
--file the patches are read from .syx, .mid or interchange .json files
instead of the instrument.`,
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

		var holders []*librarian.PatchHolder
		if len(importFiles) > 0 {
			categories, err := db.Categories()
			if err != nil {
				return err
			}
			holders, err = librarian.LoadPatchesFromFiles(sy, importFiles, synths, categories)
			if err != nil {
				return err
			}
		} else {
			holders, err = downloadFromSynth(sy)
			if err != nil {
				return err
			}
		}

		if len(holders) == 0 {
			util.WarnLog("Nothing to import")
			return nil
		}

		result, err := db.MergePatches(nil, holders, store.UpdateAll)
		if err != nil {
			return err
		}
		util.SuccessLog("Imported %d new patches (%d seen before) into %s",
			len(result.Inserted), len(holders)-len(result.Inserted), dbPath)
		return nil
	},
}

func downloadFromSynth(sy *synth.Synth) ([]*librarian.PatchHolder, error) {
	manager := midi.NewDeviceManager(midi.NewDriverTransport())
	defer manager.Close()

	discovery := librarian.NewDiscovery(manager, viperSettings{})
	loc, ok := discovery.QuickCheck(context.Background(), sy)
	if !ok {
		return nil, fmt.Errorf("%s is not reachable, run 'sxl detect' first", sy.Name)
	}

	downloader := librarian.NewDownloader(manager)
	if importEditBuffer {
		return downloader.DownloadEditBuffer(context.Background(), loc, sy)
	}

	banks := importBanks
	if len(banks) == 0 {
		for b := 0; b < sy.NumberOfBanks(); b++ {
			banks = append(banks, b)
		}
	}
	var bankNumbers []synth.BankNumber
	for _, b := range banks {
		bankNumbers = append(bankNumbers, sy.Bank(b))
	}

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("Downloading"),
		progressbar.OptionShowCount(),
	)
	progress := func(fraction float64, message string) {
		if message != "" {
			bar.Describe(message)
		}
		bar.Set(int(fraction * 100))
	}
	holders, err := downloader.DownloadBanks(context.Background(), loc, sy, bankNumbers, progress)
	bar.Finish()
	return holders, err
}

func init() {
	importCmd.Flags().IntSliceVar(&importBanks, "bank", nil, "bank numbers to download (default all)")
	importCmd.Flags().BoolVar(&importEditBuffer, "edit-buffer", false, "download the edit buffer instead of banks")
	importCmd.Flags().StringSliceVar(&importFiles, "file", nil, "import from files instead of the instrument")
	rootCmd.AddCommand(importCmd)
}
