package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/franz/sysex-librarian/internal/librarian"
	"github.com/franz/sysex-librarian/internal/store"
	"github.com/franz/sysex-librarian/internal/util"
	"github.com/spf13/cobra"
)

var (
	exportMode   string
	exportFormat string
	exportName   string
	exportPIF    bool
)

var exportCmd = &cobra.Command{
	Use:   "export <synth> <destination>",
	Short: "Export catalog patches to files",
	Long: `export writes the patches of a synth to disk. The mode selects the
layout: one .syx per patch in a directory (files), a zip archive of the
same (zip), one concatenated .syx (syx) or a standard MIDI file (smf).
With --pif an interchange JSON document is written instead, which
round-trips all metadata.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		synths := synthRegistry()
		sy, ok := synths[args[0]]
		if !ok {
			return fmt.Errorf("unknown synth %s", args[0])
		}
		destination := args[1]

		dbPath, err := databasePath()
		if err != nil {
			return err
		}
		db, err := store.Open(dbPath, store.ReadOnly, synths)
		if err != nil {
			return err
		}
		defer db.Close()

		filter := store.NewPatchFilter(sy.Name)
		filter.Name = exportName
		patches, _, err := db.GetPatches(filter, 0, -1)
		if err != nil {
			return err
		}
		if len(patches) == 0 {
			util.WarnLog("No patches matched, nothing exported")
			return nil
		}

		if exportPIF {
			if err := librarian.SavePIF(destination, patches); err != nil {
				return err
			}
			util.SuccessLog("Wrote %d patches to %s", len(patches), destination)
			return nil
		}

		params := librarian.ExportParams{}
		switch strings.ToLower(exportMode) {
		case "files":
			params.FileOption = librarian.ManyFiles
		case "zip":
			params.FileOption = librarian.ZippedFiles
		case "syx":
			params.FileOption = librarian.OneFile
		case "smf", "mid":
			params.FileOption = librarian.MidFile
		default:
			return fmt.Errorf("unknown export mode %q", exportMode)
		}
		switch strings.ToLower(exportFormat) {
		case "edit-buffer":
			params.FormatOption = librarian.EditBufferDumps
		case "program":
			params.FormatOption = librarian.ProgramDumps
		case "bank":
			params.FormatOption = librarian.BankDump
		default:
			return fmt.Errorf("unknown export format %q", exportFormat)
		}

		if err := librarian.Export(context.Background(), destination, params, patches); err != nil {
			return err
		}
		util.SuccessLog("Exported %d patches to %s", len(patches), filepath.Clean(destination))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportMode, "mode", "files", "file layout: files, zip, syx or smf")
	exportCmd.Flags().StringVar(&exportFormat, "format", "edit-buffer", "dump format: edit-buffer, program or bank")
	exportCmd.Flags().StringVar(&exportName, "name", "", "restrict to patches whose name, comment, author or info contains this substring")
	exportCmd.Flags().BoolVar(&exportPIF, "pif", false, "write a PatchInterchangeFormat JSON document")
	rootCmd.AddCommand(exportCmd)
}
