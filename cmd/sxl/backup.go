package main

import (
	"github.com/franz/sysex-librarian/internal/store"
	"github.com/franz/sysex-librarian/internal/util"
	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup <target>",
	Short: "Copy the catalog database to a target file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath, err := databasePath()
		if err != nil {
			return err
		}
		db, err := store.Open(dbPath, store.ReadOnly, synthRegistry())
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.Backup(args[0]); err != nil {
			return err
		}
		util.SuccessLog("Catalog backed up to %s", args[0])
		return nil
	},
}

var reindexCmd = &cobra.Command{
	Use:   "reindex <synth>",
	Short: "Recompute patch fingerprints after an adapter change",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		synths := synthRegistry()
		sy, ok := synths[args[0]]
		if !ok {
			return util.ErrNotFound
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

		filter := store.NewPatchFilter(sy.Name)
		filter.TurnOnAll()
		count, err := db.ReindexPatches(filter)
		if err != nil {
			return err
		}
		util.SuccessLog("Catalog now holds %d patches for %s", count, sy.Name)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(reindexCmd)
}
