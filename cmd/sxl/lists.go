package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/franz/sysex-librarian/internal/store"
	"github.com/spf13/cobra"
)

var listsCmd = &cobra.Command{
	Use:   "lists [synth]",
	Short: "Show patch lists, banks and imports",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		synths := synthRegistry()

		dbPath, err := databasePath()
		if err != nil {
			return err
		}
		db, err := store.Open(dbPath, store.ReadOnly, synths)
		if err != nil {
			return err
		}
		defer db.Close()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		defer w.Flush()

		lists, err := db.AllPatchLists()
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "TYPE\tNAME\tID")
		for _, info := range lists {
			fmt.Fprintf(w, "list\t%s\t%s\n", info.Name, info.ID)
		}

		if len(args) == 1 {
			sy, ok := synths[args[0]]
			if !ok {
				return fmt.Errorf("unknown synth %s", args[0])
			}
			banks, err := db.AllSynthBanks(sy.Name)
			if err != nil {
				return err
			}
			for _, info := range banks {
				fmt.Fprintf(w, "bank\t%s\t%s\n", info.Name, info.ID)
			}
			userBanks, err := db.AllUserBanks(sy.Name)
			if err != nil {
				return err
			}
			for _, info := range userBanks {
				fmt.Fprintf(w, "user-bank\t%s\t%s\n", info.Name, info.ID)
			}
			imports, err := db.ImportsForSynth(sy.Name)
			if err != nil {
				return err
			}
			for _, info := range imports {
				fmt.Fprintf(w, "import\t%s (%d patches)\t%s\n", info.Name, info.PatchCount, info.ID)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listsCmd)
}
