package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/franz/sysex-librarian/internal/store"
	"github.com/spf13/cobra"
)

var (
	showName      string
	showFaves     bool
	showHidden    bool
	showUntagged  bool
	showDuplicate bool
	showLimit     int
)

var showCmd = &cobra.Command{
	Use:   "show <synth>",
	Short: "List catalog patches",
	Args:  cobra.ExactArgs(1),
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
		db, err := store.Open(dbPath, store.ReadOnly, synths)
		if err != nil {
			return err
		}
		defer db.Close()

		filter := store.NewPatchFilter(sy.Name)
		filter.Name = showName
		filter.OnlyFaves = showFaves
		filter.ShowHidden = showHidden
		filter.OnlyUntagged = showUntagged
		filter.OnlyDuplicateNames = showDuplicate
		filter.OrderBy = store.OrderByName

		total, err := db.CountPatches(filter)
		if err != nil {
			return err
		}
		patches, _, err := db.GetPatches(filter, 0, showLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tPLACE\tFAVE\tCATEGORIES\tMD5")
		for _, patch := range patches {
			fave := ""
			if patch.Favorite == 1 {
				fave = "*"
			}
			place := ""
			if patch.Program.IsValid() {
				place = sy.FriendlyProgramName(patch.Program)
			}
			categories := ""
			for i, name := range patch.Categories.Names() {
				if i > 0 {
					categories += ","
				}
				categories += name
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", patch.Name(), place, fave, categories, patch.MD5()[:8])
		}
		w.Flush()
		fmt.Printf("%d of %d patches\n", len(patches), total)
		return nil
	},
}

func init() {
	showCmd.Flags().StringVar(&showName, "name", "", "substring to search in name, comment, author and info")
	showCmd.Flags().BoolVar(&showFaves, "faves", false, "only favorites")
	showCmd.Flags().BoolVar(&showHidden, "hidden", false, "include hidden patches")
	showCmd.Flags().BoolVar(&showUntagged, "untagged", false, "only patches without categories")
	showCmd.Flags().BoolVar(&showDuplicate, "duplicate-names", false, "only patches sharing a name")
	showCmd.Flags().IntVar(&showLimit, "limit", 100, "maximum rows to print (-1 for all)")
	rootCmd.AddCommand(showCmd)
}
