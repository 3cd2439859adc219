package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/silentpen/internal/models"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List diary entries",
	Long: `List shows the date, time and length of every entry.

Every entry is verified with the password. Entries that fail verification
are reported and the rest are still shown.`,
	RunE: runList,
}

var listPassword string

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVarP(&listPassword, "password", "p", "",
		"Diary password (will prompt if not provided)")
}

func runList(cmd *cobra.Command, args []string) error {
	password, err := readPassword(listPassword, "Password: ")
	if err != nil {
		return err
	}

	service, closeStore, err := openService()
	if err != nil {
		return err
	}
	defer closeStore()

	entries, err := service.List(cmd.Context(), password)
	if err != nil && !errors.Is(err, models.ErrStoreCorrupted) {
		return err
	}

	if jsonOutput {
		out := map[string]interface{}{"success": err == nil, "entries": entries}
		if err != nil {
			out["code"] = models.CodeOf(err)
			out["error"] = models.PublicMessage(err)
			printJSON(out)
			return reported{err}
		}
		printJSON(out)
		return nil
	}

	if len(entries) == 0 && err == nil {
		printInfo("No entries yet")
		return nil
	}

	for _, e := range entries {
		fmt.Printf("%s  %s  %s\n", e.Date, e.Time, dimColor.Sprintf("%6d chars", e.WordCount))
	}
	if err == nil {
		printInfo("%d entries", len(entries))
		return nil
	}

	if warning, ok := verificationWarning(err); ok {
		printWarning("%s", warning)
	}
	return err
}
