package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/silentpen/internal/models"
)

var saveCmd = &cobra.Command{
	Use:   "save [text...]",
	Short: "Write a new diary entry",
	Long: `Save encrypts a new entry and appends it to the diary.

The entry text is taken from the arguments, or read from stdin when no
arguments are given. The first save sets the diary password.`,
	Example: `  silentpen save "Went for a long walk."
  cat today.txt | silentpen save -p "$DIARY_PASSWORD"`,
	RunE: runSave,
}

var savePassword string

func init() {
	rootCmd.AddCommand(saveCmd)

	saveCmd.Flags().StringVarP(&savePassword, "password", "p", "",
		"Diary password (will prompt if not provided)")
}

func runSave(cmd *cobra.Command, args []string) error {
	content := strings.Join(args, " ")
	if len(args) == 0 {
		var err error
		if content, err = readText(os.Stdin); err != nil {
			return err
		}
	}

	password, err := readPassword(savePassword, "Password: ")
	if err != nil {
		return err
	}

	service, closeStore, err := openService()
	if err != nil {
		return err
	}
	defer closeStore()

	if err := service.Save(cmd.Context(), content, password); err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success":    true,
			"word_count": models.WordCount(content),
		})
	} else {
		printSuccess("Saved entry (%d characters)", models.WordCount(content))
	}
	return nil
}
