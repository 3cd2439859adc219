package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/silentpen/internal/config"
	"github.com/TheMichaelB/silentpen/internal/events"
	"github.com/TheMichaelB/silentpen/internal/models"
	"github.com/TheMichaelB/silentpen/internal/services/diary"
	"github.com/TheMichaelB/silentpen/internal/storage"
)

var (
	cfgFile    string
	storePath  string
	jsonOutput bool
	verbose    bool

	cfg    *config.Config
	logger *events.Logger
)

var rootCmd = &cobra.Command{
	Use:   "silentpen",
	Short: "A password-locked personal diary",
	Long: `silentpen keeps diary entries encrypted on disk under a single password.

Entries can be listed by date and size, exported to a portable bundle
under a separate password, and imported into another diary.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"Config file (default: search ./silentpen.json, ~/.config/silentpen)")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "",
		"Diary store path (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Print machine-readable JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var rep reported
		switch {
		case errors.As(err, &rep):
		case jsonOutput:
			printJSON(map[string]interface{}{
				"success": false,
				"code":    models.CodeOf(err),
				"error":   models.PublicMessage(err),
			})
		default:
			printError("%s", errorText(err))
		}
		os.Exit(exitCode(err))
	}
}

func setup(cmd *cobra.Command, args []string) error {
	loaded, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return err
	}
	cfg = loaded

	if storePath != "" {
		cfg.Storage.Path = storePath
	}
	if verbose {
		cfg.Log.Level = "debug"
	}

	logger, err = events.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	events.SetDefault(logger)

	return nil
}

// openService opens the configured store. The returned close func must be
// called once the command is done.
func openService() (*diary.Service, func(), error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, nil, err
	}

	store, err := storage.Open(cfg.Storage.Backend, cfg.StorePath(), logger)
	if err != nil {
		return nil, nil, err
	}

	service := diary.NewService(store, logger, diary.WithKDFParams(cfg.KDF.Params()))
	closeFn := func() {
		if err := store.Close(); err != nil {
			logger.WithError(err).Warn("Close store")
		}
	}
	return service, closeFn, nil
}

// reported marks an error the command already printed.
type reported struct{ err error }

func (r reported) Error() string { return r.err.Error() }
func (r reported) Unwrap() error { return r.err }

// errorText is the message shown for err. Diary errors use their public
// message; everything else is an operational error from this process.
func errorText(err error) string {
	var derr *models.DiaryError
	if errors.As(err, &derr) {
		return models.PublicMessage(err)
	}
	return err.Error()
}

func exitCode(err error) int {
	switch models.CodeOf(err) {
	case models.ErrCodeInvalidInput:
		return 2
	case models.ErrCodeWrongPassword:
		return 3
	case models.ErrCodeStoreCorrupted:
		return 4
	case models.ErrCodeStorageFailure:
		return 5
	case models.ErrCodeNothingToExport:
		return 6
	default:
		return 1
	}
}
