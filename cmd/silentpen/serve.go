package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/silentpen/internal/bridge"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve diary commands to the desktop UI",
	Long: `Serve exposes save_diary, load_diary, export_diary and import_diary
on a loopback WebSocket endpoint until interrupted.`,
	Example: `  silentpen serve
  silentpen serve --addr 127.0.0.1:18000`,
	RunE: runServe,
}

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "",
		"Listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveAddr != "" {
		cfg.Bridge.Addr = serveAddr
	}

	service, closeStore, err := openService()
	if err != nil {
		return err
	}
	defer closeStore()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dispatcher := bridge.NewDispatcher(service, logger)
	server := bridge.NewServer(cfg.Bridge, dispatcher, logger)

	if !jsonOutput {
		printInfo("Serving diary on ws://%s%s (Ctrl+C to stop)", cfg.Bridge.Addr, cfg.Bridge.Path)
	}
	return server.ListenAndServe(ctx)
}
