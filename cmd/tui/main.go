package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/ytakahashi/firetodo/internal/apiclient"
	"github.com/ytakahashi/firetodo/internal/config"
	"github.com/ytakahashi/firetodo/internal/logging"
	"github.com/ytakahashi/firetodo/internal/tui"
)

func main() {
	configDir := flag.String("config", config.DefaultConfigDir(), "configuration directory")
	server := flag.String("server", "", "server URL (overrides the saved one)")
	logLevel := flag.String("log-level", "info", "log level written to the log file")
	flag.Parse()

	if err := run(*configDir, *server, *logLevel); err != nil {
		fmt.Fprintln(os.Stderr, "firetodo:", err)
		os.Exit(1)
	}
}

func run(configDir, server, logLevel string) error {
	prefs, err := config.LoadClient(configDir)
	if err != nil {
		return err
	}
	if server != "" && server != prefs.ServerURL {
		prefs.ServerURL = server
		if err := prefs.Save(); err != nil {
			return err
		}
	}

	// The terminal belongs to the UI, so logs go to a file.
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return err
	}
	logFile, err := os.OpenFile(filepath.Join(configDir, "tui.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return err
	}
	defer logFile.Close()

	logOpts := logging.DefaultOptions()
	logOpts.Level = logLevel
	logOpts.Prefix = "tui"
	logger, err := logging.New(logFile, logOpts)
	if err != nil {
		return err
	}

	client, err := apiclient.New(prefs.ServerURL, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	model := tui.New(ctx, tui.Config{
		Backend:  client,
		Prefs:    prefs,
		DarkMode: prefs.DarkMode,
		Email:    prefs.Email,
		Logger:   logger,
	})
	_, err = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if err != nil {
		return err
	}
	logger.Info("client exited", "server", prefs.ServerURL)
	return nil
}
