package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/OmChillure/medchat/internal/chat"
	"github.com/OmChillure/medchat/internal/config"
	"github.com/OmChillure/medchat/internal/services"
	"github.com/OmChillure/medchat/internal/tui"
	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	// The terminal belongs to the program, so logs go to a file or nowhere.
	var logOut io.Writer = io.Discard
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.Fatal(fmt.Errorf("error opening log file: %w", err))
		}
		defer f.Close()
		logOut = f
	}
	logger := cfg.NewLogger(logOut)

	client := services.NewAnsweringClient(cfg.Endpoint)
	go checkAnsweringService(client, logger)

	session := chat.NewSession(client, logger)

	if err := tui.Run(context.Background(), session, logger, tea.WithAltScreen()); err != nil {
		logger.Error("Program failed", slog.String("err", err.Error()))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func checkAnsweringService(client services.AnsweringClient, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	greeting, err := client.Health(ctx)
	if err != nil {
		logger.Warn("Answering service unreachable", slog.String("err", err.Error()))
		return
	}
	logger.Info("Answering service reachable", slog.String("greeting", greeting))
}
