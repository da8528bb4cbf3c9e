package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/OmChillure/medchat/internal/answering"
	"github.com/OmChillure/medchat/internal/config"
	"github.com/OmChillure/medchat/internal/knowledge"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := cfg.NewLogger(os.Stderr)

	if cfg.Answerd.LLM == nil {
		log.Fatal(errors.New("answerd.llm is required in config.yaml"))
	}
	llm, err := cfg.Answerd.LLM.LLM(logger)
	if err != nil {
		log.Fatal(fmt.Errorf("error creating llm: %w", err))
	}

	dbPath := cfg.Answerd.DBPath
	if dbPath == "" {
		dir, err := config.Dir()
		if err != nil {
			log.Fatal(err)
		}
		dbPath = filepath.Join(dir, "store.db")
	}
	boltDB, err := knowledge.NewBoltDB(dbPath)
	if err != nil {
		log.Fatal(fmt.Errorf("error opening document store: %w", err))
	}
	defer boltDB.Close()

	if err := importCorpus(boltDB, cfg.Answerd.Corpus, logger); err != nil {
		log.Fatal(err)
	}

	svc := answering.NewService(llm, boltDB, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Answerd.Port,
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Answering service starting", slog.String("addr", srv.Addr), slog.String("db", dbPath))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("Server error", slog.String("err", err.Error()))

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String("err", err.Error()))
			}
		}
	}
}

// importCorpus loads the configured summary and full text maps into the document store. Documents
// already stored under the same ID are replaced.
func importCorpus(db knowledge.BoltDB, corpus config.CorpusConfig, logger *slog.Logger) error {
	if corpus.Summaries == "" && corpus.FullTexts == "" {
		count, err := db.Count(context.Background())
		if err != nil {
			return fmt.Errorf("error counting documents: %w", err)
		}
		if count == 0 {
			logger.Warn("Document store is empty and no corpus is configured")
		}
		return nil
	}

	docs, err := knowledge.LoadCorpus(corpus.Summaries, corpus.FullTexts)
	if err != nil {
		return fmt.Errorf("error loading corpus: %w", err)
	}
	if err := db.PutDocuments(context.Background(), docs); err != nil {
		return fmt.Errorf("error importing corpus: %w", err)
	}

	logger.Info("Corpus imported", slog.Int("documents", len(docs)))
	return nil
}
