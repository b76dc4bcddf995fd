package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/RichardKnop/storagebackend/internal/logging"
	"github.com/RichardKnop/storagebackend/internal/storage"
	"github.com/RichardKnop/storagebackend/pkg/objectid"
)

const defaultDbFileName = "db"

func main() {
	backendFlag := flag.String("backend", "file", "which backend to exercise: file, memory, or kv")
	pathFlag := flag.String("path", defaultDbFileName, "database file path (file backend only)")
	writesFlag := flag.Int("writes", 100, "number of pages to write across sequential transactions")

	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logConf := logging.DefaultConfig()

	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}

	l, err := logging.ParseLevel(level)
	if err != nil {
		panic(err)
	}
	logConf.Level = zap.NewAtomicLevelAt(l)

	logger, err := logConf.Build()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() // flushes buffer, if any

	cfg := storage.DefaultConfig()

	backend, err := openBackend(ctx, *backendFlag, *pathFlag, cfg, logger)
	if err != nil {
		panic(err)
	}
	defer backend.Close()

	start := time.Now()
	if err := runWrites(ctx, backend, cfg, *writesFlag); err != nil {
		panic(err)
	}

	sessionID, err := objectid.New()
	if err != nil {
		panic(err)
	}
	if err := backend.NewSession(ctx, sessionID); err != nil {
		panic(err)
	}
	defer backend.RemoveSession(ctx, sessionID)

	fmt.Printf("backend=%s writes=%d db_size=%d elapsed=%s\n", *backendFlag, *writesFlag, backend.DBSize(), time.Since(start))
}

func openBackend(ctx context.Context, kind, path string, cfg storage.Config, logger *zap.Logger) (storage.Backend, error) {
	switch kind {
	case "file":
		return storage.OpenFileBackend(cfg, path, logger)
	case "memory":
		return storage.NewMemoryBackend(cfg, logger)
	case "kv":
		sugar := logger.Sugar()
		return storage.OpenPersistentKVBackend(ctx, cfg, storage.NewMemoryKVStore(), logger, func() {
			sugar.Debugw("kv backend replay complete")
		})
	default:
		return nil, fmt.Errorf("unknown backend %q: want file, memory, or kv", kind)
	}
}

func runWrites(ctx context.Context, backend storage.Backend, cfg storage.Config, writes int) error {
	for i := 0; i < writes; i++ {
		if err := backend.StartTransaction(ctx, storage.Write); err != nil {
			return fmt.Errorf("start transaction %d: %w", i, err)
		}

		page := storage.NewRawPage(uint32(i), cfg.PageSize)
		for j := range page.Data {
			page.Data[j] = byte(i)
		}

		if err := backend.WritePage(ctx, page, nil); err != nil {
			return fmt.Errorf("write page %d: %w", i, err)
		}

		if err := backend.Commit(ctx); err != nil {
			return fmt.Errorf("commit transaction %d: %w", i, err)
		}
	}
	return nil
}
