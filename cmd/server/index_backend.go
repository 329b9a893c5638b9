package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"kiddoverse.ai/internal/persistence/indexdb"
	"kiddoverse.ai/internal/sim/catalogs"
	"kiddoverse.ai/internal/sim/tuning"
	"kiddoverse.ai/internal/sim/world"
)

type runtimeIndex interface {
	world.FrameLogger
	world.ChunkLogger
	Close() error
	UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error
}

func openRuntimeIndex(worldDir, worldID string, disableDB bool, logger *log.Logger) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("KV_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		dbPath := filepath.Join(worldDir, "index", "world.sqlite")
		idx, err := indexdb.OpenSQLite(dbPath)
		if err != nil {
			return nil, err
		}
		if err := idx.SetMeta("world_id", worldID); err != nil {
			logger.Printf("index backend: set meta: %v", err)
		}
		return idx, nil
	case "remote":
		endpoint := strings.TrimSpace(os.Getenv("KV_INDEX_REMOTE_URL"))
		token := strings.TrimSpace(os.Getenv("KV_INDEX_REMOTE_TOKEN"))
		if endpoint == "" {
			return nil, fmt.Errorf("KV_INDEX_BACKEND=remote but KV_INDEX_REMOTE_URL is empty")
		}
		flushMS := envInt("KV_INDEX_REMOTE_FLUSH_MS", 500)
		batchSize := envInt("KV_INDEX_REMOTE_BATCH_SIZE", 128)
		idx, err := indexdb.OpenRemote(indexdb.RemoteConfig{
			Endpoint:      endpoint,
			Token:         token,
			WorldID:       worldID,
			BatchSize:     batchSize,
			FlushInterval: time.Duration(flushMS) * time.Millisecond,
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported KV_INDEX_BACKEND: %s", backend)
	}
}
