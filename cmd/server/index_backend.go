package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"voxelgrid.io/internal/inspectproto"
	"voxelgrid.io/internal/persistence/indexdb"
	"voxelgrid.io/internal/sim/tuning"
	"voxelgrid.io/internal/sim/world"
	"voxelgrid.io/internal/transport/inspect"
)

type runtimeIndex interface {
	world.LifecycleLogger
	world.StatsLogger
	inspect.History
	Close() error
	UpsertTuning(tune tuning.Tuning) error
	Stats() indexdb.QueueStats
}

func openRuntimeIndex(dataDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("VG_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		dbPath := filepath.Join(dataDir, "index", "chunks.sqlite")
		idx, err := indexdb.OpenSQLite(dbPath)
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported VG_INDEX_BACKEND: %s", backend)
	}
}

type multiLifecycleLogger struct {
	a world.LifecycleLogger
	b world.LifecycleLogger
}

func (m multiLifecycleLogger) WriteEvent(ev world.LifecycleEvent) error {
	if m.a != nil {
		_ = m.a.WriteEvent(ev)
	}
	if m.b != nil {
		_ = m.b.WriteEvent(ev)
	}
	return nil
}

type multiStatsLogger struct {
	a world.StatsLogger
	b world.StatsLogger
}

func (m multiStatsLogger) WriteStats(st inspectproto.Stats) error {
	if m.a != nil {
		_ = m.a.WriteStats(st)
	}
	if m.b != nil {
		_ = m.b.WriteStats(st)
	}
	return nil
}
