package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"voxelgrid.io/internal/inspectproto"
	"voxelgrid.io/internal/sim/tuning"
	"voxelgrid.io/internal/sim/world"
)

// SQLiteIndex is a secondary read model of pipeline stats and chunk
// lifecycle transitions. Writes are queued and never block the world loop.
type SQLiteIndex struct {
	db *sql.DB
	// rdb serves queries. The writer keeps a transaction open on db, so
	// reads go through separate WAL reader connections.
	rdb *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropStats atomic.Uint64
	dropEvent atomic.Uint64
	written   atomic.Uint64
}

type reqKind int

const (
	reqStats reqKind = iota + 1
	reqEvent
)

type req struct {
	kind reqKind

	stats inspectproto.Stats
	event world.LifecycleEvent
}

// QueueStats reports the writer queue health.
type QueueStats struct {
	QueueDepth     int    `json:"queue_depth"`
	QueueCapacity  int    `json:"queue_capacity"`
	DropStatsTotal uint64 `json:"drop_stats_total"`
	DropEventTotal uint64 `json:"drop_event_total"`
	WrittenTotal   uint64 `json:"written_total"`
}

// commitIdle bounds how long written rows stay invisible to readers.
const commitIdle = 250 * time.Millisecond

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 65536)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	rdb, err := sql.Open("sqlite", path+"?_pragma=query_only(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	rdb.SetMaxOpenConns(4)

	s := &SQLiteIndex{
		db:  db,
		rdb: rdb,
		ch:  make(chan req, queue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS tuning (
			digest TEXT PRIMARY KEY,
			json TEXT NOT NULL,
			applied_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS stats (
			tick INTEGER PRIMARY KEY,
			loaded INTEGER NOT NULL,
			meshed INTEGER NOT NULL,
			in_flight INTEGER NOT NULL,
			queue_depth INTEGER NOT NULL,
			visible INTEGER NOT NULL,
			triangles INTEGER NOT NULL,
			stale_total INTEGER NOT NULL,
			failed_total INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS lifecycle (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			reason TEXT,
			elapsed_ms REAL NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_lifecycle_pos_tick ON lifecycle(x, y, z, tick);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		if s.rdb != nil {
			_ = s.rdb.Close()
		}
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) WriteStats(st inspectproto.Stats) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqStats, stats: st}:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
		s.dropStats.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) WriteEvent(ev world.LifecycleEvent) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqEvent, event: ev}:
	default:
		s.dropEvent.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) Stats() QueueStats {
	if s == nil {
		return QueueStats{}
	}
	return QueueStats{
		QueueDepth:     len(s.ch),
		QueueCapacity:  cap(s.ch),
		DropStatsTotal: s.dropStats.Load(),
		DropEventTotal: s.dropEvent.Load(),
		WrittenTotal:   s.written.Load(),
	}
}

// UpsertTuning stores the tuning values actually applied, keyed by digest.
func (s *SQLiteIndex) UpsertTuning(tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	digest := hex.EncodeToString(sum[:])
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('tuning_digest',?)`, digest); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO tuning(digest,json,applied_at) VALUES(?,?,?)`, digest, string(b), now); err != nil {
		return err
	}
	return tx.Commit()
}

// RecentStats returns up to limit stats rows, newest first.
func (s *SQLiteIndex) RecentStats(ctx context.Context, limit int) ([]inspectproto.Stats, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.rdb.QueryContext(ctx, `SELECT raw_json FROM stats ORDER BY tick DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []inspectproto.Stats
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var st inspectproto.Stats
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// ChunkHistory returns the recorded transitions of one chunk, oldest first.
func (s *SQLiteIndex) ChunkHistory(ctx context.Context, x, y, z int) ([]world.LifecycleEvent, error) {
	rows, err := s.rdb.QueryContext(ctx,
		`SELECT tick, from_state, to_state, COALESCE(reason,''), elapsed_ms FROM lifecycle WHERE x=? AND y=? AND z=? ORDER BY tick, seq`,
		x, y, z)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []world.LifecycleEvent
	for rows.Next() {
		ev := world.LifecycleEvent{Coord: [3]int{x, y, z}}
		var tick int64
		if err := rows.Scan(&tick, &ev.From, &ev.To, &ev.Reason, &ev.ElapsedMS); err != nil {
			return nil, err
		}
		ev.Tick = uint64(tick)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertStats, _ := s.db.Prepare(`INSERT OR REPLACE INTO stats(tick,loaded,meshed,in_flight,queue_depth,visible,triangles,stale_total,failed_total,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertEvent, _ := s.db.Prepare(`INSERT OR REPLACE INTO lifecycle(tick,seq,x,y,z,from_state,to_state,reason,elapsed_ms) VALUES(?,?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertStats != nil {
			_ = insertStats.Close()
		}
		if insertEvent != nil {
			_ = insertEvent.Close()
		}
	}()

	var (
		tx          *sql.Tx
		opCount     int
		commitEvery = 2000

		lastEventTick uint64
		eventSeq      int
	)

	// Commit on a timer too, so readers see rows while the world is idle.
	flush := time.NewTicker(commitIdle)
	defer flush.Stop()

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
	}

	for {
		var r req
		select {
		case <-flush.C:
			commit()
			continue
		case rr, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			r = rr
		}

		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqStats:
			st := r.stats
			raw, _ := json.Marshal(st)
			if insertStats != nil {
				if _, err := tx.Stmt(insertStats).Exec(
					int64(st.Tick),
					st.Loaded,
					st.States["MESHED"],
					st.InFlight,
					st.QueueDepth,
					st.Visible,
					st.Triangles,
					int64(st.StaleTotal),
					int64(st.FailedTotal),
					string(raw),
				); err != nil {
					rollback()
					continue
				}
				opCount++
				s.written.Add(1)
			}

		case reqEvent:
			ev := r.event
			if ev.Tick != lastEventTick {
				lastEventTick = ev.Tick
				eventSeq = 0
			}
			seq := eventSeq
			eventSeq++
			if insertEvent != nil {
				if _, err := tx.Stmt(insertEvent).Exec(
					int64(ev.Tick),
					seq,
					ev.Coord[0], ev.Coord[1], ev.Coord[2],
					ev.From,
					ev.To,
					ev.Reason,
					ev.ElapsedMS,
				); err != nil {
					rollback()
					continue
				}
				opCount++
				s.written.Add(1)
			}
		}
		if opCount >= commitEvery {
			commit()
		}
	}
}
