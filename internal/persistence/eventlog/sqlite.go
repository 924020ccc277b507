// Package eventlog is the kernel's source of truth: an append-only SQLite
// store holding the input event chain, per-tick hash checkpoints, emitted
// observations, and the RNG draw audit. Rows are immutable at the storage
// layer; UPDATE and DELETE are rejected by triggers, not convention.
package eventlog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	_ "modernc.org/sqlite"

	"gridwarden.ai/internal/protocol"
	"gridwarden.ai/internal/sim/rng"
	"gridwarden.ai/internal/sim/world"
)

// Store is a single-connection, single-writer event store. Unlike a
// secondary index this log IS the authoritative history, so every append
// is synchronous; the caller sees the error before the tick proceeds.
type Store struct {
	db *sql.DB

	mu      sync.Mutex
	lastSeq uint64
	tip     protocol.Hash32
}

// StoredEvent pairs an input event with its assigned sequence number.
type StoredEvent struct {
	Seq   uint64
	Event protocol.InputEvent
}

// ObsRow is one observation with its stream cursor.
type ObsRow struct {
	Cursor uint64
	Event  protocol.ObservationEvent
}

// VerificationReport is the outcome of a chain walk. FirstDivergence is the
// sequence number of the first row whose recomputed hash or linkage breaks.
type VerificationReport struct {
	OK              bool   `json:"ok"`
	Checked         uint64 `json:"checked"`
	FirstDivergence uint64 `json:"first_divergence,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("eventlog: empty db path")
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

	s := &Store{db: db}
	if err := s.loadTip(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// synchronous=FULL: this store is the source of truth, not a rebuildable
	// index; a torn append would make the history unreplayable.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA foreign_keys=ON;",
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
		`CREATE TABLE IF NOT EXISTS input_events (
			seq INTEGER PRIMARY KEY,
			tick INTEGER NOT NULL,
			source INTEGER NOT NULL,
			payload_json TEXT NOT NULL,
			hash TEXT NOT NULL,
			prev_hash TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_input_events_tick ON input_events(tick, seq);`,
		`CREATE TABLE IF NOT EXISTS observation_events (
			cursor INTEGER PRIMARY KEY AUTOINCREMENT,
			tick INTEGER NOT NULL,
			caused_by INTEGER NOT NULL,
			kind TEXT NOT NULL,
			payload_json TEXT NOT NULL,
			hash TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_observation_events_tick ON observation_events(tick);`,
		`CREATE TABLE IF NOT EXISTS hash_checkpoints (
			tick INTEGER PRIMARY KEY,
			world_hash TEXT NOT NULL,
			prev_world_hash TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS rng_draws (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tick INTEGER NOT NULL,
			subsystem INTEGER NOT NULL,
			stream INTEGER NOT NULL,
			callsite TEXT NOT NULL,
			value TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_rng_draws_tick ON rng_draws(tick);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			world_hash TEXT NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	// Append-only enforcement lives in the storage layer. Application code
	// never issues UPDATE or DELETE; these triggers make sure nothing else
	// can either.
	for _, table := range []string{"input_events", "observation_events", "hash_checkpoints", "rng_draws", "snapshots"} {
		for _, op := range []string{"UPDATE", "DELETE"} {
			stmt := fmt.Sprintf(
				`CREATE TRIGGER IF NOT EXISTS %s_no_%s BEFORE %s ON %s
				BEGIN SELECT RAISE(ABORT, '%s is append-only'); END;`,
				table, op, op, table, table)
			if _, err := db.Exec(stmt); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) loadTip() error {
	row := s.db.QueryRow(`SELECT seq, hash FROM input_events ORDER BY seq DESC LIMIT 1`)
	var seq uint64
	var hash string
	switch err := row.Scan(&seq, &hash); err {
	case sql.ErrNoRows:
		return nil
	case nil:
		s.lastSeq = seq
		return s.tip.UnmarshalText([]byte(hash))
	default:
		return err
	}
}

func (s *Store) Close() error { return s.db.Close() }

// TipHash is the hash of the last appended input event (zero when empty).
func (s *Store) TipHash() protocol.Hash32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tip
}

// LastSeq is the sequence number of the last appended input event.
func (s *Store) LastSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeq
}

// Append chains and stores one input event. The hash is computed under the
// writer lock from the stored tip, so submitters never race for prev_hash.
// Sequence numbers are gapless from 1.
func (s *Store) Append(tick, source uint64, payload protocol.Payload) (StoredEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, err := protocol.NewInputEvent(tick, source, payload, s.tip)
	if err != nil {
		return StoredEvent{}, err
	}
	if err := ev.Validate(); err != nil {
		return StoredEvent{}, err
	}
	return s.insertLocked(ev)
}

// AppendPrehashed stores an event whose hash the submitter computed. The
// linkage is validated against the tip and mismatches are rejected; nothing
// is recomputed on the submitter's behalf.
func (s *Store) AppendPrehashed(ev protocol.InputEvent) (StoredEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.PrevHash != s.tip {
		return StoredEvent{}, fmt.Errorf("eventlog: prev_hash %s does not match chain tip %s", ev.PrevHash, s.tip)
	}
	if err := ev.Validate(); err != nil {
		return StoredEvent{}, err
	}
	return s.insertLocked(ev)
}

func (s *Store) insertLocked(ev protocol.InputEvent) (StoredEvent, error) {
	canon, err := ev.Payload.CanonicalBytes()
	if err != nil {
		return StoredEvent{}, err
	}
	seq := s.lastSeq + 1
	_, err = s.db.Exec(
		`INSERT INTO input_events(seq, tick, source, payload_json, hash, prev_hash) VALUES(?,?,?,?,?,?)`,
		int64(seq), int64(ev.Tick), int64(ev.Source), string(canon), ev.Hash.String(), ev.PrevHash.String(),
	)
	if err != nil {
		return StoredEvent{}, fmt.Errorf("eventlog: append seq %d: %w", seq, err)
	}
	s.lastSeq = seq
	s.tip = ev.Hash
	return StoredEvent{Seq: seq, Event: ev}, nil
}

// EventsForTick returns the tick's input events in sequence order. This
// order is the sole simultaneity resolution within a tick.
func (s *Store) EventsForTick(tick uint64) ([]StoredEvent, error) {
	rows, err := s.db.Query(
		`SELECT seq, tick, source, payload_json, hash, prev_hash FROM input_events WHERE tick = ? ORDER BY seq ASC`,
		int64(tick))
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// Events returns input events with fromSeq <= seq <= toSeq in order.
// toSeq == 0 means "through the end of the log".
func (s *Store) Events(fromSeq, toSeq uint64) ([]StoredEvent, error) {
	if toSeq == 0 {
		toSeq = ^uint64(0) >> 1
	}
	rows, err := s.db.Query(
		`SELECT seq, tick, source, payload_json, hash, prev_hash FROM input_events WHERE seq >= ? AND seq <= ? ORDER BY seq ASC`,
		int64(fromSeq), int64(toSeq))
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]StoredEvent, error) {
	defer rows.Close()
	var out []StoredEvent
	for rows.Next() {
		var (
			se                   StoredEvent
			seq, tick, source    int64
			payload, hash, prevH string
		)
		if err := rows.Scan(&seq, &tick, &source, &payload, &hash, &prevH); err != nil {
			return nil, err
		}
		se.Seq = uint64(seq)
		se.Event.Tick = uint64(tick)
		se.Event.Source = uint64(source)
		if err := json.Unmarshal([]byte(payload), &se.Event.Payload); err != nil {
			return nil, fmt.Errorf("eventlog: seq %d payload: %w", seq, err)
		}
		if err := se.Event.Hash.UnmarshalText([]byte(hash)); err != nil {
			return nil, fmt.Errorf("eventlog: seq %d hash: %w", seq, err)
		}
		if err := se.Event.PrevHash.UnmarshalText([]byte(prevH)); err != nil {
			return nil, fmt.Errorf("eventlog: seq %d prev_hash: %w", seq, err)
		}
		out = append(out, se)
	}
	return out, rows.Err()
}

// MaxTick reports the highest tick any stored input event targets.
func (s *Store) MaxTick() (uint64, bool, error) {
	row := s.db.QueryRow(`SELECT MAX(tick) FROM input_events`)
	var max sql.NullInt64
	if err := row.Scan(&max); err != nil {
		return 0, false, err
	}
	if !max.Valid {
		return 0, false, nil
	}
	return uint64(max.Int64), true, nil
}

// VerifyChain recomputes every event hash in [fromSeq, toSeq] from its
// stored fields and checks linkage to the predecessor. toSeq == 0 means the
// whole log. The report names the first divergent sequence number.
func (s *Store) VerifyChain(fromSeq, toSeq uint64) (VerificationReport, error) {
	if fromSeq == 0 {
		fromSeq = 1
	}
	expectedPrev := protocol.ZeroHash
	if fromSeq > 1 {
		// Anchor on the predecessor's stored hash; its own integrity is
		// covered when verifying from the genesis event.
		row := s.db.QueryRow(`SELECT hash FROM input_events WHERE seq = ?`, int64(fromSeq-1))
		var hash string
		if err := row.Scan(&hash); err != nil {
			return VerificationReport{}, fmt.Errorf("eventlog: anchor seq %d: %w", fromSeq-1, err)
		}
		if err := expectedPrev.UnmarshalText([]byte(hash)); err != nil {
			return VerificationReport{}, err
		}
	}

	events, err := s.Events(fromSeq, toSeq)
	if err != nil {
		return VerificationReport{}, err
	}

	report := VerificationReport{OK: true}
	for _, se := range events {
		report.Checked++
		if se.Event.PrevHash != expectedPrev {
			return VerificationReport{
				Checked:         report.Checked,
				FirstDivergence: se.Seq,
				Reason:          fmt.Sprintf("prev_hash mismatch: expected %s, stored %s", expectedPrev, se.Event.PrevHash),
			}, nil
		}
		computed, err := se.Event.Recompute()
		if err != nil {
			return VerificationReport{
				Checked:         report.Checked,
				FirstDivergence: se.Seq,
				Reason:          fmt.Sprintf("payload unreadable: %v", err),
			}, nil
		}
		if computed != se.Event.Hash {
			return VerificationReport{
				Checked:         report.Checked,
				FirstDivergence: se.Seq,
				Reason:          fmt.Sprintf("hash mismatch: stored %s, computed %s", se.Event.Hash, computed),
			}, nil
		}
		expectedPrev = se.Event.Hash
	}
	return report, nil
}

// AppendCheckpoint stores the tick's world hash chain link.
func (s *Store) AppendCheckpoint(cp world.HashCheckpoint) error {
	_, err := s.db.Exec(
		`INSERT INTO hash_checkpoints(tick, world_hash, prev_world_hash) VALUES(?,?,?)`,
		int64(cp.Tick), cp.WorldHash.String(), cp.PrevWorldHash.String())
	if err != nil {
		return fmt.Errorf("eventlog: checkpoint tick %d: %w", cp.Tick, err)
	}
	return nil
}

// Checkpoints returns checkpoints with fromTick <= tick <= toTick in tick
// order. toTick == 0 means through the end.
func (s *Store) Checkpoints(fromTick, toTick uint64) ([]world.HashCheckpoint, error) {
	if toTick == 0 {
		toTick = ^uint64(0) >> 1
	}
	rows, err := s.db.Query(
		`SELECT tick, world_hash, prev_world_hash FROM hash_checkpoints WHERE tick >= ? AND tick <= ? ORDER BY tick ASC`,
		int64(fromTick), int64(toTick))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []world.HashCheckpoint
	for rows.Next() {
		var (
			tick     int64
			wh, prev string
		)
		if err := rows.Scan(&tick, &wh, &prev); err != nil {
			return nil, err
		}
		cp := world.HashCheckpoint{Tick: uint64(tick)}
		if err := cp.WorldHash.UnmarshalText([]byte(wh)); err != nil {
			return nil, err
		}
		if err := cp.PrevWorldHash.UnmarshalText([]byte(prev)); err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// CheckpointAt returns the checkpoint for one tick if present.
func (s *Store) CheckpointAt(tick uint64) (world.HashCheckpoint, bool, error) {
	cps, err := s.Checkpoints(tick, tick)
	if err != nil || len(cps) == 0 {
		return world.HashCheckpoint{}, false, err
	}
	return cps[0], true, nil
}

// LastCheckpoint returns the newest checkpoint if any.
func (s *Store) LastCheckpoint() (world.HashCheckpoint, bool, error) {
	row := s.db.QueryRow(`SELECT tick, world_hash, prev_world_hash FROM hash_checkpoints ORDER BY tick DESC LIMIT 1`)
	var (
		tick     int64
		wh, prev string
	)
	switch err := row.Scan(&tick, &wh, &prev); err {
	case sql.ErrNoRows:
		return world.HashCheckpoint{}, false, nil
	case nil:
	default:
		return world.HashCheckpoint{}, false, err
	}
	cp := world.HashCheckpoint{Tick: uint64(tick)}
	if err := cp.WorldHash.UnmarshalText([]byte(wh)); err != nil {
		return world.HashCheckpoint{}, false, err
	}
	if err := cp.PrevWorldHash.UnmarshalText([]byte(prev)); err != nil {
		return world.HashCheckpoint{}, false, err
	}
	return cp, true, nil
}

// AppendObservations stores a tick's observations in emission order, in one
// transaction.
func (s *Store) AppendObservations(obs []protocol.ObservationEvent) error {
	if len(obs) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`INSERT INTO observation_events(tick, caused_by, kind, payload_json, hash) VALUES(?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, o := range obs {
		if _, err := stmt.Exec(int64(o.Tick), int64(o.CausedBy), o.Kind, string(o.Payload), o.Hash.String()); err != nil {
			return fmt.Errorf("eventlog: observation tick %d: %w", o.Tick, err)
		}
	}
	return tx.Commit()
}

// Observations pages the observation stream from a cursor (exclusive).
// Returns up to limit rows and the cursor to resume from.
func (s *Store) Observations(sinceCursor uint64, limit int) ([]ObsRow, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	rows, err := s.db.Query(
		`SELECT cursor, tick, caused_by, kind, payload_json, hash FROM observation_events WHERE cursor > ? ORDER BY cursor ASC LIMIT ?`,
		int64(sinceCursor), limit)
	if err != nil {
		return nil, sinceCursor, err
	}
	defer rows.Close()
	out := make([]ObsRow, 0, limit)
	next := sinceCursor
	for rows.Next() {
		var (
			cursor, tick, causedBy int64
			kind, payload, hash    string
		)
		if err := rows.Scan(&cursor, &tick, &causedBy, &kind, &payload, &hash); err != nil {
			return nil, sinceCursor, err
		}
		r := ObsRow{Cursor: uint64(cursor)}
		r.Event.Tick = uint64(tick)
		r.Event.CausedBy = uint64(causedBy)
		r.Event.Kind = kind
		r.Event.Payload = json.RawMessage(payload)
		if err := r.Event.Hash.UnmarshalText([]byte(hash)); err != nil {
			return nil, sinceCursor, err
		}
		out = append(out, r)
		next = r.Cursor
	}
	return out, next, rows.Err()
}

// AppendDraws stores a tick's RNG audit records in draw order. Values are
// stored as decimal text; SQLite integers cannot carry the full uint64
// range.
func (s *Store) AppendDraws(recs []rng.DrawRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`INSERT INTO rng_draws(tick, subsystem, stream, callsite, value) VALUES(?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range recs {
		if _, err := stmt.Exec(int64(r.Tick), int64(r.Subsystem), int64(r.Stream), r.Callsite, strconv.FormatUint(r.Value, 10)); err != nil {
			return fmt.Errorf("eventlog: draw tick %d: %w", r.Tick, err)
		}
	}
	return tx.Commit()
}

// Draws returns the audit records with fromTick <= tick <= toTick in draw
// order. toTick == 0 means through the end.
func (s *Store) Draws(fromTick, toTick uint64) ([]rng.DrawRecord, error) {
	if toTick == 0 {
		toTick = ^uint64(0) >> 1
	}
	rows, err := s.db.Query(
		`SELECT tick, subsystem, stream, callsite, value FROM rng_draws WHERE tick >= ? AND tick <= ? ORDER BY id ASC`,
		int64(fromTick), int64(toTick))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []rng.DrawRecord
	for rows.Next() {
		var (
			tick, subsystem, stream int64
			callsite, value         string
		)
		if err := rows.Scan(&tick, &subsystem, &stream, &callsite, &value); err != nil {
			return nil, err
		}
		v, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("eventlog: draw value %q: %w", value, err)
		}
		out = append(out, rng.DrawRecord{
			Tick:      uint64(tick),
			Subsystem: rng.Subsystem(subsystem),
			Stream:    uint64(stream),
			Callsite:  callsite,
			Value:     v,
		})
	}
	return out, rows.Err()
}

// RecordSnapshot indexes a written snapshot file. Snapshots are immutable
// and content-determined, so re-recording the same tick is a no-op.
func (s *Store) RecordSnapshot(tick uint64, path string, worldHash protocol.Hash32) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO snapshots(tick, path, world_hash) VALUES(?,?,?)`,
		int64(tick), path, worldHash.String())
	if err != nil {
		return fmt.Errorf("eventlog: snapshot index tick %d: %w", tick, err)
	}
	return nil
}

// LatestSnapshot returns the newest indexed snapshot if any.
func (s *Store) LatestSnapshot() (tick uint64, path string, ok bool, err error) {
	row := s.db.QueryRow(`SELECT tick, path FROM snapshots ORDER BY tick DESC LIMIT 1`)
	var t int64
	switch err := row.Scan(&t, &path); err {
	case sql.ErrNoRows:
		return 0, "", false, nil
	case nil:
		return uint64(t), path, true, nil
	default:
		return 0, "", false, err
	}
}
