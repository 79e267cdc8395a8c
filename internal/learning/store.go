// Package learning persists the feedback loop: recorded events, generated
// insights, prompt revisions, and the analysis bookkeeping that drives them.
package learning

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// EventType classifies a recorded learning event.
type EventType string

const (
	EventAIGroup       EventType = "ai_group"
	EventManualMove    EventType = "manual_move"
	EventManualUngroup EventType = "manual_ungroup"
	EventGroupRename   EventType = "group_rename"
	EventGroupDelete   EventType = "group_delete"
)

// Event is one append-only entry in the learning log. Immutable once
// written except for bulk age/size eviction.
type Event struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Type        EventType `json:"type"`
	TabID       int       `json:"tabId"`
	TabTitle    string    `json:"tabTitle"`
	TabURL      string    `json:"tabUrl"`
	TabDomain   string    `json:"tabDomain"`
	FromGroup   string    `json:"fromGroup"`
	ToGroup     string    `json:"toGroup"`
	AISuggested bool      `json:"aiSuggested"`
}

// Insight is a scored preference statement produced by the analyzer. Status
// transitions only via explicit user accept/reject.
type Insight struct {
	ID             string    `json:"id"`
	GeneratedAt    time.Time `json:"generatedAt"`
	Status         string    `json:"status"` // pending, accepted, rejected
	Confidence     float64   `json:"confidence"`
	PreferenceText string    `json:"preferenceText"`
	Category       string    `json:"category"`
	EvidenceIDs    []string  `json:"evidenceIds"`
	Reasoning      string    `json:"reasoning"`
}

// Revision is a proposed rewrite of the grouping prompt template, built
// from the accepted insights at generation time.
type Revision struct {
	ID            string    `json:"id"`
	GeneratedAt   time.Time `json:"generatedAt"`
	Status        string    `json:"status"`
	CurrentPrompt string    `json:"currentPrompt"`
	RevisedPrompt string    `json:"revisedPrompt"`
	Changes       []string  `json:"changes"`
	Reasoning     string    `json:"reasoning"`
	BasedOn       []string  `json:"basedOnInsights"`
}

// Config governs recording, auto-analysis suggestions, and retention.
type Config struct {
	Enabled             bool    `json:"enabled"`
	AutoAnalyzeEnabled  bool    `json:"autoAnalyzeEnabled"`
	AnalyzeAfterEvents  int     `json:"analyzeAfterEveryNActions"`
	AnalyzeIntervalDays int     `json:"analyzeIntervalDays"`
	MaxHistoryEvents    int     `json:"maxHistoryEvents"`
	MaxHistoryDays      int     `json:"maxHistoryDays"`
	MinConfidence       float64 `json:"minConfidenceThreshold"`
}

// DefaultConfig returns the configuration written back when none exists.
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		AutoAnalyzeEnabled:  false,
		AnalyzeAfterEvents:  30,
		AnalyzeIntervalDays: 7,
		MaxHistoryEvents:    500,
		MaxHistoryDays:      90,
		MinConfidence:       0.7,
	}
}

// retentionDays bounds how long non-accepted insights and revisions are
// kept. Accepted ones are retained indefinitely.
const retentionDays = 30

// migration is a numbered schema change, applied in order and tracked in
// schema_migrations so each runs exactly once.
type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "initial learning schema",
		SQL: `
CREATE TABLE IF NOT EXISTS events (
    id           TEXT PRIMARY KEY,
    ts           INTEGER NOT NULL,
    type         TEXT NOT NULL,
    tab_id       INTEGER NOT NULL,
    tab_title    TEXT NOT NULL DEFAULT '',
    tab_url      TEXT NOT NULL DEFAULT '',
    tab_domain   TEXT NOT NULL DEFAULT '',
    from_grp     TEXT NOT NULL DEFAULT '',
    to_grp       TEXT NOT NULL DEFAULT '',
    ai_suggested BOOLEAN NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS events_ts ON events(ts);
CREATE TABLE IF NOT EXISTS insights (
    id           TEXT PRIMARY KEY,
    generated_at INTEGER NOT NULL,
    status       TEXT NOT NULL DEFAULT 'pending',
    confidence   REAL NOT NULL,
    preference   TEXT NOT NULL,
    category     TEXT NOT NULL,
    evidence     TEXT NOT NULL DEFAULT '[]',
    reasoning    TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS revisions (
    id             TEXT PRIMARY KEY,
    generated_at   INTEGER NOT NULL,
    status         TEXT NOT NULL DEFAULT 'pending',
    current_prompt TEXT NOT NULL,
    revised_prompt TEXT NOT NULL,
    changes        TEXT NOT NULL DEFAULT '[]',
    reasoning      TEXT NOT NULL DEFAULT '',
    based_on       TEXT NOT NULL DEFAULT '[]'
);
CREATE TABLE IF NOT EXISTS learning_state (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);`,
	},
}

// Store is the sqlite-backed learning record. It exclusively owns the event
// log, insights, and revisions.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the learning database at the given path, enabling
// WAL mode and running pending migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version     INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	for _, m := range migrations {
		var exists int
		if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.Version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if exists > 0 {
			continue
		}
		if _, err := db.Exec(m.SQL); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := db.Exec(
			"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// DefaultDBPath returns ~/.local/share/tabgruppen/learning.db.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "tabgruppen", "learning.db"), nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Config loads the learning config, writing defaults back if missing.
func (s *Store) Config() (Config, error) {
	raw, err := s.stateValue("config")
	if err != nil {
		return Config{}, err
	}
	if raw == "" {
		cfg := DefaultConfig()
		if err := s.SetConfig(cfg); err != nil {
			return Config{}, err
		}
		return cfg, nil
	}
	var cfg Config
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return Config{}, fmt.Errorf("parse learning config: %w", err)
	}
	return cfg, nil
}

// SetConfig persists the learning config.
func (s *Store) SetConfig(cfg Config) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return s.setStateValue("config", string(raw))
}

func (s *Store) stateValue(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM learning_state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read state %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) setStateValue(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO learning_state (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	return err
}

// InsertEvent appends one event to the log.
func (s *Store) InsertEvent(ev Event) error {
	_, err := s.db.Exec(
		`INSERT INTO events (id, ts, type, tab_id, tab_title, tab_url, tab_domain, from_grp, to_grp, ai_suggested)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Timestamp.UnixMilli(), string(ev.Type), ev.TabID,
		ev.TabTitle, ev.TabURL, ev.TabDomain, ev.FromGroup, ev.ToGroup, ev.AISuggested,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// CountEvents returns the number of stored events.
func (s *Store) CountEvents() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// RecentEvents returns up to limit events, oldest first among the newest.
func (s *Store) RecentEvents(limit int) ([]Event, error) {
	rows, err := s.db.Query(`
		SELECT id, ts, type, tab_id, tab_title, tab_url, tab_domain, from_grp, to_grp, ai_suggested
		FROM (
			SELECT * FROM events ORDER BY ts DESC, id DESC LIMIT ?
		) ORDER BY ts ASC, id ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var result []Event
	for rows.Next() {
		var ev Event
		var ts int64
		var typ string
		if err := rows.Scan(&ev.ID, &ts, &typ, &ev.TabID, &ev.TabTitle, &ev.TabURL,
			&ev.TabDomain, &ev.FromGroup, &ev.ToGroup, &ev.AISuggested); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Timestamp = time.UnixMilli(ts)
		ev.Type = EventType(typ)
		result = append(result, ev)
	}
	return result, rows.Err()
}

// Evict applies retention: events older than MaxHistoryDays go first, then
// the count cap keeps only the newest MaxHistoryEvents. Non-accepted
// insights and revisions past the retention window are dropped; accepted
// ones are kept regardless of age.
func (s *Store) Evict(cfg Config, now time.Time) error {
	cutoff := now.AddDate(0, 0, -cfg.MaxHistoryDays).UnixMilli()
	if _, err := s.db.Exec("DELETE FROM events WHERE ts < ?", cutoff); err != nil {
		return fmt.Errorf("evict old events: %w", err)
	}

	_, err := s.db.Exec(`
		DELETE FROM events WHERE id NOT IN (
			SELECT id FROM events ORDER BY ts DESC, id DESC LIMIT ?
		)`, cfg.MaxHistoryEvents)
	if err != nil {
		return fmt.Errorf("evict excess events: %w", err)
	}

	staleCutoff := now.AddDate(0, 0, -retentionDays).UnixMilli()
	if _, err := s.db.Exec(
		"DELETE FROM insights WHERE status != 'accepted' AND generated_at < ?", staleCutoff,
	); err != nil {
		return fmt.Errorf("evict insights: %w", err)
	}
	if _, err := s.db.Exec(
		"DELETE FROM revisions WHERE status != 'accepted' AND generated_at < ?", staleCutoff,
	); err != nil {
		return fmt.Errorf("evict revisions: %w", err)
	}
	return nil
}

// InsertInsights appends generated insights (typically status pending).
func (s *Store) InsertInsights(insights []Insight) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, ins := range insights {
		evidence, err := json.Marshal(ins.EvidenceIDs)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(
			`INSERT INTO insights (id, generated_at, status, confidence, preference, category, evidence, reasoning)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			ins.ID, ins.GeneratedAt.UnixMilli(), ins.Status, ins.Confidence,
			ins.PreferenceText, ins.Category, string(evidence), ins.Reasoning,
		); err != nil {
			return fmt.Errorf("insert insight %s: %w", ins.ID, err)
		}
	}
	return tx.Commit()
}

// InsightsByStatus returns insights with the given status, newest first.
func (s *Store) InsightsByStatus(status string) ([]Insight, error) {
	rows, err := s.db.Query(`
		SELECT id, generated_at, status, confidence, preference, category, evidence, reasoning
		FROM insights WHERE status = ? ORDER BY generated_at DESC, id DESC`, status)
	if err != nil {
		return nil, fmt.Errorf("query insights: %w", err)
	}
	defer rows.Close()

	var result []Insight
	for rows.Next() {
		ins, err := scanInsight(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, ins)
	}
	return result, rows.Err()
}

func scanInsight(rows *sql.Rows) (Insight, error) {
	var ins Insight
	var generatedAt int64
	var evidence string
	if err := rows.Scan(&ins.ID, &generatedAt, &ins.Status, &ins.Confidence,
		&ins.PreferenceText, &ins.Category, &evidence, &ins.Reasoning); err != nil {
		return Insight{}, fmt.Errorf("scan insight: %w", err)
	}
	ins.GeneratedAt = time.UnixMilli(generatedAt)
	if err := json.Unmarshal([]byte(evidence), &ins.EvidenceIDs); err != nil {
		return Insight{}, fmt.Errorf("parse insight evidence: %w", err)
	}
	return ins, nil
}

// UpdateInsightStatus accepts or rejects an insight.
func (s *Store) UpdateInsightStatus(id, status string) error {
	res, err := s.db.Exec("UPDATE insights SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("update insight: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("insight %s not found", id)
	}
	return nil
}

// InsertRevision appends a generated prompt revision.
func (s *Store) InsertRevision(rev Revision) error {
	changes, err := json.Marshal(rev.Changes)
	if err != nil {
		return err
	}
	basedOn, err := json.Marshal(rev.BasedOn)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO revisions (id, generated_at, status, current_prompt, revised_prompt, changes, reasoning, based_on)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rev.ID, rev.GeneratedAt.UnixMilli(), rev.Status, rev.CurrentPrompt,
		rev.RevisedPrompt, string(changes), rev.Reasoning, string(basedOn),
	)
	if err != nil {
		return fmt.Errorf("insert revision: %w", err)
	}
	return nil
}

// RevisionsByStatus returns revisions with the given status, newest first.
func (s *Store) RevisionsByStatus(status string) ([]Revision, error) {
	rows, err := s.db.Query(`
		SELECT id, generated_at, status, current_prompt, revised_prompt, changes, reasoning, based_on
		FROM revisions WHERE status = ? ORDER BY generated_at DESC, id DESC`, status)
	if err != nil {
		return nil, fmt.Errorf("query revisions: %w", err)
	}
	defer rows.Close()

	var result []Revision
	for rows.Next() {
		rev, err := scanRevision(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rev)
	}
	return result, rows.Err()
}

func scanRevision(rows *sql.Rows) (Revision, error) {
	var rev Revision
	var generatedAt int64
	var changes, basedOn string
	if err := rows.Scan(&rev.ID, &generatedAt, &rev.Status, &rev.CurrentPrompt,
		&rev.RevisedPrompt, &changes, &rev.Reasoning, &basedOn); err != nil {
		return Revision{}, fmt.Errorf("scan revision: %w", err)
	}
	rev.GeneratedAt = time.UnixMilli(generatedAt)
	if err := json.Unmarshal([]byte(changes), &rev.Changes); err != nil {
		return Revision{}, fmt.Errorf("parse revision changes: %w", err)
	}
	if err := json.Unmarshal([]byte(basedOn), &rev.BasedOn); err != nil {
		return Revision{}, fmt.Errorf("parse revision basis: %w", err)
	}
	return rev, nil
}

// UpdateRevisionStatus accepts or rejects a revision.
func (s *Store) UpdateRevisionStatus(id, status string) error {
	res, err := s.db.Exec("UPDATE revisions SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("update revision: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("revision %s not found", id)
	}
	return nil
}

// ActiveRevision returns the most recently accepted revision, or nil if
// none has been accepted. Its RevisedPrompt overrides the base template.
func (s *Store) ActiveRevision() (*Revision, error) {
	accepted, err := s.RevisionsByStatus("accepted")
	if err != nil {
		return nil, err
	}
	if len(accepted) == 0 {
		return nil, nil
	}
	return &accepted[0], nil
}

// AnalysisState returns when analysis last ran and how many events have
// been recorded since.
func (s *Store) AnalysisState() (last time.Time, eventsSince int, err error) {
	rawTS, err := s.stateValue("last_analysis_ts")
	if err != nil {
		return time.Time{}, 0, err
	}
	rawCount, err := s.stateValue("events_since_analysis")
	if err != nil {
		return time.Time{}, 0, err
	}
	if rawTS != "" {
		var ms int64
		fmt.Sscanf(rawTS, "%d", &ms)
		if ms > 0 {
			last = time.UnixMilli(ms)
		}
	}
	if rawCount != "" {
		fmt.Sscanf(rawCount, "%d", &eventsSince)
	}
	return last, eventsSince, nil
}

// SetAnalysisState records an analysis run and resets the event counter.
func (s *Store) SetAnalysisState(last time.Time, eventsSince int) error {
	if err := s.setStateValue("last_analysis_ts", fmt.Sprintf("%d", last.UnixMilli())); err != nil {
		return err
	}
	return s.setStateValue("events_since_analysis", fmt.Sprintf("%d", eventsSince))
}

// BumpEventCount increments the events-since-analysis counter and returns
// the new value.
func (s *Store) BumpEventCount() (int, error) {
	_, count, err := s.AnalysisState()
	if err != nil {
		return 0, err
	}
	count++
	if err := s.setStateValue("events_since_analysis", fmt.Sprintf("%d", count)); err != nil {
		return 0, err
	}
	return count, nil
}

// ClearAll wipes every learning record and resets the config to defaults.
func (s *Store) ClearAll() error {
	for _, table := range []string{"events", "insights", "revisions", "learning_state"} {
		if _, err := s.db.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return s.SetConfig(DefaultConfig())
}
