// Package persistence provides SQLite-based episode storage: periodic
// full-state snapshots, the dense per-timestep log, and conversation
// histories, all keyed by timestep so a run can be reconstructed and
// resumed.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/macrosim/internal/agent"
	"github.com/talgya/macrosim/internal/econ"
	"github.com/talgya/macrosim/internal/market"
	"github.com/talgya/macrosim/internal/policy"
	"github.com/talgya/macrosim/internal/sim"
)

// DB wraps a SQLite connection for episode persistence.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS episode (
		run_id TEXT PRIMARY KEY,
		seed INTEGER NOT NULL,
		config_json TEXT NOT NULL,
		created_at TEXT NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		step INTEGER PRIMARY KEY,
		agents_json TEXT NOT NULL,
		price_hist_json TEXT NOT NULL,
		wage_hist_json TEXT NOT NULL,
		rate_hist_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS dense_log (
		step INTEGER NOT NULL,
		key TEXT NOT NULL,
		observation_json TEXT NOT NULL,
		action_json TEXT,
		reward REAL NOT NULL,
		terminated INTEGER NOT NULL,
		PRIMARY KEY (step, key)
	);

	CREATE TABLE IF NOT EXISTS conversations (
		agent_id INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		prompt TEXT NOT NULL,
		response TEXT NOT NULL,
		PRIMARY KEY (agent_id, seq)
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_dense_log_step ON dense_log(step);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// InitEpisode records the run identity and configuration once per database.
func (db *DB) InitEpisode(runID string, seed int64, configJSON []byte) error {
	_, err := db.conn.Exec(
		`INSERT OR REPLACE INTO episode (run_id, seed, config_json) VALUES (?, ?, ?)`,
		runID, seed, string(configJSON))
	return err
}

// Episode returns the stored run identity, or ok=false on a fresh database.
func (db *DB) Episode() (runID string, seed int64, configJSON []byte, ok bool, err error) {
	var row struct {
		RunID  string `db:"run_id"`
		Seed   int64  `db:"seed"`
		Config string `db:"config_json"`
	}
	err = db.conn.Get(&row, `SELECT run_id, seed, config_json FROM episode LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, nil, false, nil
	}
	if err != nil {
		return "", 0, nil, false, err
	}
	return row.RunID, row.Seed, []byte(row.Config), true, nil
}

// SaveSnapshot writes the full reconstructable state at one step.
func (db *DB) SaveSnapshot(step int, agents []*agent.Agent, m *market.State) error {
	agentsJSON, err := json.Marshal(agents)
	if err != nil {
		return fmt.Errorf("marshal agents: %w", err)
	}
	priceJSON, _ := json.Marshal(m.PriceHistory())
	wageJSON, _ := json.Marshal(m.WageHistory())
	rateJSON, _ := json.Marshal(m.RateHistory())

	_, err = db.conn.Exec(
		`INSERT OR REPLACE INTO snapshots (step, agents_json, price_hist_json, wage_hist_json, rate_hist_json)
		 VALUES (?, ?, ?, ?, ?)`,
		step, string(agentsJSON), string(priceJSON), string(wageJSON), string(rateJSON))
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return db.SetMeta("last_step", fmt.Sprintf("%d", step))
}

// LatestSnapshot loads the most recent snapshot. ok=false when none exists.
func (db *DB) LatestSnapshot(params market.Params) (step int, agents []*agent.Agent, m *market.State, ok bool, err error) {
	var row struct {
		Step   int    `db:"step"`
		Agents string `db:"agents_json"`
		Prices string `db:"price_hist_json"`
		Wages  string `db:"wage_hist_json"`
		Rates  string `db:"rate_hist_json"`
	}
	err = db.conn.Get(&row, `SELECT step, agents_json, price_hist_json, wage_hist_json, rate_hist_json
		FROM snapshots ORDER BY step DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, nil, false, nil
	}
	if err != nil {
		return 0, nil, nil, false, err
	}

	if err := json.Unmarshal([]byte(row.Agents), &agents); err != nil {
		return 0, nil, nil, false, fmt.Errorf("unmarshal agents: %w", err)
	}
	var prices, wages, rates []float64
	if err := json.Unmarshal([]byte(row.Prices), &prices); err != nil {
		return 0, nil, nil, false, fmt.Errorf("unmarshal price history: %w", err)
	}
	if err := json.Unmarshal([]byte(row.Wages), &wages); err != nil {
		return 0, nil, nil, false, fmt.Errorf("unmarshal wage history: %w", err)
	}
	if err := json.Unmarshal([]byte(row.Rates), &rates); err != nil {
		return 0, nil, nil, false, fmt.Errorf("unmarshal rate history: %w", err)
	}

	m, err = market.Restore(params, prices, wages, rates, row.Step)
	if err != nil {
		return 0, nil, nil, false, err
	}
	return row.Step, agents, m, true, nil
}

// SaveStepRecord appends one timestep of the dense log.
func (db *DB) SaveStepRecord(rec sim.StepRecord) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for key, obs := range rec.Observations {
		obsJSON, err := json.Marshal(obs)
		if err != nil {
			return fmt.Errorf("marshal observation %s: %w", key, err)
		}
		var actionJSON []byte
		if action, ok := rec.Actions[key]; ok {
			actionJSON, err = json.Marshal(action)
			if err != nil {
				return fmt.Errorf("marshal action %s: %w", key, err)
			}
		}
		terminated := 0
		if rec.Terminations[key] {
			terminated = 1
		}
		_, err = tx.Exec(
			`INSERT OR REPLACE INTO dense_log (step, key, observation_json, action_json, reward, terminated)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			rec.Step, key, string(obsJSON), nullable(actionJSON), rec.Rewards[key], terminated)
		if err != nil {
			return fmt.Errorf("save dense log row: %w", err)
		}
	}
	return tx.Commit()
}

// StepRecords loads the dense log rows for a range of steps, inclusive.
func (db *DB) StepRecords(from, to int) ([]sim.StepRecord, error) {
	type row struct {
		Step        int            `db:"step"`
		Key         string         `db:"key"`
		Observation string         `db:"observation_json"`
		Action      sql.NullString `db:"action_json"`
		Reward      float64        `db:"reward"`
		Terminated  int            `db:"terminated"`
	}
	var rows []row
	err := db.conn.Select(&rows,
		`SELECT step, key, observation_json, action_json, reward, terminated
		 FROM dense_log WHERE step BETWEEN ? AND ? ORDER BY step, key`, from, to)
	if err != nil {
		return nil, err
	}

	byStep := make(map[int]*sim.StepRecord)
	var order []int
	for _, r := range rows {
		rec, ok := byStep[r.Step]
		if !ok {
			rec = &sim.StepRecord{
				Step:         r.Step,
				Observations: map[string]policy.Observation{},
				Actions:      map[string]econ.Decision{},
				Rewards:      map[string]float64{},
				Terminations: map[string]bool{},
			}
			byStep[r.Step] = rec
			order = append(order, r.Step)
		}
		var obs policy.Observation
		if err := json.Unmarshal([]byte(r.Observation), &obs); err != nil {
			return nil, fmt.Errorf("unmarshal observation: %w", err)
		}
		rec.Observations[r.Key] = obs
		if r.Action.Valid {
			var action econ.Decision
			if err := json.Unmarshal([]byte(r.Action.String), &action); err != nil {
				return nil, fmt.Errorf("unmarshal action: %w", err)
			}
			rec.Actions[r.Key] = action
		}
		rec.Rewards[r.Key] = r.Reward
		rec.Terminations[r.Key] = r.Terminated == 1
	}

	out := make([]sim.StepRecord, 0, len(order))
	for _, step := range order {
		out = append(out, *byStep[step])
	}
	return out, nil
}

// SaveConversations replaces all stored conversation histories.
func (db *DB) SaveConversations(histories map[int][]policy.Exchange) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM conversations`); err != nil {
		return err
	}
	for agentID, hist := range histories {
		for seq, ex := range hist {
			_, err := tx.Exec(
				`INSERT INTO conversations (agent_id, seq, prompt, response) VALUES (?, ?, ?, ?)`,
				agentID, seq, ex.Prompt, ex.Response)
			if err != nil {
				return fmt.Errorf("save conversation: %w", err)
			}
		}
	}
	return tx.Commit()
}

// LoadConversations restores all conversation histories.
func (db *DB) LoadConversations() (map[int][]policy.Exchange, error) {
	type row struct {
		AgentID  int    `db:"agent_id"`
		Seq      int    `db:"seq"`
		Prompt   string `db:"prompt"`
		Response string `db:"response"`
	}
	var rows []row
	err := db.conn.Select(&rows, `SELECT agent_id, seq, prompt, response FROM conversations ORDER BY agent_id, seq`)
	if err != nil {
		return nil, err
	}
	out := make(map[int][]policy.Exchange)
	for _, r := range rows {
		out[r.AgentID] = append(out[r.AgentID], policy.Exchange{Prompt: r.Prompt, Response: r.Response})
	}
	return out, nil
}

// SetMeta stores one metadata key.
func (db *DB) SetMeta(key, value string) error {
	_, err := db.conn.Exec(`INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`, key, value)
	return err
}

// GetMeta reads one metadata key.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, `SELECT value FROM meta WHERE key = ?`, key)
	if err != nil {
		return "", err
	}
	return value, nil
}

func nullable(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
