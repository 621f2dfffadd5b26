package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
}

// Open opens or creates the SQLite database
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := db.seedMaterials(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to seed materials: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates the database schema
func (db *DB) migrate() error {
	schema := `
	-- Local cache of pole assets
	CREATE TABLE IF NOT EXISTS poles (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		lat REAL NOT NULL,
		lng REAL NOT NULL,
		utm_x TEXT,
		utm_y TEXT,
		material TEXT,
		installation_date DATETIME,
		ahi_score INTEGER NOT NULL DEFAULT 100,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Condition assessments recorded against poles
	CREATE TABLE IF NOT EXISTS inspections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pole_id INTEGER NOT NULL,
		condition TEXT NOT NULL,
		confidence REAL NOT NULL,
		summary TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (pole_id) REFERENCES poles(id)
	);
	CREATE INDEX IF NOT EXISTS idx_inspections_pole ON inspections(pole_id);

	-- Maintenance materials for cost estimation
	CREATE TABLE IF NOT EXISTS materials (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT UNIQUE NOT NULL,
		unit_price REAL NOT NULL,
		match_keys TEXT NOT NULL
	);

	-- Captured write intents waiting to be replayed to the backend.
	-- id order is replay order.
	CREATE TABLE IF NOT EXISTS sync_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		idempotency_key TEXT UNIQUE NOT NULL,
		url TEXT NOT NULL,
		method TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		attempts INTEGER DEFAULT 0,
		last_error TEXT
	);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// seedMaterials inserts the default materials catalog if not already present
func (db *DB) seedMaterials() error {
	seed := []Material{
		{Name: "Poste de Concreto DT 11/400", UnitPrice: 1200.00, MatchKeys: "poste,concreto,substituição de poste"},
		{Name: "Cruzeta de Madeira 2.4m", UnitPrice: 150.00, MatchKeys: "cruzeta,madeira,braço"},
		{Name: "Isolador de Porcelana 15kV", UnitPrice: 45.00, MatchKeys: "isolador,pilar,porcelana"},
		{Name: "Transformador 75kVA", UnitPrice: 8500.00, MatchKeys: "transformador,trafo"},
		{Name: "Chave Fusível Matheus", UnitPrice: 280.00, MatchKeys: "chave,fusível,matheus"},
		{Name: "Para-raios Polimérico 12kV", UnitPrice: 120.00, MatchKeys: "para-raios,pára-raios,dps"},
		{Name: "Cabo de Alumínio CA (kg)", UnitPrice: 35.00, MatchKeys: "cabo,fio,condutor,alumínio"},
		{Name: "Alça Pré-formada", UnitPrice: 15.00, MatchKeys: "alça,pré-formada,amarração"},
	}

	for _, m := range seed {
		_, err := db.conn.Exec(
			`INSERT INTO materials (name, unit_price, match_keys) VALUES (?, ?, ?)
			ON CONFLICT(name) DO NOTHING`,
			m.Name, m.UnitPrice, m.MatchKeys)
		if err != nil {
			return err
		}
	}
	return nil
}

// --- Pole Operations ---

// UpsertPole inserts or updates a pole in the local cache
func (db *DB) UpsertPole(p *Pole) error {
	query := `
		INSERT INTO poles (id, name, lat, lng, utm_x, utm_y, material, installation_date, ahi_score, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			lat = excluded.lat,
			lng = excluded.lng,
			utm_x = excluded.utm_x,
			utm_y = excluded.utm_y,
			material = COALESCE(NULLIF(excluded.material, ''), material),
			installation_date = COALESCE(excluded.installation_date, installation_date),
			ahi_score = excluded.ahi_score,
			updated_at = excluded.updated_at
	`
	var installed interface{}
	if !p.InstalledAt.IsZero() {
		installed = p.InstalledAt
	}
	_, err := db.conn.Exec(query, p.ID, p.Name, p.Lat, p.Lng, p.UTMX, p.UTMY,
		p.Material, installed, p.AHIScore, time.Now())
	return err
}

// GetPole retrieves a pole by id
func (db *DB) GetPole(id int64) (*Pole, error) {
	query := `SELECT id, name, lat, lng, utm_x, utm_y, material, installation_date, ahi_score, updated_at
		FROM poles WHERE id = ?`

	p := &Pole{}
	var utmX, utmY, material sql.NullString
	var installed sql.NullTime
	err := db.conn.QueryRow(query, id).Scan(&p.ID, &p.Name, &p.Lat, &p.Lng,
		&utmX, &utmY, &material, &installed, &p.AHIScore, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.UTMX = utmX.String
	p.UTMY = utmY.String
	p.Material = material.String
	if installed.Valid {
		p.InstalledAt = installed.Time
	}
	return p, nil
}

// ListPoles retrieves all cached poles, newest first
func (db *DB) ListPoles() ([]*Pole, error) {
	query := `SELECT id, name, lat, lng, utm_x, utm_y, material, installation_date, ahi_score, updated_at
		FROM poles ORDER BY id DESC`

	rows, err := db.conn.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var poles []*Pole
	for rows.Next() {
		p := &Pole{}
		var utmX, utmY, material sql.NullString
		var installed sql.NullTime
		if err := rows.Scan(&p.ID, &p.Name, &p.Lat, &p.Lng, &utmX, &utmY,
			&material, &installed, &p.AHIScore, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.UTMX = utmX.String
		p.UTMY = utmY.String
		p.Material = material.String
		if installed.Valid {
			p.InstalledAt = installed.Time
		}
		poles = append(poles, p)
	}
	return poles, rows.Err()
}

// UpdatePoleScore persists a newly computed AHI score for a pole
func (db *DB) UpdatePoleScore(id int64, score int) error {
	_, err := db.conn.Exec("UPDATE poles SET ahi_score = ?, updated_at = ? WHERE id = ?",
		score, time.Now(), id)
	return err
}

// --- Inspection Operations ---

// InsertInspection records a condition assessment for a pole
func (db *DB) InsertInspection(i *Inspection) (int64, error) {
	query := `INSERT INTO inspections (pole_id, condition, confidence, summary, created_at)
		VALUES (?, ?, ?, ?, ?)`

	ts := i.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	result, err := db.conn.Exec(query, i.PoleID, i.Condition, i.Confidence, i.Summary, ts)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// ListInspections retrieves the most recent inspections for a pole
func (db *DB) ListInspections(poleID int64, limit int) ([]*Inspection, error) {
	query := `SELECT id, pole_id, condition, confidence, summary, created_at
		FROM inspections WHERE pole_id = ?
		ORDER BY created_at DESC LIMIT ?`

	rows, err := db.conn.Query(query, poleID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var inspections []*Inspection
	for rows.Next() {
		i := &Inspection{}
		var summary sql.NullString
		if err := rows.Scan(&i.ID, &i.PoleID, &i.Condition, &i.Confidence, &summary, &i.CreatedAt); err != nil {
			return nil, err
		}
		i.Summary = summary.String
		inspections = append(inspections, i)
	}
	return inspections, rows.Err()
}

// --- Material Operations ---

// ListMaterials retrieves the materials catalog
func (db *DB) ListMaterials() ([]*Material, error) {
	rows, err := db.conn.Query("SELECT id, name, unit_price, match_keys FROM materials ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var materials []*Material
	for rows.Next() {
		m := &Material{}
		if err := rows.Scan(&m.ID, &m.Name, &m.UnitPrice, &m.MatchKeys); err != nil {
			return nil, err
		}
		materials = append(materials, m)
	}
	return materials, rows.Err()
}

// --- Sync Queue Operations ---

// EnqueueMutation appends a captured write intent to the sync queue.
// The returned id reflects FIFO replay order.
func (db *DB) EnqueueMutation(m *QueuedMutation) (int64, error) {
	query := `INSERT INTO sync_queue (idempotency_key, url, method, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`

	ts := m.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	result, err := db.conn.Exec(query, m.IdempotencyKey, m.URL, m.Method, m.Payload, ts)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// ListMutations retrieves all queued mutations in insertion order
func (db *DB) ListMutations() ([]*QueuedMutation, error) {
	query := `SELECT id, idempotency_key, url, method, payload, created_at, attempts, last_error
		FROM sync_queue ORDER BY id`

	rows, err := db.conn.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mutations []*QueuedMutation
	for rows.Next() {
		m := &QueuedMutation{}
		var lastErr sql.NullString
		if err := rows.Scan(&m.ID, &m.IdempotencyKey, &m.URL, &m.Method, &m.Payload,
			&m.CreatedAt, &m.Attempts, &lastErr); err != nil {
			return nil, err
		}
		m.LastError = lastErr.String
		mutations = append(mutations, m)
	}
	return mutations, rows.Err()
}

// DeleteMutation removes an acknowledged mutation from the queue
func (db *DB) DeleteMutation(id int64) error {
	_, err := db.conn.Exec("DELETE FROM sync_queue WHERE id = ?", id)
	return err
}

// MarkMutationFailed records a failed replay attempt, retaining the row
func (db *DB) MarkMutationFailed(id int64, replayErr string) error {
	_, err := db.conn.Exec("UPDATE sync_queue SET attempts = attempts + 1, last_error = ? WHERE id = ?",
		replayErr, id)
	return err
}

// CountMutations returns the number of queued mutations
func (db *DB) CountMutations() (int, error) {
	var n int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM sync_queue").Scan(&n)
	return n, err
}

// Stats summarizes the local database contents
type Stats struct {
	Poles       int `json:"poles"`
	Inspections int `json:"inspections"`
	Queued      int `json:"queued"`
}

// GetStats returns local database statistics
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM poles").Scan(&s.Poles); err != nil {
		return nil, err
	}
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM inspections").Scan(&s.Inspections); err != nil {
		return nil, err
	}
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM sync_queue").Scan(&s.Queued); err != nil {
		return nil, err
	}
	return s, nil
}
