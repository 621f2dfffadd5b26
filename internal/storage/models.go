// Package storage provides SQLite database operations for the field controller.
package storage

import "time"

// Pole represents a utility pole asset in the local cache
type Pole struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	UTMX        string    `json:"utm_x,omitempty"`
	UTMY        string    `json:"utm_y,omitempty"`
	Material    string    `json:"material,omitempty"` // free text: "concreto", "madeira", ...
	InstalledAt time.Time `json:"installation_date,omitempty"`
	AHIScore    int       `json:"ahi_score"` // last computed Asset Health Index, 0-100
	UpdatedAt   time.Time `json:"updated_at"`
}

// Inspection represents a recorded condition assessment for a pole
type Inspection struct {
	ID         int64     `json:"id"`
	PoleID     int64     `json:"pole_id"`
	Condition  string    `json:"condition"` // classifier vocabulary, not an enum
	Confidence float64   `json:"confidence"`
	Summary    string    `json:"summary,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Material represents a maintenance material with its keyword match list
type Material struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	UnitPrice float64 `json:"unit_price"`
	MatchKeys string  `json:"match_keys"` // comma-separated keywords
}

// QueuedMutation represents a captured write intent waiting to be replayed.
// Attempt bookkeeping aside, rows are never updated in place; the
// autoincrement id is the FIFO replay order.
type QueuedMutation struct {
	ID             int64     `json:"id"`
	IdempotencyKey string    `json:"idempotency_key"`
	URL            string    `json:"url"`
	Method         string    `json:"method"`
	Payload        string    `json:"payload"` // JSON body as captured
	CreatedAt      time.Time `json:"created_at"`
	Attempts       int       `json:"attempts"`
	LastError      string    `json:"last_error,omitempty"`
}
