// Package engine provides the core logic for the field controller, wiring
// the local asset cache, the vision classifier, the health scoring model
// and the offline sync queue together.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/sisdrone/field-controller/internal/cloud"
	"github.com/sisdrone/field-controller/internal/cost"
	"github.com/sisdrone/field-controller/internal/geo"
	"github.com/sisdrone/field-controller/internal/health"
	"github.com/sisdrone/field-controller/internal/offline"
	"github.com/sisdrone/field-controller/internal/storage"
	"github.com/sisdrone/field-controller/internal/vision"
)

// Config holds engine configuration
type Config struct {
	DatabasePath string

	BackendURL   string
	WebSocketURL string
	AgentID      string
	Identity     cloud.Identity

	VisionAPIURL string
	VisionAPIKey string
	VisionModel  string

	SyncSchedule    string // cron spec for the periodic drain
	RescoreSchedule string // cron spec for the periodic AHI recomputation
}

// DefaultConfig returns default engine configuration
func DefaultConfig() Config {
	return Config{
		DatabasePath:    "/var/lib/sisdrone/agent.db",
		SyncSchedule:    "@every 5m",
		RescoreSchedule: "@daily",
	}
}

// Engine is the core controller coordinating local state, scoring and sync
type Engine struct {
	config  Config
	log     zerolog.Logger
	db      *storage.DB
	api     *cloud.Client
	watcher *cloud.Watcher
	vision  *vision.Client
	queue   *offline.Queue
	cron    *cron.Cron
}

// New creates a new engine instance
func New(config Config, log zerolog.Logger) (*Engine, error) {
	db, err := storage.Open(config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	cloudCfg := cloud.DefaultConfig()
	cloudCfg.BaseURL = config.BackendURL
	cloudCfg.WebSocketURL = config.WebSocketURL
	cloudCfg.AgentID = config.AgentID
	cloudCfg.Identity = config.Identity

	api := cloud.New(cloudCfg)
	watcher := cloud.NewWatcher(cloudCfg, log)

	visionCfg := vision.DefaultConfig()
	if config.VisionAPIURL != "" {
		visionCfg.APIURL = config.VisionAPIURL
	}
	visionCfg.APIKey = config.VisionAPIKey
	if config.VisionModel != "" {
		visionCfg.Model = config.VisionModel
	}

	e := &Engine{
		config:  config,
		log:     log.With().Str("component", "engine").Logger(),
		db:      db,
		api:     api,
		watcher: watcher,
		vision:  vision.New(visionCfg),
		cron:    cron.New(),
	}

	e.queue = offline.NewQueue(db, api, log)
	e.queue.SetDrainedCallback(e.resync)

	// A reconnect is the drain trigger; the first successful connect also
	// covers the drain-at-startup case.
	watcher.SetOnlineCallback(func() {
		if err := e.queue.Drain(context.Background()); err != nil {
			e.log.Warn().Err(err).Msg("drain after reconnect incomplete")
		}
	})
	watcher.SetResyncCallback(e.resync)

	return e, nil
}

// Start begins the connectivity watcher and the periodic jobs
func (e *Engine) Start(ctx context.Context) error {
	e.watcher.Start(ctx)

	if _, err := e.cron.AddFunc(e.config.SyncSchedule, func() {
		if err := e.queue.Drain(context.Background()); err != nil {
			e.log.Warn().Err(err).Msg("scheduled drain incomplete")
		}
	}); err != nil {
		return fmt.Errorf("invalid sync schedule %q: %w", e.config.SyncSchedule, err)
	}

	if _, err := e.cron.AddFunc(e.config.RescoreSchedule, func() {
		if err := e.Rescore(); err != nil {
			e.log.Warn().Err(err).Msg("scheduled rescore incomplete")
		}
	}); err != nil {
		return fmt.Errorf("invalid rescore schedule %q: %w", e.config.RescoreSchedule, err)
	}

	e.cron.Start()
	e.log.Info().Str("agent_id", e.config.AgentID).Msg("engine started")
	return nil
}

// Stop shuts down the engine
func (e *Engine) Stop() error {
	e.cron.Stop()
	e.watcher.Stop()
	return e.db.Close()
}

// Syncing reports whether a drain pass is in progress
func (e *Engine) Syncing() bool {
	return e.queue.Syncing()
}

// PendingMutations returns the number of captured writes awaiting replay
func (e *Engine) PendingMutations() (int, error) {
	return e.queue.Pending()
}

// Drain replays all captured writes immediately, outside the scheduled and
// reconnect-driven triggers
func (e *Engine) Drain(ctx context.Context) error {
	return e.queue.Drain(ctx)
}

// CreatePole registers a new pole with the backend, deriving its UTM grid
// coordinates from the map position. While offline the write is captured
// for replay; queued reports which path was taken.
func (e *Engine) CreatePole(ctx context.Context, name string, lat, lng float64) (queued bool, err error) {
	utm := geo.DegreesToUTM(lat, lng)
	req := &cloud.CreatePoleRequest{
		Name: name,
		Lat:  lat,
		Lng:  lng,
		UTMX: strconv.FormatFloat(utm.Easting, 'f', 2, 64),
		UTMY: strconv.FormatFloat(utm.Northing, 'f', 2, 64),
	}
	return e.queue.Submit(ctx, "/api/poles", http.MethodPost, req)
}

// ImportGeoJSON submits a GeoJSON feature collection, offline-safe
func (e *Engine) ImportGeoJSON(ctx context.Context, geojson json.RawMessage) (queued bool, err error) {
	return e.queue.Submit(ctx, "/api/gis/import/geojson", http.MethodPost,
		map[string]interface{}{"geojson": geojson})
}

// SendFeedback submits classification feedback, offline-safe
func (e *Engine) SendFeedback(ctx context.Context, req *cloud.FeedbackRequest) (queued bool, err error) {
	return e.queue.Submit(ctx, "/api/feedback", http.MethodPost, req)
}

// InspectionOutcome is the result of a completed image inspection
type InspectionOutcome struct {
	Result *vision.Result `json:"result"`
	Score  int            `json:"ahi_score"`
	Queued bool           `json:"queued"` // report captured for offline replay
}

// InspectImage classifies an inspection photo, records the assessment,
// recomputes the pole's AHI and submits the report through the
// offline-safe path.
func (e *Engine) InspectImage(ctx context.Context, poleID int64, imageBase64 string) (*InspectionOutcome, error) {
	pole, err := e.db.GetPole(poleID)
	if err != nil {
		return nil, fmt.Errorf("pole %d not found locally: %w", poleID, err)
	}

	result, err := e.vision.AnalyzeImage(ctx, imageBase64)
	if err != nil {
		return nil, fmt.Errorf("classify image: %w", err)
	}

	if _, err := e.db.InsertInspection(&storage.Inspection{
		PoleID:     poleID,
		Condition:  result.Condition,
		Confidence: result.Confidence,
		Summary:    result.Summary,
	}); err != nil {
		return nil, fmt.Errorf("record inspection: %w", err)
	}

	score := health.ComputeHealthIndex(pole, &health.Assessment{
		Condition:  result.Condition,
		Confidence: result.Confidence,
	}, time.Now())
	if err := e.db.UpdatePoleScore(poleID, score); err != nil {
		return nil, fmt.Errorf("persist score: %w", err)
	}

	queued, err := e.queue.Submit(ctx, "/api/inspections", http.MethodPost, &cloud.InspectionReport{
		PoleID:     poleID,
		Condition:  result.Condition,
		Confidence: result.Confidence,
		Summary:    result.Summary,
		AHIScore:   score,
	})
	if err != nil {
		return nil, fmt.Errorf("submit inspection report: %w", err)
	}

	e.log.Info().Int64("pole_id", poleID).Str("condition", result.Condition).
		Int("score", score).Bool("queued", queued).Msg("inspection completed")

	return &InspectionOutcome{Result: result, Score: score, Queued: queued}, nil
}

// PredictPole projects the remaining service life of a cached pole
func (e *Engine) PredictPole(poleID int64) (*health.Prediction, error) {
	pole, err := e.db.GetPole(poleID)
	if err != nil {
		return nil, fmt.Errorf("pole %d not found locally: %w", poleID, err)
	}
	return health.PredictLifespan(pole, time.Now()), nil
}

// EstimateMaintenanceCost prices a maintenance plan against the local
// materials catalog
func (e *Engine) EstimateMaintenanceCost(planText string) (float64, error) {
	materials, err := e.db.ListMaterials()
	if err != nil {
		return 0, fmt.Errorf("load materials: %w", err)
	}
	return cost.EstimatePlan(planText, materials), nil
}

// Rescore recomputes the AHI of every cached pole from its age and latest
// recorded assessment
func (e *Engine) Rescore() error {
	poles, err := e.db.ListPoles()
	if err != nil {
		return fmt.Errorf("list poles: %w", err)
	}

	now := time.Now()
	for _, pole := range poles {
		var assessment *health.Assessment
		inspections, err := e.db.ListInspections(pole.ID, 1)
		if err != nil {
			return fmt.Errorf("list inspections for pole %d: %w", pole.ID, err)
		}
		if len(inspections) > 0 {
			assessment = &health.Assessment{
				Condition:  inspections[0].Condition,
				Confidence: inspections[0].Confidence,
			}
		}

		score := health.ComputeHealthIndex(pole, assessment, now)
		if score == pole.AHIScore {
			continue
		}
		if err := e.db.UpdatePoleScore(pole.ID, score); err != nil {
			return fmt.Errorf("persist score for pole %d: %w", pole.ID, err)
		}
		e.log.Debug().Int64("pole_id", pole.ID).Int("score", score).Msg("pole rescored")
	}
	return nil
}

// resync re-fetches server-side pole state into the local cache so the UI
// reconciles any divergence introduced by an offline window
func (e *Engine) resync() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	poles, err := e.api.FetchPoles(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("resync failed")
		return
	}

	for _, pole := range poles {
		if err := e.db.UpsertPole(pole); err != nil {
			e.log.Warn().Int64("pole_id", pole.ID).Err(err).Msg("failed to cache pole")
		}
	}
	e.log.Info().Int("poles", len(poles)).Msg("local cache resynchronized")
}
