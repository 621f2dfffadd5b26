package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "agent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestUpsertAndGetPole(t *testing.T) {
	db := setupDB(t)

	installed := time.Date(2015, time.March, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, db.UpsertPole(&Pole{
		ID: 1, Name: "P-001", Lat: -19.9, Lng: -43.9,
		UTMX: "610000.00", UTMY: "7790000.00",
		Material: "concreto", InstalledAt: installed, AHIScore: 100,
	}))

	p, err := db.GetPole(1)
	require.NoError(t, err)
	assert.Equal(t, "P-001", p.Name)
	assert.Equal(t, "concreto", p.Material)
	assert.Equal(t, 100, p.AHIScore)
	assert.Equal(t, installed.Year(), p.InstalledAt.Year())
}

func TestUpsertPoleKeepsMaterialOnResync(t *testing.T) {
	db := setupDB(t)

	require.NoError(t, db.UpsertPole(&Pole{ID: 1, Name: "P-001", Material: "madeira", AHIScore: 90}))

	// A resync payload without material must not erase the local value.
	require.NoError(t, db.UpsertPole(&Pole{ID: 1, Name: "P-001 renamed", AHIScore: 85}))

	p, err := db.GetPole(1)
	require.NoError(t, err)
	assert.Equal(t, "P-001 renamed", p.Name)
	assert.Equal(t, "madeira", p.Material)
	assert.Equal(t, 85, p.AHIScore)
}

func TestUpdatePoleScore(t *testing.T) {
	db := setupDB(t)

	require.NoError(t, db.UpsertPole(&Pole{ID: 1, Name: "P-001", AHIScore: 100}))
	require.NoError(t, db.UpdatePoleScore(1, 72))

	p, err := db.GetPole(1)
	require.NoError(t, err)
	assert.Equal(t, 72, p.AHIScore)
}

func TestInspections(t *testing.T) {
	db := setupDB(t)

	require.NoError(t, db.UpsertPole(&Pole{ID: 1, Name: "P-001", AHIScore: 100}))
	_, err := db.InsertInspection(&Inspection{
		PoleID: 1, Condition: "Atenção", Confidence: 0.8, Summary: "desgaste leve",
	})
	require.NoError(t, err)

	inspections, err := db.ListInspections(1, 10)
	require.NoError(t, err)
	require.Len(t, inspections, 1)
	assert.Equal(t, "Atenção", inspections[0].Condition)
	assert.InDelta(t, 0.8, inspections[0].Confidence, 0.001)
}

func TestMaterialsSeeded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.db")

	db, err := Open(path)
	require.NoError(t, err)

	materials, err := db.ListMaterials()
	require.NoError(t, err)
	assert.Len(t, materials, 8)
	require.NoError(t, db.Close())

	// Opening the same database again must not duplicate the catalog.
	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	materials, err = db.ListMaterials()
	require.NoError(t, err)
	assert.Len(t, materials, 8)
}

func TestSyncQueueFIFO(t *testing.T) {
	db := setupDB(t)

	idA, err := db.EnqueueMutation(&QueuedMutation{IdempotencyKey: "k-a", URL: "/api/a", Method: "POST", Payload: "{}"})
	require.NoError(t, err)
	idB, err := db.EnqueueMutation(&QueuedMutation{IdempotencyKey: "k-b", URL: "/api/b", Method: "POST", Payload: "{}"})
	require.NoError(t, err)

	assert.Greater(t, idB, idA)

	mutations, err := db.ListMutations()
	require.NoError(t, err)
	require.Len(t, mutations, 2)
	assert.Equal(t, "/api/a", mutations[0].URL)
	assert.Equal(t, "/api/b", mutations[1].URL)
}

func TestSyncQueueDeleteAndFail(t *testing.T) {
	db := setupDB(t)

	id, err := db.EnqueueMutation(&QueuedMutation{IdempotencyKey: "k-a", URL: "/api/a", Method: "POST", Payload: "{}"})
	require.NoError(t, err)

	require.NoError(t, db.MarkMutationFailed(id, "API error 500"))
	mutations, err := db.ListMutations()
	require.NoError(t, err)
	require.Len(t, mutations, 1)
	assert.Equal(t, 1, mutations[0].Attempts)
	assert.Equal(t, "API error 500", mutations[0].LastError)

	require.NoError(t, db.DeleteMutation(id))
	n, err := db.CountMutations()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGetStats(t *testing.T) {
	db := setupDB(t)

	require.NoError(t, db.UpsertPole(&Pole{ID: 1, Name: "P-001", AHIScore: 100}))
	_, err := db.InsertInspection(&Inspection{PoleID: 1, Condition: "Boa", Confidence: 0.9})
	require.NoError(t, err)
	_, err = db.EnqueueMutation(&QueuedMutation{IdempotencyKey: "k", URL: "/api/a", Method: "POST", Payload: "{}"})
	require.NoError(t, err)

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Poles)
	assert.Equal(t, 1, stats.Inspections)
	assert.Equal(t, 1, stats.Queued)
}
