package tracker

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"rectrack-backend/lib/scrapers/recwell"
	"rectrack-backend/lib/testutil"
	"rectrack-backend/lib/timezone"
	"rectrack-backend/services/tracker/db"

	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupStore(t *testing.T) Store {
	setup, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "services/tracker",
		DbSchema: db.Schema,
	})
	t.Cleanup(cleanup)
	t.Cleanup(func() { setup.DB.Close() })
	return NewStore(setup.DB)
}

func intPtr(v int64) *int64       { return &v }
func floatPtr(v float64) *float64 { return &v }

func reading(name string, at time.Time, occ, capacity int64) recwell.Reading {
	pct := float64(occ) / float64(capacity) * 100
	return recwell.Reading{
		Name:       name,
		Time:       at,
		Occupancy:  intPtr(occ),
		Capacity:   intPtr(capacity),
		Percentage: &pct,
		Source:     "test",
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	at := time.Date(2026, time.March, 2, 18, 30, 0, 0, timezone.Location)
	r := reading("CoRec", at, 45, 200)

	require.NoError(t, store.Ingest(ctx, r))
	require.NoError(t, store.Ingest(ctx, r))

	stored, err := store.Query(ctx, "CoRec", Window{})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.EqualValues(t, 45, *stored[0].Occupancy)
}

func TestIngestLastWriteWins(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	at := time.Date(2026, time.March, 2, 18, 30, 0, 0, timezone.Location)
	require.NoError(t, store.Ingest(ctx, reading("CoRec", at, 45, 200)))
	require.NoError(t, store.Ingest(ctx, reading("CoRec", at, 90, 200)))

	stored, err := store.Query(ctx, "CoRec", Window{})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.EqualValues(t, 90, *stored[0].Occupancy)
	require.InDelta(t, 45.0, *stored[0].Percentage, 1e-9)
}

func TestIngestRejectsEmptyName(t *testing.T) {
	store := setupStore(t)

	err := store.Ingest(context.Background(), recwell.Reading{Time: timezone.Now()})
	require.Error(t, err)
}

func TestIngestPartialReading(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	at := time.Date(2026, time.March, 2, 18, 30, 0, 0, timezone.Location)
	require.NoError(t, store.Ingest(ctx, recwell.Reading{
		Name:       "TREC",
		Time:       at,
		Percentage: floatPtr(80),
	}))

	stored, err := store.Query(ctx, "TREC", Window{})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Nil(t, stored[0].Occupancy)
	require.Nil(t, stored[0].Capacity)
	require.InDelta(t, 80.0, *stored[0].Percentage, 1e-9)
}

func TestQueryOrderAndWindow(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	base := time.Date(2026, time.March, 2, 8, 0, 0, 0, timezone.Location)
	// ingested out of order on purpose
	require.NoError(t, store.Ingest(ctx, reading("CoRec", base.Add(2*time.Hour), 60, 200)))
	require.NoError(t, store.Ingest(ctx, reading("CoRec", base, 20, 200)))
	require.NoError(t, store.Ingest(ctx, reading("CoRec", base.Add(time.Hour), 40, 200)))

	all, err := store.Query(ctx, "CoRec", Window{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.True(t, all[0].Time.Before(all[1].Time))
	require.True(t, all[1].Time.Before(all[2].Time))

	// the window is inclusive on both ends
	bounded, err := store.Query(ctx, "CoRec", Window{
		Start: base,
		End:   base.Add(time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, bounded, 2)
	require.EqualValues(t, 20, *bounded[0].Occupancy)
	require.EqualValues(t, 40, *bounded[1].Occupancy)
}

func TestQueryUnknownFacility(t *testing.T) {
	store := setupStore(t)

	stored, err := store.Query(context.Background(), "nowhere", Window{})
	require.NoError(t, err)
	require.Empty(t, stored)
}

func TestFacilityNamesAreCaseSensitive(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	at := time.Date(2026, time.March, 2, 18, 30, 0, 0, timezone.Location)
	require.NoError(t, store.Ingest(ctx, reading("CoRec", at, 45, 200)))
	require.NoError(t, store.Ingest(ctx, reading("Corec", at, 10, 200)))

	names, err := store.ListFacilities(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"CoRec", "Corec"}, names)
}

func TestConcurrentIngestAndQuery(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	base := time.Date(2026, time.March, 2, 6, 0, 0, 0, timezone.Location)
	facilities := []string{"CoRec", "TREC", "Aquatics", "Cordova"}
	const perFacility = 50

	var writers sync.WaitGroup
	for _, name := range facilities {
		writers.Add(1)
		go func(name string) {
			defer writers.Done()
			for i := 0; i < perFacility; i++ {
				at := base.Add(time.Duration(i) * time.Minute)
				require.NoError(t, store.Ingest(ctx, reading(name, at, int64(i+1), 200)))
			}
		}(name)
	}

	// read continuously while the writers run. a facility listed must
	// always be queryable, there is no window where a reading exists
	// without its facility row
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for i := 0; i < 100; i++ {
			names, err := store.ListFacilities(ctx)
			require.NoError(t, err)
			for _, name := range names {
				readings, err := store.Query(ctx, name, Window{})
				require.NoError(t, err)
				require.LessOrEqual(t, len(readings), perFacility)
			}
		}
	}()

	writers.Wait()
	<-readerDone

	for _, name := range facilities {
		readings, err := store.Query(ctx, name, Window{})
		require.NoError(t, err)
		require.Len(t, readings, perFacility)
	}
}

func TestIngestRandomizedShapes(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	rndm := rand.New(rand.NewSource(4))
	shape := testutil.RandomSwitch(6, 2, 2)

	base := time.Date(2026, time.March, 2, 6, 0, 0, 0, timezone.Location)
	var names []string
	for i := 0; i < 40; i++ {
		name := "fac-" + testutil.RandomString(rndm, 8)
		names = append(names, name)

		r := recwell.Reading{
			Name:   name,
			Time:   base.Add(time.Duration(i) * time.Minute),
			Source: "test",
		}
		switch shape(rndm) {
		case 0:
			occ := rndm.Int63n(200)
			capacity := occ + 1 + rndm.Int63n(100)
			pct := float64(occ) / float64(capacity) * 100
			r.Occupancy = &occ
			r.Capacity = &capacity
			r.Percentage = &pct
		case 1:
			pct := float64(rndm.Intn(101))
			r.Percentage = &pct
		case 2:
			occ := rndm.Int63n(200)
			r.Occupancy = &occ
		}

		require.NoError(t, store.Ingest(ctx, r))
		require.NoError(t, store.Ingest(ctx, r))
	}

	stored, err := store.ListFacilities(ctx)
	require.NoError(t, err)
	require.Len(t, stored, len(names))
	require.True(t, sort.StringsAreSorted(stored))

	for _, name := range names {
		readings, err := store.Query(ctx, name, Window{})
		require.NoError(t, err)
		require.Len(t, readings, 1)
	}
}

func TestListFacilitiesSorted(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	at := time.Date(2026, time.March, 2, 18, 30, 0, 0, timezone.Location)
	for _, name := range []string{"TREC", "Aquatics", "CoRec"} {
		require.NoError(t, store.Ingest(ctx, reading(name, at, 1, 2)))
	}

	names, err := store.ListFacilities(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"Aquatics", "CoRec", "TREC"}, names)
}
