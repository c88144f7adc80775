package tracker

import (
	"context"
	"testing"
	"time"

	"rectrack-backend/lib/scrapers/recwell"
	"rectrack-backend/lib/timezone"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// at returns a timestamp daysAgo days before now, pinned to the given
// time of day on campus time.
func at(daysAgo, hour, minute int) time.Time {
	day := timezone.Now().AddDate(0, 0, -daysAgo)
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, timezone.Location)
}

func TestBucketStats(t *testing.T) {
	store := setupStore(t)
	agg := NewAggregator(store)
	ctx := context.Background()

	// two samples in the same bucket yesterday, one in another
	require.NoError(t, store.Ingest(ctx, reading("CoRec", at(1, 8, 0), 20, 200)))
	require.NoError(t, store.Ingest(ctx, recwell.Reading{
		Name:       "CoRec",
		Time:       at(1, 8, 0).Add(time.Second * 30),
		Occupancy:  intPtr(40),
		Capacity:   intPtr(200),
		Percentage: floatPtr(20),
	}))
	require.NoError(t, store.Ingest(ctx, reading("CoRec", at(1, 18, 0), 100, 200)))

	slots, err := agg.BucketStats(ctx, "CoRec", 7)
	require.NoError(t, err)
	require.Len(t, slots, 2)

	day := at(1, 8, 0).Weekday()
	diff := cmp.Diff([]Slot{
		{Day: day, Time: "08:00", AvgPercentage: floatPtr(15), AvgOccupancy: floatPtr(30), SampleCount: 2},
		{Day: day, Time: "18:00", AvgPercentage: floatPtr(50), AvgOccupancy: floatPtr(100), SampleCount: 1},
	}, slots)
	require.Empty(t, diff)
}

func TestBucketStatsWindowExcludesOldReadings(t *testing.T) {
	store := setupStore(t)
	agg := NewAggregator(store)
	ctx := context.Background()

	require.NoError(t, store.Ingest(ctx, reading("CoRec", at(30, 8, 0), 20, 200)))
	require.NoError(t, store.Ingest(ctx, reading("CoRec", at(1, 8, 0), 40, 200)))

	slots, err := agg.BucketStats(ctx, "CoRec", 7)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	require.EqualValues(t, 1, slots[0].SampleCount)
	require.InDelta(t, 20.0, *slots[0].AvgPercentage, 1e-9)
}

func TestBestAndWorstSlots(t *testing.T) {
	store := setupStore(t)
	agg := NewAggregator(store)
	ctx := context.Background()

	require.NoError(t, store.Ingest(ctx, reading("CoRec", at(1, 8, 0), 20, 200)))  // 10%
	require.NoError(t, store.Ingest(ctx, reading("CoRec", at(2, 12, 0), 90, 200))) // 45%
	require.NoError(t, store.Ingest(ctx, reading("CoRec", at(3, 18, 0), 160, 200))) // 80%
	// a bucket with no percentage at all sorts last both ways
	require.NoError(t, store.Ingest(ctx, recwell.Reading{
		Name:      "CoRec",
		Time:      at(4, 20, 0),
		Occupancy: intPtr(5),
	}))

	best, err := agg.BestSlots(ctx, "CoRec", 7, 10)
	require.NoError(t, err)
	require.Len(t, best, 4)
	require.InDelta(t, 10.0, *best[0].AvgPercentage, 1e-9)
	require.InDelta(t, 45.0, *best[1].AvgPercentage, 1e-9)
	require.InDelta(t, 80.0, *best[2].AvgPercentage, 1e-9)
	require.Nil(t, best[3].AvgPercentage)

	worst, err := agg.WorstSlots(ctx, "CoRec", 7, 10)
	require.NoError(t, err)
	require.Len(t, worst, 4)
	require.InDelta(t, 80.0, *worst[0].AvgPercentage, 1e-9)
	require.InDelta(t, 45.0, *worst[1].AvgPercentage, 1e-9)
	require.InDelta(t, 10.0, *worst[2].AvgPercentage, 1e-9)
	require.Nil(t, worst[3].AvgPercentage)

	top, err := agg.BestSlots(ctx, "CoRec", 7, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
}

func TestBestSlotsTiesKeepBucketOrder(t *testing.T) {
	store := setupStore(t)
	agg := NewAggregator(store)
	ctx := context.Background()

	// equal percentages on two different days, the earlier (day, time)
	// bucket must come first
	first := at(6, 8, 0)
	second := at(5, 9, 0)
	require.NoError(t, store.Ingest(ctx, reading("CoRec", first, 50, 200)))
	require.NoError(t, store.Ingest(ctx, reading("CoRec", second, 50, 200)))

	slots, err := agg.BucketStats(ctx, "CoRec", 7)
	require.NoError(t, err)
	require.Len(t, slots, 2)

	best, err := agg.BestSlots(ctx, "CoRec", 7, 2)
	require.NoError(t, err)
	diff := cmp.Diff(slots, best)
	require.Empty(t, diff)
}

func TestPatternsOnEmptyFacility(t *testing.T) {
	agg := NewAggregator(setupStore(t))
	ctx := context.Background()

	daily, err := agg.DailyPattern(ctx, "CoRec", 7)
	require.NoError(t, err)
	require.Empty(t, daily)

	hourly, err := agg.HourlyPattern(ctx, "CoRec", 7)
	require.NoError(t, err)
	require.Empty(t, hourly)

	slots, err := agg.BestSlots(ctx, "CoRec", 7, 5)
	require.NoError(t, err)
	require.Empty(t, slots)
}

func TestDailyPatternIsUnweighted(t *testing.T) {
	store := setupStore(t)
	agg := NewAggregator(store)
	ctx := context.Background()

	// one day: a 10% bucket with three samples and a 50% bucket with
	// one sample. the day mean is (10+50)/2, not weighted by samples.
	day := at(1, 0, 0)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Ingest(ctx, reading(
			"CoRec",
			time.Date(day.Year(), day.Month(), day.Day(), 8, 0, i, 0, timezone.Location),
			20, 200,
		)))
	}
	require.NoError(t, store.Ingest(ctx, reading("CoRec", at(1, 18, 0), 100, 200)))

	daily, err := agg.DailyPattern(ctx, "CoRec", 7)
	require.NoError(t, err)
	require.Len(t, daily, 1)
	require.InDelta(t, 30.0, daily[day.Weekday()], 1e-9)
}

func TestHourlyPatternTruncatesToHour(t *testing.T) {
	store := setupStore(t)
	agg := NewAggregator(store)
	ctx := context.Background()

	// two buckets inside hour 8 on different days plus one at hour 18
	require.NoError(t, store.Ingest(ctx, reading("CoRec", at(1, 8, 0), 20, 200)))  // 10%
	require.NoError(t, store.Ingest(ctx, reading("CoRec", at(2, 8, 30), 60, 200))) // 30%
	require.NoError(t, store.Ingest(ctx, reading("CoRec", at(3, 18, 0), 100, 200)))

	hourly, err := agg.HourlyPattern(ctx, "CoRec", 7)
	require.NoError(t, err)
	require.Len(t, hourly, 2)
	require.InDelta(t, 20.0, hourly[8], 1e-9)
	require.InDelta(t, 50.0, hourly[18], 1e-9)
}

func TestBestSlotEndToEnd(t *testing.T) {
	store := setupStore(t)
	agg := NewAggregator(store)
	ctx := context.Background()

	// 14 readings for one facility: two times of day across a week,
	// mornings quiet, evenings busy, with one morning quieter than the
	// rest
	for daysAgo := 0; daysAgo < 7; daysAgo++ {
		morning := int64(40 + daysAgo)
		if daysAgo == 3 {
			morning = 10
		}
		require.NoError(t, store.Ingest(ctx, reading("CoRec", at(daysAgo, 8, 0), morning, 200)))
		require.NoError(t, store.Ingest(ctx, reading("CoRec", at(daysAgo, 18, 0), 150+int64(daysAgo), 200)))
	}

	best, err := agg.BestSlots(ctx, "CoRec", 7, 1)
	require.NoError(t, err)
	require.Len(t, best, 1)
	require.Equal(t, "08:00", best[0].Time)
	require.Equal(t, at(3, 8, 0).Weekday(), best[0].Day)
	require.InDelta(t, 5.0, *best[0].AvgPercentage, 1e-9)
	require.EqualValues(t, 1, best[0].SampleCount)
}
