package tracker

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"rectrack-backend/lib/timezone"

	"go.opentelemetry.io/otel/attribute"
)

// Slot is one (day-of-week, time-of-day) aggregation bucket.
// AvgPercentage is nil when no sample in the bucket carried a
// percentage.
type Slot struct {
	Day           time.Weekday
	Time          string // "HH:MM"
	AvgPercentage *float64
	AvgOccupancy  *float64
	SampleCount   int64
}

// Aggregator derives visit recommendations from stored readings.
// Nothing here is persisted, every query recomputes over the trailing
// window.
type Aggregator struct {
	store Store
}

func NewAggregator(store Store) Aggregator {
	return Aggregator{store: store}
}

// BucketStats groups the last daysBack days of readings by
// (day-of-week, "HH:MM") and computes per-bucket means. Buckets without
// samples are omitted. The result is ordered by day (Sunday first) then
// time of day.
func (a Aggregator) BucketStats(ctx context.Context, facility string, daysBack int) ([]Slot, error) {
	ctx, span := tracer.Start(ctx, "BucketStats")
	defer span.End()
	span.SetAttributes(
		attribute.String("facility", facility),
		attribute.Int("days_back", daysBack),
	)

	now := timezone.Now()
	readings, err := a.store.Query(ctx, facility, Window{
		Start: now.AddDate(0, 0, -daysBack),
	})
	if err != nil {
		return nil, err
	}

	type key struct {
		day time.Weekday
		tod string
	}
	type acc struct {
		pctSum float64
		pctN   int64
		occSum float64
		occN   int64
		count  int64
	}
	buckets := map[key]*acc{}

	for _, r := range readings {
		at := r.Time.In(timezone.Location)
		k := key{
			day: at.Weekday(),
			tod: fmt.Sprintf("%02d:%02d", at.Hour(), at.Minute()),
		}
		b := buckets[k]
		if b == nil {
			b = &acc{}
			buckets[k] = b
		}
		b.count++
		if r.Percentage != nil {
			b.pctSum += *r.Percentage
			b.pctN++
		}
		if r.Occupancy != nil {
			b.occSum += float64(*r.Occupancy)
			b.occN++
		}
	}

	slots := make([]Slot, 0, len(buckets))
	for k, b := range buckets {
		slot := Slot{
			Day:         k.day,
			Time:        k.tod,
			SampleCount: b.count,
		}
		if b.pctN > 0 {
			avg := b.pctSum / float64(b.pctN)
			slot.AvgPercentage = &avg
		}
		if b.occN > 0 {
			avg := b.occSum / float64(b.occN)
			slot.AvgOccupancy = &avg
		}
		slots = append(slots, slot)
	}
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].Day != slots[j].Day {
			return slots[i].Day < slots[j].Day
		}
		return slots[i].Time < slots[j].Time
	})
	return slots, nil
}

// BestSlots ranks every bucket by mean percentage ascending (emptiest
// first) and returns the first topN. A bucket without a percentage
// sorts last. Ties keep the (day, time) bucket order, the sort is
// stable.
func (a Aggregator) BestSlots(ctx context.Context, facility string, daysBack, topN int) ([]Slot, error) {
	slots, err := a.BucketStats(ctx, facility, daysBack)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(slots, func(i, j int) bool {
		return slotPercentage(slots[i], math.Inf(1)) < slotPercentage(slots[j], math.Inf(1))
	})
	return truncateSlots(slots, topN), nil
}

// WorstSlots is BestSlots in reverse: busiest buckets first, buckets
// without a percentage last.
func (a Aggregator) WorstSlots(ctx context.Context, facility string, daysBack, topN int) ([]Slot, error) {
	slots, err := a.BucketStats(ctx, facility, daysBack)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(slots, func(i, j int) bool {
		return slotPercentage(slots[i], 0) > slotPercentage(slots[j], 0)
	})
	return truncateSlots(slots, topN), nil
}

// DailyPattern averages each day's bucket means, unweighted by sample
// count: a bucket contributes one number no matter how many samples
// landed in it.
func (a Aggregator) DailyPattern(ctx context.Context, facility string, daysBack int) (map[time.Weekday]float64, error) {
	slots, err := a.BucketStats(ctx, facility, daysBack)
	if err != nil {
		return nil, err
	}

	sums := map[time.Weekday]float64{}
	counts := map[time.Weekday]int{}
	for _, slot := range slots {
		if slot.AvgPercentage == nil {
			continue
		}
		sums[slot.Day] += *slot.AvgPercentage
		counts[slot.Day]++
	}

	pattern := map[time.Weekday]float64{}
	for day, sum := range sums {
		pattern[day] = sum / float64(counts[day])
	}
	return pattern, nil
}

// HourlyPattern truncates every bucket to hour granularity across all
// days and averages the bucket means the same unweighted way.
func (a Aggregator) HourlyPattern(ctx context.Context, facility string, daysBack int) (map[int]float64, error) {
	slots, err := a.BucketStats(ctx, facility, daysBack)
	if err != nil {
		return nil, err
	}

	sums := map[int]float64{}
	counts := map[int]int{}
	for _, slot := range slots {
		if slot.AvgPercentage == nil {
			continue
		}
		hour, err := strconv.Atoi(slot.Time[:2])
		if err != nil {
			continue
		}
		sums[hour] += *slot.AvgPercentage
		counts[hour]++
	}

	pattern := map[int]float64{}
	for hour, sum := range sums {
		pattern[hour] = sum / float64(counts[hour])
	}
	return pattern, nil
}

func slotPercentage(slot Slot, missing float64) float64 {
	if slot.AvgPercentage == nil {
		return missing
	}
	return *slot.AvgPercentage
}

func truncateSlots(slots []Slot, topN int) []Slot {
	if topN >= 0 && len(slots) > topN {
		return slots[:topN]
	}
	return slots
}
