// Package agg normalizes raw candle sequences: deduplicating and merging
// multi-batch historical fetches, and re-bucketing a series into coarser
// periods by position.
package agg

import (
	"sort"

	"chartdesk/internal/model"
)

// Aggregate groups the series into consecutive, non-overlapping chunks of
// `period` source bars. Chunking is positional, not calendar-aligned: the
// source granularity is assumed uniform, so position maps directly onto
// time. Each output bar takes the first bar's open and time, the last bar's
// close, the extreme high/low and the summed volume. A trailing partial
// chunk is emitted as a final shorter bar so no data is dropped; the result
// always has ceil(n/period) bars. period <= 1 returns the input unchanged.
func Aggregate(candles model.Series, period int) model.Series {
	if period <= 1 || len(candles) == 0 {
		return candles
	}

	out := make(model.Series, 0, (len(candles)+period-1)/period)
	for start := 0; start < len(candles); start += period {
		end := start + period
		if end > len(candles) {
			end = len(candles)
		}

		bar := candles[start]
		for i := start + 1; i < end; i++ {
			c := &candles[i]
			if c.High > bar.High {
				bar.High = c.High
			}
			if c.Low < bar.Low {
				bar.Low = c.Low
			}
			bar.Volume += c.Volume
		}
		bar.Close = candles[end-1].Close
		out = append(out, bar)
	}
	return out
}

// Merge combines candle batches into one deduplicated, time-sorted series.
// When batches share a timestamp the first occurrence encountered wins, so
// callers put the authoritative batch first. Used when stitching incremental
// historical backfills onto a held series.
func Merge(batches ...model.Series) model.Series {
	total := 0
	for _, b := range batches {
		total += len(b)
	}
	if total == 0 {
		return nil
	}

	seen := make(map[int64]struct{}, total)
	out := make(model.Series, 0, total)
	for _, b := range batches {
		for _, c := range b {
			if _, dup := seen[c.Time]; dup {
				continue
			}
			seen[c.Time] = struct{}{}
			out = append(out, c)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}

// OlderThan returns the candles strictly before the cutoff timestamp that
// are not already present in the known timestamp set. FetchOlder uses this
// to hand back only genuinely new history.
func OlderThan(batch model.Series, cutoff int64, known map[int64]struct{}) model.Series {
	var out model.Series
	for _, c := range batch {
		if c.Time >= cutoff {
			continue
		}
		if _, dup := known[c.Time]; dup {
			continue
		}
		out = append(out, c)
	}
	return out
}
