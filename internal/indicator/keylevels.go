package indicator

import (
	"fmt"
	"time"

	"chartdesk/internal/model"
)

// LevelType is the calendar granularity of a key level.
type LevelType string

const (
	LevelDaily   LevelType = "daily"
	LevelWeekly  LevelType = "weekly"
	LevelMonthly LevelType = "monthly"
	LevelYearly  LevelType = "yearly"
)

// LevelSubtype names which OHLC field a key level was taken from.
type LevelSubtype string

const (
	SubtypeOpen  LevelSubtype = "open"
	SubtypeHigh  LevelSubtype = "high"
	SubtypeLow   LevelSubtype = "low"
	SubtypeClose LevelSubtype = "close"
)

// KeyLevel is one horizontal support/resistance line derived from calendar
// period aggregates.
type KeyLevel struct {
	Price   float64      `json:"price"`
	Label   string       `json:"label"`
	Type    LevelType    `json:"type"`
	Subtype LevelSubtype `json:"subtype"`
}

// KeyLevels derives calendar levels from the series: the current day's,
// week's, month's and year's open, plus the previous completed day's,
// week's and month's high/low/close (PDH/PDL/PDC and the weekly/monthly
// equivalents). Grouping is by UTC calendar day, ISO week (Monday start),
// calendar month and calendar year. A level is omitted when its granularity
// has too few groups: opens need at least one, previous-period levels need
// at least two.
//
// Gappy series (weekend closures, sparse history) are tolerated: a period is
// simply whatever bars fall inside it, and the "previous" period is the last
// completed group actually present, even if calendars would place a gap
// between it and the current one.
func KeyLevels(candles model.Series) []KeyLevel {
	if len(candles) == 0 {
		return nil
	}

	days := groupBy(candles, dayKey)
	weeks := groupBy(candles, weekKey)
	months := groupBy(candles, monthKey)
	years := groupBy(candles, yearKey)

	var out []KeyLevel
	out = appendPeriodLevels(out, days, LevelDaily, "D Open", "PD")
	out = appendPeriodLevels(out, weeks, LevelWeekly, "W Open", "PW")
	out = appendPeriodLevels(out, months, LevelMonthly, "M Open", "PM")

	// Yearly exposes only the current year's open.
	if len(years) >= 1 {
		out = append(out, KeyLevel{
			Price:   years[len(years)-1].open,
			Label:   "Y Open",
			Type:    LevelYearly,
			Subtype: SubtypeOpen,
		})
	}
	return out
}

// appendPeriodLevels emits the current group's open and the previous
// completed group's high/low/close for one granularity.
func appendPeriodLevels(out []KeyLevel, groups []periodAgg, typ LevelType, openLabel, prevPrefix string) []KeyLevel {
	if len(groups) >= 1 {
		out = append(out, KeyLevel{
			Price:   groups[len(groups)-1].open,
			Label:   openLabel,
			Type:    typ,
			Subtype: SubtypeOpen,
		})
	}
	if len(groups) >= 2 {
		prev := groups[len(groups)-2]
		out = append(out,
			KeyLevel{Price: prev.high, Label: prevPrefix + "H", Type: typ, Subtype: SubtypeHigh},
			KeyLevel{Price: prev.low, Label: prevPrefix + "L", Type: typ, Subtype: SubtypeLow},
			KeyLevel{Price: prev.close, Label: prevPrefix + "C", Type: typ, Subtype: SubtypeClose},
		)
	}
	return out
}

// periodAgg is one calendar group's OHLC aggregate.
type periodAgg struct {
	open, high, low, close float64
}

// groupBy folds consecutive candles sharing a calendar key into aggregates:
// open from the first bar, close from the last, high/low as extremes.
// Assumes the series is ascending, so groups come out in calendar order.
func groupBy(candles model.Series, key func(time.Time) string) []periodAgg {
	var out []periodAgg
	last := ""
	for i := range candles {
		c := &candles[i]
		k := key(time.Unix(c.Time, 0).UTC())
		if k != last {
			out = append(out, periodAgg{open: c.Open, high: c.High, low: c.Low, close: c.Close})
			last = k
			continue
		}
		g := &out[len(out)-1]
		if c.High > g.high {
			g.high = c.High
		}
		if c.Low < g.low {
			g.low = c.Low
		}
		g.close = c.Close
	}
	return out
}

func dayKey(t time.Time) string { return t.Format("2006-01-02") }

func weekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

func monthKey(t time.Time) string { return t.Format("2006-01") }

func yearKey(t time.Time) string { return t.Format("2006") }
