// Package flow aggregates handoff collections into pipeline-health metrics.
// Everything here is a pure function over in-memory records: no I/O, no side
// effects, and a well-defined zero result for empty input.
package flow

import (
	"sort"
	"time"

	"github.com/AbdouB/recall/internal/models"
)

// DefaultBlockedThresholdDays is the staleness alert cutoff
const DefaultBlockedThresholdDays = 3

// BlockedAlert identifies a handoff stuck in blocked past the threshold
type BlockedAlert struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	DaysBlocked int    `json:"days_blocked"`
}

// Stats summarizes the flow health of a handoff collection
type Stats struct {
	Total                int                   `json:"total"`
	CompletedCount       int                   `json:"completed_count"`
	ActiveCount          int                   `json:"active_count"`
	BlockedCount         int                   `json:"blocked_count"`
	ByStatus             map[models.Status]int `json:"by_status"`
	ByPhase              map[models.Phase]int  `json:"by_phase"`
	AvgCycleDays         float64               `json:"avg_cycle_days"`
	AvgAgeDays           float64               `json:"avg_age_days"`
	CompletionRate       float64               `json:"completion_rate"`
	BlockedOverThreshold []BlockedAlert        `json:"blocked_over_threshold"`
}

// Compute aggregates handoffs into flow statistics. thresholdDays gates the
// blocked alert list; a non-positive value uses the default.
func Compute(handoffs []*models.Handoff, now time.Time, thresholdDays int) Stats {
	if thresholdDays <= 0 {
		thresholdDays = DefaultBlockedThresholdDays
	}
	stats := Stats{
		ByStatus: make(map[models.Status]int),
		ByPhase:  make(map[models.Phase]int),
	}

	var cycleSum float64
	var cycleCount int
	var ageSum float64

	for _, h := range handoffs {
		stats.Total++
		stats.ByStatus[h.Status]++
		ageSum += h.AgeDays(now)

		if h.Status == models.StatusCompleted {
			stats.CompletedCount++
			// Negative cycles mean clock skew or hand-edited data; drop them
			// rather than poison the average.
			if days := h.CycleDays(); days >= 0 {
				cycleSum += float64(days)
				cycleCount++
			}
			continue
		}

		// Phase is only meaningful while work is still moving.
		stats.ByPhase[h.Phase]++

		if h.Status == models.StatusBlocked {
			stats.BlockedCount++
			if days := int(h.DaysSinceUpdate(now)); days > thresholdDays {
				stats.BlockedOverThreshold = append(stats.BlockedOverThreshold, BlockedAlert{
					ID:          h.ID,
					Title:       h.Title,
					DaysBlocked: days,
				})
			}
		}
	}

	stats.ActiveCount = stats.Total - stats.CompletedCount
	if cycleCount > 0 {
		stats.AvgCycleDays = cycleSum / float64(cycleCount)
	}
	if stats.Total > 0 {
		stats.AvgAgeDays = ageSum / float64(stats.Total)
		stats.CompletionRate = float64(stats.CompletedCount) / float64(stats.Total)
	}

	// Most overdue first; ties keep id order for stable output.
	sort.SliceStable(stats.BlockedOverThreshold, func(i, j int) bool {
		a, b := stats.BlockedOverThreshold[i], stats.BlockedOverThreshold[j]
		if a.DaysBlocked != b.DaysBlocked {
			return a.DaysBlocked > b.DaysBlocked
		}
		return a.ID < b.ID
	})

	return stats
}

// LessonStats partitions a lesson collection by level
type LessonStats struct {
	Total   int                  `json:"total"`
	ByLevel map[models.Level]int `json:"by_level"`
}

// LessonCounts reports lesson totals per level
func LessonCounts(lessons []*models.Lesson) LessonStats {
	stats := LessonStats{ByLevel: make(map[models.Level]int)}
	for _, l := range lessons {
		stats.Total++
		stats.ByLevel[l.Level]++
	}
	return stats
}
