package main

import (
	"math"
	"math/rand"
	"sort"
	"strings"
	"time"
)

// normalizeAnswer uppercases an option-key string and sorts its characters,
// so "bd" and "DB" both become "BD". Correct options are stored unsorted,
// so both sides must be normalized before comparing.
func normalizeAnswer(s string) string {
	keys := strings.Split(strings.ToUpper(strings.TrimSpace(s)), "")
	sort.Strings(keys)
	return strings.Join(keys, "")
}

// checkAnswer reports whether a submitted option string matches the
// canonical correct option. Single-select requires an exact key match;
// multi-select compares the key sets regardless of order.
func checkAnswer(questionType, correctOption, submitted string) bool {
	if questionType == QuestionTypeMulti {
		return normalizeAnswer(submitted) == normalizeAnswer(correctOption)
	}
	return strings.ToUpper(strings.TrimSpace(submitted)) == strings.ToUpper(strings.TrimSpace(correctOption))
}

// scorePoints maps a correct/total ratio onto a paper's total score,
// rounded to the nearest point. A zero-question session scores 0.
func scorePoints(correct, total, totalScore int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(correct) / float64(total) * float64(totalScore)))
}

func correctRate(correct, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(correct) / float64(total)
}

// ratePercent is correctRate expressed as a whole percent (0..100).
func ratePercent(correct, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(correct) * 100.0 / float64(total)))
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Local().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}

// studyStreak counts consecutive calendar days (server-local) with at least
// one answer, walking back from the most recent answered day. The streak is
// kept alive when today has no answers yet: an anchor of yesterday still
// counts; anything older yields 0.
func studyStreak(answeredAt []time.Time, now time.Time) int {
	if len(answeredAt) == 0 {
		return 0
	}

	seen := map[time.Time]bool{}
	days := make([]time.Time, 0, len(answeredAt))
	for _, t := range answeredAt {
		d := dayOf(t)
		if !seen[d] {
			seen[d] = true
			days = append(days, d)
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i].After(days[j]) })

	today := dayOf(now)
	anchor := days[0]
	if anchor.Before(today.AddDate(0, 0, -1)) {
		return 0
	}

	streak := 1
	for i := 1; i < len(days); i++ {
		if days[i].Equal(days[i-1].AddDate(0, 0, -1)) {
			streak++
			continue
		}
		break
	}
	return streak
}

// drawN returns up to n ids in random order. A seed may be supplied for
// reproducibility; otherwise the draw is time-seeded.
func drawN(ids []uint, n int, seed *int64) []uint {
	var r *rand.Rand
	if seed != nil {
		r = rand.New(rand.NewSource(*seed))
	} else {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	out := append([]uint(nil), ids...)
	r.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	if n < len(out) {
		out = out[:n]
	}
	return out
}

// remainingSeconds clamps an exam countdown at zero; a zero duration means
// the session is untimed and always reports 0.
func remainingSeconds(startedAt time.Time, durationMin int, now time.Time) int {
	if durationMin <= 0 {
		return 0
	}
	left := durationMin*60 - int(now.Sub(startedAt).Seconds())
	if left < 0 {
		return 0
	}
	return left
}

// clampPage normalizes page/pageSize query values: page >= 1,
// 1 <= pageSize <= 100, defaulting to 20.
func clampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}
