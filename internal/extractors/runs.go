package extractors

import (
	"math"
	"regexp"
	"sort"
	"time"

	"github.com/miradorstack/mirador-aha/internal/models"
	"github.com/miradorstack/mirador-aha/internal/utils"
)

// SignalKind classifies why a run was flagged.
type SignalKind string

const (
	SignalError SignalKind = "error"
	SignalSlow  SignalKind = "slow"
)

// RunSignal is one noteworthy run within a trace.
type RunSignal struct {
	Index    int
	Run      models.Run
	Kind     SignalKind
	Duration time.Duration
	Score    float64
}

const (
	minSpreadRatio = 0.5
	minSpread      = 0.01
)

// RunExtractor flags failing runs and runs whose duration is an outlier
// (z-score at or above the threshold against the other runs of the trace).
type RunExtractor struct {
	threshold float64
}

// NewRunExtractor constructs a RunExtractor with default threshold (2.0).
func NewRunExtractor() *RunExtractor {
	return &RunExtractor{threshold: 2.0}
}

// Detect returns signals in run order. A failing run that is also slow is
// reported once, as an error.
func (e *RunExtractor) Detect(runs []models.Run) []RunSignal {
	if len(runs) == 0 {
		return nil
	}

	durations := make([]time.Duration, len(runs))
	timed := make([]float64, 0, len(runs))
	for i, run := range runs {
		if d, ok := RunDuration(run); ok {
			durations[i] = d
			timed = append(timed, d.Seconds())
		} else {
			durations[i] = -1
		}
	}

	signals := make([]RunSignal, 0)
	pos := 0
	for i, run := range runs {
		score := 0.0
		if durations[i] >= 0 {
			if len(timed) > 1 {
				score = e.score(timed, pos)
			}
			pos++
		}
		switch {
		case run.Error != nil:
			signals = append(signals, RunSignal{Index: i, Run: run, Kind: SignalError, Duration: durations[i], Score: score})
		case len(timed) > 1 && score >= e.threshold:
			signals = append(signals, RunSignal{Index: i, Run: run, Kind: SignalSlow, Duration: durations[i], Score: score})
		}
	}
	return signals
}

// score compares timed[k] against the remaining runs only, so a single
// outlier cannot inflate the spread it is measured against. The spread is
// floored at half the others' mean: a run must take at least twice as long
// as its peers before it can reach the default threshold.
func (e *RunExtractor) score(timed []float64, k int) float64 {
	others := make([]float64, 0, len(timed)-1)
	others = append(others, timed[:k]...)
	others = append(others, timed[k+1:]...)

	avg := mean(others)
	std := math.Max(stdDev(others, avg), math.Max(minSpreadRatio*avg, minSpread))
	return (timed[k] - avg) / std
}

// RunDuration returns end minus start when both timestamps parse.
func RunDuration(run models.Run) (time.Duration, bool) {
	if run.StartTime == nil || run.EndTime == nil {
		return 0, false
	}
	start, err := utils.ParseTimestamp(*run.StartTime)
	if err != nil {
		return 0, false
	}
	end, err := utils.ParseTimestamp(*run.EndTime)
	if err != nil || end.Before(start) {
		return 0, false
	}
	return end.Sub(start), true
}

var exceptionName = regexp.MustCompile(`^([A-Za-z_][\w.]*(?:Error|Exception|Timeout|Exit|Interrupt|Warning))\b`)

// ErrorSignatures returns the distinct exception names found at the start of
// run error texts, sorted.
func ErrorSignatures(runs []models.Run) []string {
	seen := make(map[string]struct{})
	for _, run := range runs {
		if run.Error == nil {
			continue
		}
		if m := exceptionName.FindStringSubmatch(*run.Error); m != nil {
			seen[m[1]] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for sig := range seen {
		out = append(out, sig)
	}
	sort.Strings(out)
	return out
}

func mean(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

func stdDev(values []float64, mean float64) float64 {
	sum := 0.0
	for _, v := range values {
		diff := v - mean
		sum += diff * diff
	}
	variance := sum / float64(len(values))
	return math.Sqrt(variance)
}
