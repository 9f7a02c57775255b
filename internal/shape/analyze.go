package shape

import (
	"fmt"
	"math"
)

// Result is the outcome of a batch Analyze.
type Result struct {
	Candidates   []Candidate `json:"candidates"`
	Alternatives []Candidate `json:"alternatives"` // candidates that never validated
	KeyPoints    []KeyPoint  `json:"key_points"`   // index order
	Breakouts    []Breakout  `json:"breakouts"`
	Checkpoint   Checkpoint  `json:"checkpoint"`
}

// Analyze runs the whole pipeline over a finite series. Key points reach the
// state machine at the step that confirms them, so the result matches what a
// Detector fed the same samples reports.
func Analyze(series []float64, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for i, v := range series {
		if !finite(v) {
			return nil, fmt.Errorf("%w at index %d", ErrNonFinite, i)
		}
	}

	det := detect(0, series, cfg, true)
	res := &Result{
		Candidates:   det.candidates,
		Alternatives: det.alternatives,
		KeyPoints:    make([]KeyPoint, len(det.keys)),
	}
	copy(res.KeyPoints, det.keys)
	sortByIndex(res.KeyPoints)

	byConf := make(map[int][]KeyPoint)
	for _, kp := range det.keys {
		byConf[kp.Conf] = append(byConf[kp.Conf], kp)
	}

	m := NewMachine(cfg)
	keys := NewKeyIndex()
	for t := range series {
		fresh := byConf[t]
		for _, kp := range fresh {
			keys.Insert(kp)
		}
		sortByIndex(fresh)
		bs, err := m.Step(t, 0, series, nil, keys, fresh)
		if err != nil {
			return nil, err
		}
		res.Breakouts = append(res.Breakouts, bs...)
	}
	res.Checkpoint = m.Checkpoint(0)
	return res, nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
