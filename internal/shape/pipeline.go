package shape

import "sort"

// detection is the output of smoothing, scanning and validation over one
// retained stretch of raw samples.
type detection struct {
	candidates   []Candidate
	keys         []KeyPoint // confirmation order
	alternatives []Candidate
}

// detect runs the pipeline up to key point confirmation. raw[0] sits at
// virtual index base. A raw index keeps the first candidate that validates
// there, so MAX and MIN never share an index.
func detect(base int, raw []float64, cfg Config, withAlternatives bool) detection {
	sm := NewSmoother(cfg).Apply(base, raw)
	cands := Scan(sm, cfg)
	val := NewValidator(cfg)

	det := detection{candidates: cands}
	taken := make(map[int]struct{})
	type ck struct {
		index int
		kind  Kind
	}
	validated := make(map[ck]struct{})
	var rejected []Candidate

	for _, c := range cands {
		kp, ok := val.Confirm(base, raw, c)
		if !ok {
			if withAlternatives {
				rejected = append(rejected, c)
			}
			continue
		}
		validated[ck{c.Index, c.Kind}] = struct{}{}
		if _, dup := taken[kp.Index]; dup {
			continue
		}
		taken[kp.Index] = struct{}{}
		det.keys = append(det.keys, kp)
	}

	if withAlternatives {
		seen := make(map[ck]struct{})
		for _, c := range rejected {
			k := ck{c.Index, c.Kind}
			if _, ok := validated[k]; ok {
				continue
			}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			det.alternatives = append(det.alternatives, c)
		}
	}
	return det
}

func sortByIndex(kps []KeyPoint) {
	sort.Slice(kps, func(i, j int) bool { return kps[i].Index < kps[j].Index })
}
