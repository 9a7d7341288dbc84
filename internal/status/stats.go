package status

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/sweeney/opamp-chip/internal/amp"
)

// Stats summarizes the output voltage over a sample history.
type Stats struct {
	N      int
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
}

// Summarize computes Stats for the OUT values of history.
func Summarize(history []amp.Sample) Stats {
	if len(history) == 0 {
		return Stats{}
	}
	out := make([]float64, len(history))
	for i, s := range history {
		out[i] = s.Out
	}

	st := Stats{N: len(out), Min: floats.Min(out), Max: floats.Max(out)}
	if len(out) == 1 {
		st.Mean = out[0]
		return st
	}
	st.Mean, st.StdDev = stat.MeanStdDev(out, nil)
	return st
}
