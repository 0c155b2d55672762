// Relaymap - Tor Relay Network Statistics and Aggregation
// Copyright 2026 Relaymap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymap/relaymap

// Package stats provides stateless statistical functions over numeric
// sequences: interpolated percentiles, percentile ranks, basic summary
// statistics, outlier classification, and the Gini inequality coefficient.
//
// All functions are pure and never mutate their input; sequences are copied
// before sorting where needed.
package stats

import (
	"math"
	"sort"
	"strconv"
)

// Summary holds the basic statistics of a numeric sequence.
type Summary struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"std_dev"`
	Var    float64 `json:"variance"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Count  int     `json:"count"`
}

// Percentile returns the p-th percentile of values using linear
// interpolation between closest ranks. It returns 0 for an empty sequence
// and the single element for a one-element sequence.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return percentileSorted(sortedCopy(values), p)
}

// Percentiles computes multiple percentiles in one call, sorting only once.
// Keys are labeled "p25", "p99.9" etc. for the requested percentiles.
func Percentiles(values []float64, ps []float64) map[string]float64 {
	out := make(map[string]float64, len(ps))
	if len(values) == 0 {
		for _, p := range ps {
			out[percentileLabel(p)] = 0
		}
		return out
	}

	sorted := sortedCopy(values)
	for _, p := range ps {
		out[percentileLabel(p)] = percentileSorted(sorted, p)
	}
	return out
}

// percentileSorted is Percentile over an already-sorted sequence.
func percentileSorted(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}

	rank := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	frac := rank - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

func percentileLabel(p float64) string {
	return "p" + strconv.FormatFloat(p, 'f', -1, 64)
}

// PercentileRank places value within the sorted reference sequence as the
// percentage of reference values strictly below it, as an integer.
//
// The result is clamped to [1, 99] for a non-empty reference: a rank of
// exactly 0 or 100 is never reported, since it would imply certainty at the
// open boundary. An empty reference or a zero value yields 0.
func PercentileRank(value float64, sortedRef []float64) int {
	if len(sortedRef) == 0 || value == 0 {
		return 0
	}

	below := sort.SearchFloat64s(sortedRef, value)
	rank := int(math.Round(float64(below) / float64(len(sortedRef)) * 100))

	if rank < 1 {
		rank = 1
	}
	if rank > 99 {
		rank = 99
	}
	return rank
}

// BasicStats computes the summary statistics of values. It returns nil for
// an empty sequence. Standard deviation and variance are 0 for a
// single-element sequence (population variance, no sample correction).
func BasicStats(values []float64) *Summary {
	if len(values) == 0 {
		return nil
	}

	sorted := sortedCopy(values)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(len(sorted))

	variance := 0.0
	if len(sorted) > 1 {
		var sq float64
		for _, v := range sorted {
			d := v - mean
			sq += d * d
		}
		variance = sq / float64(len(sorted))
	}

	return &Summary{
		Mean:   mean,
		Median: percentileSorted(sorted, 50),
		StdDev: math.Sqrt(variance),
		Var:    variance,
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Count:  len(sorted),
	}
}

// Outliers classifies values lying beyond mean ± threshold·stddev, returning
// the indexes of low and high outliers within the input sequence.
//
// Fewer than 3 values yields two empty sets, not an error: a standard
// deviation from fewer than 3 points is not meaningful here. Zero variance
// yields two empty sets as well.
func Outliers(values []float64, thresholdStdDevs float64) (low, high []int) {
	low, high = []int{}, []int{}
	if len(values) < 3 {
		return low, high
	}

	summary := BasicStats(values)
	if summary.StdDev == 0 {
		return low, high
	}

	lowCut := summary.Mean - thresholdStdDevs*summary.StdDev
	highCut := summary.Mean + thresholdStdDevs*summary.StdDev

	for i, v := range values {
		switch {
		case v < lowCut:
			low = append(low, i)
		case v > highCut:
			high = append(high, i)
		}
	}
	return low, high
}

// Gini computes the discrete Gini coefficient of a sequence that must be
// sorted in ascending order. It returns 0 for fewer than 2 values or a
// zero total.
//
// Formula: sum((2i - n - 1) * x_i) / (n * sum(x)), i = 1..n.
func Gini(sortedAscending []float64) float64 {
	n := len(sortedAscending)
	if n < 2 {
		return 0
	}

	var total float64
	for _, v := range sortedAscending {
		total += v
	}
	if total == 0 {
		return 0
	}

	var weighted float64
	for i, v := range sortedAscending {
		weighted += float64(2*(i+1)-n-1) * v
	}
	return weighted / (float64(n) * total)
}

func sortedCopy(values []float64) []float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return sorted
}
