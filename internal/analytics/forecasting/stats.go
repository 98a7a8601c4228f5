package forecasting

import "math"

// linearRegression returns (slope, intercept) via least-squares over the
// value index.
func linearRegression(vals []float64) (slope, intercept float64) {
	n := float64(len(vals))
	if n < 2 {
		if n == 1 {
			return 0, vals[0]
		}
		return 0, 0
	}
	sumX, sumY, sumXY, sumX2 := 0.0, 0.0, 0.0, 0.0
	for i, v := range vals {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumX2 += x * x
	}
	denom := n*sumX2 - sumX*sumX
	if math.Abs(denom) < 1e-12 {
		return 0, sumY / n
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return
}

// rSquared returns the coefficient of determination for the linear fit.
// A flat series is a perfect fit.
func rSquared(vals []float64, slope, intercept float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	m := mean(vals)
	ssTot, ssRes := 0.0, 0.0
	for i, v := range vals {
		pred := intercept + slope*float64(i)
		ssRes += (v - pred) * (v - pred)
		ssTot += (v - m) * (v - m)
	}
	if ssTot < 1e-12 {
		return 1.0
	}
	r2 := 1.0 - ssRes/ssTot
	if r2 < 0 {
		return 0
	}
	return r2
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// stdDev returns the sample standard deviation.
func stdDev(vals []float64) float64 {
	n := float64(len(vals))
	if n < 2 {
		return 0
	}
	m := mean(vals)
	variance := 0.0
	for _, v := range vals {
		d := v - m
		variance += d * d
	}
	return math.Sqrt(variance / (n - 1))
}

// coefficientOfVariation is stdDev/|mean|; zero for a zero mean.
func coefficientOfVariation(vals []float64) float64 {
	m := mean(vals)
	if math.Abs(m) < 1e-12 {
		return 0
	}
	return stdDev(vals) / math.Abs(m)
}

func clamp(v, lo, hi float64) float64 {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	default:
		return v
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// safeFloat returns 0 if v is NaN or Inf, otherwise returns v.
func safeFloat(v float64) float64 {
	if !finite(v) {
		return 0
	}
	return v
}

func values(points []DataPoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Value
	}
	return out
}
