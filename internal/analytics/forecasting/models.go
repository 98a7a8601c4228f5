package forecasting

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/VividCortex/ewma"
)

// smoothingAge converts α into the ewma package's "average age" so that
// its decay 2/(age+1) equals SmoothingAlpha.
var smoothingAge = 2/SmoothingAlpha - 1

var errSeriesTooShort = errors.New("series too short for model")

// projection is a fitted model: a point predictor plus its confidence curve.
type projection struct {
	predict func(step int, date time.Time) float64
	base    float64
	decay   float64
}

// ForecastSeries projects days values past the last point of the series.
// It never fails: a series the model cannot handle gets the flat-mean
// fallback. The second result names the model actually used.
func ForecastSeries(points []DataPoint, model Model, days int) ([]ForecastResult, Model) {
	lastDay := truncateDay(time.Now().UTC())
	if len(points) > 0 {
		lastDay = truncateDay(points[len(points)-1].Date)
	}
	return forecastSeries(points, model, days, lastDay)
}

func forecastSeries(points []DataPoint, model Model, days int, lastDay time.Time) ([]ForecastResult, Model) {
	if days <= 0 {
		return nil, model
	}
	proj, used, err := estimate(points, model)
	if err == nil {
		if out, ok := project(proj, days, lastDay); ok {
			return out, used
		}
	}
	return fallback(values(points), days, lastDay), modelFallback
}

// estimate fits the model. Panics inside estimation are turned into errors
// so the caller can degrade to the fallback.
func estimate(points []DataPoint, model Model) (p projection, used Model, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("estimate %s: %v", model, r)
		}
	}()

	vals := values(points)
	n := len(vals)

	switch model {
	case ModelLinearRegression:
		if n < 2 {
			return p, model, errSeriesTooShort
		}
		slope, intercept := linearRegression(vals)
		r2 := rSquared(vals, slope, intercept)
		return projection{
			predict: func(step int, _ time.Time) float64 { return intercept + slope*float64(n+step) },
			base:    clamp(r2, LinearMinR2, LinearMaxR2),
			decay:   LinearDecay,
		}, model, nil

	case ModelMovingAverage:
		if n < MovingAverageWindow {
			return p, model, errSeriesTooShort
		}
		window := vals[n-MovingAverageWindow:]
		m := mean(window)
		cv := coefficientOfVariation(window)
		return projection{
			predict: func(int, time.Time) float64 { return m },
			base:    clamp(1/(1+cv), MovingAverageMin, MovingAverageMax),
			decay:   MovingAverageDecay,
		}, model, nil

	case ModelExponentialSmoothing:
		if n < 2 {
			return p, model, errSeriesTooShort
		}
		level, mae := smooth(vals)
		return projection{
			predict: func(int, time.Time) float64 { return level },
			base:    smoothingConfidence(mae, mean(vals)),
			decay:   SmoothingDecay,
		}, model, nil

	case ModelSeasonal:
		if n < SeasonalMinPoints {
			return estimate(points, ModelExponentialSmoothing)
		}
		pattern := WeeklyPattern(points)
		deseasonalized := make([]float64, 0, n)
		for _, pt := range points {
			f := pattern.Weekly[pt.Date.Weekday()]
			if f < 1e-9 {
				continue // weekday with no activity carries no level information
			}
			deseasonalized = append(deseasonalized, pt.Value/f)
		}
		if len(deseasonalized) < 2 {
			return p, model, errSeriesTooShort
		}
		level, mae := smooth(deseasonalized)
		return projection{
			predict: func(_ int, date time.Time) float64 { return level * pattern.Weekly[date.Weekday()] },
			base:    smoothingConfidence(mae, mean(deseasonalized)),
			decay:   SmoothingDecay,
		}, model, nil
	}
	return p, model, fmt.Errorf("%w: unknown model %q", ErrInvalidOptions, model)
}

// smooth runs single exponential smoothing seeded with the first value and
// returns the final level and the mean absolute one-step error.
func smooth(vals []float64) (level, mae float64) {
	avg := ewma.NewMovingAverage(smoothingAge)
	avg.Set(vals[0])
	errSum := 0.0
	for _, v := range vals[1:] {
		errSum += math.Abs(v - avg.Value())
		avg.Add(v)
	}
	return avg.Value(), errSum / float64(len(vals)-1)
}

func smoothingConfidence(mae, m float64) float64 {
	if math.Abs(m) < 1e-12 {
		if mae < 1e-12 {
			return SmoothingMax
		}
		return SmoothingMin
	}
	return clamp(1-mae/math.Abs(m), SmoothingMin, SmoothingMax)
}

// WeeklyPattern estimates one multiplicative factor per weekday relative to
// the overall mean. Weekdays without observations get a factor of 1.
func WeeklyPattern(points []DataPoint) SeasonalPattern {
	var sp SeasonalPattern
	var sums [7]float64
	var counts [7]int
	total := 0.0
	for _, pt := range points {
		wd := pt.Date.Weekday()
		sums[wd] += pt.Value
		counts[wd]++
		total += pt.Value
	}
	overall := 0.0
	if len(points) > 0 {
		overall = total / float64(len(points))
	}
	for wd := 0; wd < 7; wd++ {
		if counts[wd] == 0 || math.Abs(overall) < 1e-12 {
			sp.Weekly[wd] = 1
			continue
		}
		sp.Weekly[wd] = (sums[wd] / float64(counts[wd])) / overall
	}
	return sp
}

// project evaluates a fitted model. It reports false when any value is not
// finite so the caller can fall back.
func project(p projection, days int, lastDay time.Time) ([]ForecastResult, bool) {
	out := make([]ForecastResult, days)
	for s := 0; s < days; s++ {
		date := lastDay.AddDate(0, 0, s+1)
		pred := p.predict(s, date)
		conf := clamp(p.base*math.Exp(-p.decay*float64(s)), 0, 1)
		if !finite(pred) || !finite(conf) {
			return nil, false
		}
		spread := pred * (1 - conf) * SpreadFactor
		out[s] = floorResult(ForecastResult{
			Date:       date,
			Predicted:  pred,
			Confidence: conf,
			UpperBound: pred + spread,
			LowerBound: pred - spread,
		})
	}
	return out, true
}

// fallback is the flat-mean forecast with a fixed ±30% band.
func fallback(vals []float64, days int, lastDay time.Time) []ForecastResult {
	m := 0.0
	if len(vals) > 0 {
		m = safeFloat(mean(vals))
	}
	out := make([]ForecastResult, days)
	for s := 0; s < days; s++ {
		out[s] = floorResult(ForecastResult{
			Date:       lastDay.AddDate(0, 0, s+1),
			Predicted:  m,
			Confidence: FallbackConfidence * math.Exp(-FallbackDecay*float64(s)),
			UpperBound: m * (1 + FallbackBand),
			LowerBound: m * (1 - FallbackBand),
		})
	}
	return out
}

// floorResult clamps predictions and bounds at zero and keeps the bounds
// ordered.
func floorResult(r ForecastResult) ForecastResult {
	r.Predicted = math.Max(0, r.Predicted)
	r.UpperBound = math.Max(0, r.UpperBound)
	r.LowerBound = math.Max(0, r.LowerBound)
	if r.LowerBound > r.Predicted {
		r.LowerBound = r.Predicted
	}
	if r.UpperBound < r.Predicted {
		r.UpperBound = r.Predicted
	}
	return r
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
