// Package dataset turns raw observation rows into regularized training
// frames: fixed interval, no gaps, no duplicate timestamps, outliers clipped.
package dataset

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/opspulse/opspulse/internal/models"
)

// rolling median window for outlier clipping, kept odd
const clipWindow = 13

type Preparer struct {
	interval  time.Duration
	minPoints int
	clipSigma float64
}

func New(interval time.Duration, minPoints int, clipSigma float64) *Preparer {
	return &Preparer{
		interval:  interval,
		minPoints: minPoints,
		clipSigma: clipSigma,
	}
}

// Prepare builds a training frame from raw observations of one (vm, metric)
// pair. Observations outside [since, until] are dropped, multiple points per
// interval bucket are averaged, interior gaps are filled by linear
// interpolation between the nearest real neighbours, and values beyond
// clipSigma standard deviations from the rolling median are clipped to that
// band. The frame spans the first to the last observed bucket, so missing
// runs at either edge are dropped rather than extrapolated.
func (p *Preparer) Prepare(obs []models.Observation, since, until time.Time) (models.Frame, error) {
	if len(obs) == 0 {
		return models.Frame{}, models.Errf(models.KindInsufficientData, "no observations supplied")
	}

	frame := models.Frame{
		VM:       obs[0].VM,
		Metric:   obs[0].Metric,
		Interval: p.interval,
	}

	buckets := make(map[int64]*bucket)
	for _, o := range obs {
		if o.Timestamp.Before(since) || o.Timestamp.After(until) {
			continue
		}
		key := o.Timestamp.UTC().Truncate(p.interval).UnixNano()
		b := buckets[key]
		if b == nil {
			b = &bucket{}
			buckets[key] = b
		}
		b.sum += o.Value
		b.count++
	}
	if len(buckets) == 0 {
		return models.Frame{}, models.Errf(models.KindInsufficientData,
			"no observations in [%s, %s]", since.Format(time.RFC3339), until.Format(time.RFC3339))
	}

	keys := make([]int64, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	// Bucket arithmetic in nanoseconds so sub-second and non-whole-second
	// intervals index correctly.
	step := p.interval.Nanoseconds()
	first, last := keys[0], keys[len(keys)-1]
	n := int((last-first)/step) + 1

	values := make([]float64, n)
	present := make([]bool, n)
	for _, k := range keys {
		i := int((k - first) / step)
		b := buckets[k]
		values[i] = b.sum / float64(b.count)
		present[i] = true
	}

	interpolateGaps(values, present)
	p.clipOutliers(values)

	if n < p.minPoints {
		return models.Frame{}, models.Errf(models.KindInsufficientData,
			"%d points after preparation, need at least %d", n, p.minPoints)
	}

	frame.Points = make([]models.FramePoint, n)
	for i := range values {
		frame.Points[i] = models.FramePoint{
			Timestamp: time.Unix(0, first+int64(i)*step).UTC(),
			Value:     values[i],
		}
	}
	return frame, nil
}

type bucket struct {
	sum   float64
	count int
}

// interpolateGaps fills missing interior buckets linearly between the nearest
// real neighbours. The first and last entries are always present because the
// series spans observed buckets only.
func interpolateGaps(values []float64, present []bool) {
	prev := 0
	for i := 1; i < len(values); i++ {
		if !present[i] {
			continue
		}
		if i > prev+1 {
			span := float64(i - prev)
			for j := prev + 1; j < i; j++ {
				frac := float64(j-prev) / span
				values[j] = values[prev] + frac*(values[i]-values[prev])
			}
		}
		prev = i
	}
}

// clipOutliers clamps values beyond clipSigma standard deviations from the
// rolling median. Clipping, not removal: the trainer needs the point count
// and interval regularity intact.
func (p *Preparer) clipOutliers(values []float64) {
	n := len(values)
	if n < 3 {
		return
	}

	medians := rollingMedian(values, clipWindow)

	deviations := make([]float64, n)
	for i := range values {
		deviations[i] = values[i] - medians[i]
	}
	sigma := stat.StdDev(deviations, nil)
	if sigma == 0 {
		return
	}

	limit := p.clipSigma * sigma
	for i := range values {
		if values[i] > medians[i]+limit {
			values[i] = medians[i] + limit
		} else if values[i] < medians[i]-limit {
			values[i] = medians[i] - limit
		}
	}
}

func rollingMedian(values []float64, window int) []float64 {
	n := len(values)
	half := window / 2
	medians := make([]float64, n)
	buf := make([]float64, 0, window)

	for i := range values {
		lo := i - half
		if lo < 0 {
			lo = 0
		}
		hi := i + half + 1
		if hi > n {
			hi = n
		}
		buf = append(buf[:0], values[lo:hi]...)
		sort.Float64s(buf)
		m := len(buf)
		if m%2 == 1 {
			medians[i] = buf[m/2]
		} else {
			medians[i] = (buf[m/2-1] + buf[m/2]) / 2
		}
	}
	return medians
}
