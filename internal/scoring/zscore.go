package scoring

import (
	"context"
	"math"

	"TrafficLens/internal/model"
)

// DefaultZThreshold is the |z| above which a dimension is considered anomalous.
const DefaultZThreshold = 3.0

// ZScoreScorer labels a vector anomalous when any of its dimensions lies more
// than Threshold standard deviations from the batch mean.
type ZScoreScorer struct {
	Threshold float64
}

// NewZScoreScorer creates a scorer; threshold <= 0 selects DefaultZThreshold.
func NewZScoreScorer(threshold float64) *ZScoreScorer {
	if threshold <= 0 {
		threshold = DefaultZThreshold
	}
	return &ZScoreScorer{Threshold: threshold}
}

// Score implements model.Scorer.
func (s *ZScoreScorer) Score(ctx context.Context, vectors []model.FeatureVector) ([]model.Label, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows := make([][]float64, len(vectors))
	for i, v := range vectors {
		rows[i] = v.Values()
	}
	return s.ScoreValues(rows), nil
}

// ScoreValues labels raw numeric rows. Rows may have different lengths;
// missing dimensions are skipped.
func (s *ZScoreScorer) ScoreValues(rows [][]float64) []model.Label {
	labels := make([]model.Label, len(rows))
	for i := range labels {
		labels[i] = model.LabelNormal
	}
	if len(rows) < 2 {
		return labels
	}

	dims := 0
	for _, r := range rows {
		dims = max(dims, len(r))
	}

	for d := 0; d < dims; d++ {
		var sum, sumSq float64
		n := 0
		for _, r := range rows {
			if d < len(r) {
				sum += r[d]
				n++
			}
		}
		if n < 2 {
			continue
		}
		mean := sum / float64(n)
		for _, r := range rows {
			if d < len(r) {
				diff := r[d] - mean
				sumSq += diff * diff
			}
		}
		std := math.Sqrt(sumSq / float64(n))
		if std == 0 {
			continue
		}
		for i, r := range rows {
			if d < len(r) && math.Abs(r[d]-mean)/std > s.Threshold {
				labels[i] = model.LabelAnomalous
			}
		}
	}
	return labels
}
