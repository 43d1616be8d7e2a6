package model

import (
	"context"
	"errors"
)

// ErrScoringUnavailable reports that the outlier scoring capability could not
// be reached. It degrades the statistical detector; it is not a failure.
var ErrScoringUnavailable = errors.New("outlier scoring unavailable")

// Label is the verdict a Scorer assigns to one feature vector.
type Label string

const (
	LabelNormal    Label = "normal"
	LabelAnomalous Label = "anomalous"
)

// FeatureVector is the numeric input of the statistical detector.
type FeatureVector struct {
	Size      float64
	Protocol  float64
	Timestamp float64 // unix seconds
}

// Values returns the vector as an ordered slice.
func (v FeatureVector) Values() []float64 {
	return []float64{v.Size, v.Protocol, v.Timestamp}
}

// Scorer classifies feature vectors as normal or anomalous.
// Implementations return exactly one label per input vector.
type Scorer interface {
	Score(ctx context.Context, vectors []FeatureVector) ([]Label, error)
}
