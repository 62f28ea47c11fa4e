package service

import (
	"errors"
	"fmt"
)

var (
	ErrFeatureExtraction     = errors.New("feature extraction failed")
	ErrInvalidFeature        = errors.New("invalid feature value")
	ErrClassifierUnavailable = errors.New("classifier unavailable")
	ErrBatchTooLarge         = errors.New("batch too large")
)

// Reason codes reported in ScanResult.Reason for status "error".
const (
	ReasonFeatureExtraction     = "feature_extraction"
	ReasonInvalidFeatures       = "invalid_features"
	ReasonClassifierUnavailable = "classifier_unavailable"
	ReasonInternal              = "internal"
)

// ConfigLoadError reports a startup artifact (whitelist, model) that could not be used.
type ConfigLoadError struct {
	Component string
	Path      string
	Err       error
}

func (e *ConfigLoadError) Error() string {
	return fmt.Sprintf("load %s from %q: %v", e.Component, e.Path, e.Err)
}

func (e *ConfigLoadError) Unwrap() error { return e.Err }

func reasonFor(err error) string {
	switch {
	case errors.Is(err, ErrFeatureExtraction):
		return ReasonFeatureExtraction
	case errors.Is(err, ErrInvalidFeature):
		return ReasonInvalidFeatures
	case errors.Is(err, ErrClassifierUnavailable):
		return ReasonClassifierUnavailable
	default:
		return ReasonInternal
	}
}
