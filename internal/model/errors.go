package model

import "errors"

var (
	ErrUnknownFeatureSchema = errors.New("feature table does not match model schema")
	ErrPrediction           = errors.New("prediction failed")
	ErrInvalidArtifact      = errors.New("invalid model artifact")
)
