package models

import (
	"fmt"
	"strconv"
	"strings"
)

// SampleKind names a sampling algorithm.
type SampleKind string

const (
	SampleKindBernoulli SampleKind = "bernoulli"
	SampleKindSystem    SampleKind = "system"
)

// SampleType describes how a relation is sampled. A nil SampleType means the
// relation is read in full.
//
// Implementations are BernoulliSample (row-level) and SystemSample (block-level).
type SampleType interface {
	Kind() SampleKind
	// Probability is the percentage of rows (or blocks) kept, in [0, 100].
	Probability() float64
	isSampleType()
}

// BernoulliSample keeps each row independently with the given probability.
type BernoulliSample struct {
	probability float64
}

// SystemSample keeps each storage block independently with the given probability.
type SystemSample struct {
	probability float64
}

// NewBernoulliSample returns a Bernoulli sample. Probability is a percentage.
func NewBernoulliSample(probability float64) (BernoulliSample, error) {
	if err := validateProbability(probability); err != nil {
		return BernoulliSample{}, err
	}
	return BernoulliSample{probability: probability}, nil
}

// NewSystemSample returns a system (block) sample. Probability is a percentage.
func NewSystemSample(probability float64) (SystemSample, error) {
	if err := validateProbability(probability); err != nil {
		return SystemSample{}, err
	}
	return SystemSample{probability: probability}, nil
}

func (s BernoulliSample) Kind() SampleKind     { return SampleKindBernoulli }
func (s BernoulliSample) Probability() float64 { return s.probability }
func (BernoulliSample) isSampleType()          {}

func (s SystemSample) Kind() SampleKind     { return SampleKindSystem }
func (s SystemSample) Probability() float64 { return s.probability }
func (SystemSample) isSampleType()          {}

// ParseSampleType builds a SampleType from a configured method name.
// An empty method or "none" returns nil.
func ParseSampleType(method string, probability float64) (SampleType, error) {
	switch SampleKind(strings.ToLower(strings.TrimSpace(method))) {
	case "", "none":
		return nil, nil
	case SampleKindBernoulli:
		return NewBernoulliSample(probability)
	case SampleKindSystem:
		return NewSystemSample(probability)
	default:
		return nil, fmt.Errorf("unknown sample method %q", method)
	}
}

// FormatProbability renders a probability for embedding in SQL without
// trailing zeros ("10", "12.5").
func FormatProbability(s SampleType) string {
	return strconv.FormatFloat(s.Probability(), 'f', -1, 64)
}

// SampleKindsContain reports whether kinds includes k.
func SampleKindsContain(kinds []SampleKind, k SampleKind) bool {
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}

func validateProbability(p float64) error {
	if !(p >= 0 && p <= 100) {
		return fmt.Errorf("sample probability %v out of range [0, 100]", p)
	}
	return nil
}
