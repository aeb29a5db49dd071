// Copyright © 2025 RunbookPilot Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package impact

import "math"

// Confidence factor weights. Parameter validation dominates: a step whose
// parameters did not resolve is suspect regardless of adapter health.
// When an optional factor (adapter health, upstream rule confidence) is
// unknown, its weight is redistributed proportionally across the factors
// that are present, keeping the score in [0,1] and deterministic.
const (
	weightValidation  = 0.40
	weightHealth      = 0.20
	weightRollback    = 0.15
	weightDetectforge = 0.25
)

// detectforgeConfidence maps upstream rule-confidence labels to values.
var detectforgeConfidence = map[string]float64{
	"low":    0.50,
	"medium": 0.75,
	"high":   0.95,
}

// ConfidenceInput carries the per-step scoring factors. Pointers mark the
// optional factors; nil means unknown.
type ConfidenceInput struct {
	// ParameterValidation is true when every template path resolved.
	ParameterValidation bool

	// AdapterHealth reports the executor's health probe, when available.
	AdapterHealth *bool

	// RollbackAvailable mirrors the impact assessment.
	RollbackAvailable bool

	// DetectforgeConfidence is the upstream rule confidence label
	// ("low"/"medium"/"high"), empty when the alert carries none.
	DetectforgeConfidence string
}

// StepConfidence computes one step's confidence score in [0,1].
func StepConfidence(in ConfidenceInput) float64 {
	type factor struct {
		weight float64
		value  float64
	}

	factors := []factor{
		{weightValidation, boolValue(in.ParameterValidation)},
		{weightRollback, boolValue(in.RollbackAvailable)},
	}
	if in.AdapterHealth != nil {
		factors = append(factors, factor{weightHealth, boolValue(*in.AdapterHealth)})
	}
	if v, ok := detectforgeConfidence[in.DetectforgeConfidence]; ok {
		factors = append(factors, factor{weightDetectforge, v})
	}

	var totalWeight, sum float64
	for _, f := range factors {
		totalWeight += f.weight
		sum += f.weight * f.value
	}
	if totalWeight == 0 {
		return 0
	}
	return round2(sum / totalWeight)
}

// AggregateConfidence folds per-step confidences into the report figure:
// the mean, clamped to [0,1], rounded to two decimals. An empty slice
// scores zero.
func AggregateConfidence(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	mean := sum / float64(len(scores))
	if mean < 0 {
		mean = 0
	}
	if mean > 1 {
		mean = 1
	}
	return round2(mean)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
