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

package models

// ApprovalFilter narrows an approval listing. Zero values mean "no filter";
// Limit 0 means the store default.
type ApprovalFilter struct {
	ExecutionID string
	RunbookID   string
	Limit       int
	Offset      int
}

// SimulationMetrics aggregates simulation outcomes over a window. The
// numbers come straight from persisted reports; there is no in-memory
// staging to double-count.
type SimulationMetrics struct {
	TotalSimulations  int     `json:"total_simulations"`
	PredictedSuccess  int     `json:"predicted_success"`
	PredictedPartial  int     `json:"predicted_partial"`
	PredictedFailure  int     `json:"predicted_failure"`
	AvgConfidence     float64 `json:"avg_confidence"`
	AvgRiskScore      float64 `json:"avg_risk_score"`
	HighRiskRunbooks  int     `json:"high_risk_runbooks"`
	TotalStepsScored  int     `json:"total_steps_scored"`
	WriteStepsScored  int     `json:"write_steps_scored"`
}
