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

package enum

import (
	"encoding/json"
	"fmt"
)

// The engine's enums serialise as their lifecycle strings, never as ints:
// snapshots, database rows, and API payloads all carry the same words the
// state CHECK constraints expect.

func marshalString(s fmt.Stringer) ([]byte, error) {
	return json.Marshal(s.String())
}

func unmarshalString(data []byte) (string, error) {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return "", err
	}
	return s, nil
}

// MarshalJSON encodes the state as its lifecycle string.
func (s ExecutionState) MarshalJSON() ([]byte, error) { return marshalString(s) }

// UnmarshalJSON decodes a lifecycle string back into the state.
func (s *ExecutionState) UnmarshalJSON(data []byte) error {
	str, err := unmarshalString(data)
	if err != nil {
		return err
	}
	v, ok := ParseExecutionState(str)
	if !ok {
		return fmt.Errorf("unknown execution state %q", str)
	}
	*s = v
	return nil
}

// MarshalJSON encodes the mode as its string form.
func (m ExecutionMode) MarshalJSON() ([]byte, error) { return marshalString(m) }

// UnmarshalJSON decodes a mode string.
func (m *ExecutionMode) UnmarshalJSON(data []byte) error {
	str, err := unmarshalString(data)
	if err != nil {
		return err
	}
	v, ok := ParseExecutionMode(str)
	if !ok {
		return fmt.Errorf("unknown execution mode %q", str)
	}
	*m = v
	return nil
}

// MarshalJSON encodes the level as "L0"/"L1"/"L2".
func (l AutomationLevel) MarshalJSON() ([]byte, error) { return marshalString(l) }

// UnmarshalJSON decodes an automation level string.
func (l *AutomationLevel) UnmarshalJSON(data []byte) error {
	str, err := unmarshalString(data)
	if err != nil {
		return err
	}
	v, ok := ParseAutomationLevel(str)
	if !ok {
		return fmt.Errorf("unknown automation level %q", str)
	}
	*l = v
	return nil
}

// MarshalJSON encodes the policy as its on_error string.
func (p OnErrorPolicy) MarshalJSON() ([]byte, error) { return marshalString(p) }

// UnmarshalJSON decodes an on_error string.
func (p *OnErrorPolicy) UnmarshalJSON(data []byte) error {
	str, err := unmarshalString(data)
	if err != nil {
		return err
	}
	v, ok := ParseOnErrorPolicy(str)
	if !ok {
		return fmt.Errorf("unknown on_error policy %q", str)
	}
	*p = v
	return nil
}

// MarshalJSON encodes the status as its lifecycle string.
func (a ApprovalStatus) MarshalJSON() ([]byte, error) { return marshalString(a) }

// UnmarshalJSON decodes an approval status string.
func (a *ApprovalStatus) UnmarshalJSON(data []byte) error {
	str, err := unmarshalString(data)
	if err != nil {
		return err
	}
	v, ok := ParseApprovalStatus(str)
	if !ok {
		return fmt.Errorf("unknown approval status %q", str)
	}
	*a = v
	return nil
}

// MarshalJSON encodes the risk level as its label.
func (r RiskLevel) MarshalJSON() ([]byte, error) { return marshalString(r) }

// UnmarshalJSON decodes a risk level label.
func (r *RiskLevel) UnmarshalJSON(data []byte) error {
	str, err := unmarshalString(data)
	if err != nil {
		return err
	}
	for i, v := range riskLevelStrings {
		if v == str {
			*r = RiskLevel(i)
			return nil
		}
	}
	return fmt.Errorf("unknown risk level %q", str)
}

// MarshalJSON encodes the outcome as SUCCESS/PARTIAL/FAILURE.
func (o PredictedOutcome) MarshalJSON() ([]byte, error) { return marshalString(o) }

// UnmarshalJSON decodes a predicted outcome string.
func (o *PredictedOutcome) UnmarshalJSON(data []byte) error {
	str, err := unmarshalString(data)
	if err != nil {
		return err
	}
	for i, v := range predictedOutcomeStrings {
		if v == str {
			*o = PredictedOutcome(i)
			return nil
		}
	}
	return fmt.Errorf("unknown predicted outcome %q", str)
}

// MarshalJSON encodes the kind as "read"/"write".
func (k ActionKind) MarshalJSON() ([]byte, error) { return marshalString(k) }

// UnmarshalJSON decodes an action kind string.
func (k *ActionKind) UnmarshalJSON(data []byte) error {
	str, err := unmarshalString(data)
	if err != nil {
		return err
	}
	for i, v := range actionKindStrings {
		if v == str {
			*k = ActionKind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown action kind %q", str)
}
