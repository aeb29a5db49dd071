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

// Package impact classifies actions, scores their blast radius, and
// computes the confidence figures that feed L2 simulation reports. All of
// it is deterministic table lookup: same step, same assessment, every run.
package impact

import "github.com/sim-security/runbookpilot/internal/common/types/enum"

// readActions are the query-only action names the engine knows about.
var readActions = map[string]struct{}{
	"query_siem":        {},
	"search_logs":       {},
	"enrich_ioc":        {},
	"check_reputation":  {},
	"get_host_info":     {},
	"get_user_info":     {},
	"get_file_hash":     {},
	"get_process_tree":  {},
	"list_processes":    {},
	"list_connections":  {},
	"get_alert_details": {},
	"collect_logs":      {},
	"collect_triage":    {},
}

// writeActions map each known mutating action to its base impact score.
// Scores are 2-9; reads are always 1.
var writeActions = map[string]int{
	"create_ticket":        2,
	"update_ticket":        2,
	"send_notification":    2,
	"add_comment":          2,
	"add_to_watchlist":     3,
	"remove_from_watchlist": 3,
	"snapshot_host":        3,
	"tag_asset":            3,
	"kill_process":         5,
	"quarantine_file":      5,
	"unquarantine_file":    4,
	"block_domain":         6,
	"unblock_domain":       4,
	"block_ip":             6,
	"unblock_ip":           4,
	"revoke_sessions":      6,
	"reset_password":       6,
	"unisolate_host":       5,
	"disable_account":      7,
	"enable_account":       5,
	"update_firewall_rule": 7,
	"isolate_host":         8,
	"delete_file":          9,
	"run_script":           9,
	"wipe_host":            9,
}

// rollbackPairs maps each reversible write action to its compensating
// action. It is a plain lookup table; reversibility here means "a known
// inverse exists", independent of whether a step declares a rollback.
var rollbackPairs = map[string]string{
	"isolate_host":      "unisolate_host",
	"unisolate_host":    "isolate_host",
	"block_ip":          "unblock_ip",
	"unblock_ip":        "block_ip",
	"block_domain":      "unblock_domain",
	"unblock_domain":    "block_domain",
	"disable_account":   "enable_account",
	"enable_account":    "disable_account",
	"quarantine_file":   "unquarantine_file",
	"unquarantine_file": "quarantine_file",
	"add_to_watchlist":  "remove_from_watchlist",
	"remove_from_watchlist": "add_to_watchlist",
}

// Classify partitions an action name into read or write. Unknown actions
// classify as write, the safe default: an unrecognised action gets gated,
// never waved through.
func Classify(action string) enum.ActionKind {
	if _, ok := readActions[action]; ok {
		return enum.ActionRead
	}
	return enum.ActionWrite
}

// IsWrite is a convenience for the common check.
func IsWrite(action string) bool {
	return Classify(action) == enum.ActionWrite
}

// BaseScore returns the static 1-10 impact score for an action. Reads are
// 1; unknown writes score 5, the midpoint, pending an explicit table entry.
func BaseScore(action string) int {
	if Classify(action) == enum.ActionRead {
		return 1
	}
	if score, ok := writeActions[action]; ok {
		if score > 10 {
			return 10
		}
		return score
	}
	return 5
}

// ReversePair returns the compensating action for a reversible action.
func ReversePair(action string) (string, bool) {
	pair, ok := rollbackPairs[action]
	return pair, ok
}

// KnownActions lists every action in the classifier tables, reads first.
func KnownActions() []string {
	out := make([]string, 0, len(readActions)+len(writeActions))
	for a := range readActions {
		out = append(out, a)
	}
	for a := range writeActions {
		out = append(out, a)
	}
	return out
}
