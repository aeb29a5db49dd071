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

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sim-security/runbookpilot/internal/common/types/enum"
	"github.com/sim-security/runbookpilot/internal/core/models"
)

// paramCounters routes known parameter keys to blast-radius counters.
var paramCounters = map[string]*counterKind{
	"host_id":    {kind: counterHosts},
	"hostname":   {kind: counterHosts},
	"ip":         {kind: counterIPs},
	"ip_address": {kind: counterIPs},
	"domain":     {kind: counterDomains},
	"account":    {kind: counterUsers},
	"user":       {kind: counterUsers},
	"file_path":  {kind: counterFiles},
	"process_id": {kind: counterProcesses},
}

type counter int

const (
	counterHosts counter = iota
	counterUsers
	counterIPs
	counterDomains
	counterFiles
	counterProcesses
)

type counterKind struct{ kind counter }

// categoricalFloors maps actions whose nature implies at least one affected
// asset to the counter that must not read zero, even when the parameters
// carry no recognised key.
var categoricalFloors = map[string]counter{
	"isolate_host":      counterHosts,
	"unisolate_host":    counterHosts,
	"wipe_host":         counterHosts,
	"snapshot_host":     counterHosts,
	"disable_account":   counterUsers,
	"enable_account":    counterUsers,
	"reset_password":    counterUsers,
	"revoke_sessions":   counterUsers,
	"block_ip":          counterIPs,
	"unblock_ip":        counterIPs,
	"block_domain":      counterDomains,
	"unblock_domain":    counterDomains,
	"quarantine_file":   counterFiles,
	"unquarantine_file": counterFiles,
	"delete_file":       counterFiles,
	"kill_process":      counterProcesses,
}

// actionSummaries are the fixed per-action lead sentences for assessments.
var actionSummaries = map[string]string{
	"isolate_host":         "Isolates the host from the network, cutting all non-management traffic.",
	"unisolate_host":       "Restores the host's network connectivity.",
	"block_ip":             "Blocks the IP address at the perimeter firewall.",
	"unblock_ip":           "Removes the perimeter block for the IP address.",
	"block_domain":         "Sinkholes the domain at the DNS layer.",
	"unblock_domain":       "Removes the DNS sinkhole for the domain.",
	"disable_account":      "Disables the account, terminating interactive access.",
	"enable_account":       "Re-enables the previously disabled account.",
	"reset_password":       "Forces a credential reset for the account.",
	"revoke_sessions":      "Revokes all active sessions for the account.",
	"kill_process":         "Terminates the process on the endpoint.",
	"quarantine_file":      "Moves the file into the endpoint quarantine store.",
	"unquarantine_file":    "Restores the file from the endpoint quarantine store.",
	"delete_file":          "Permanently deletes the file from the endpoint.",
	"update_firewall_rule": "Rewrites a firewall rule on the enforcement point.",
	"run_script":           "Runs an arbitrary script on the endpoint.",
	"wipe_host":            "Re-images the host, destroying local state.",
	"create_ticket":        "Opens a tracking ticket in the case system.",
	"update_ticket":        "Updates an existing tracking ticket.",
	"send_notification":    "Sends a notification to the configured channel.",
	"add_to_watchlist":     "Adds the indicator to a monitoring watchlist.",
	"remove_from_watchlist": "Removes the indicator from a monitoring watchlist.",
	"snapshot_host":        "Captures a forensic snapshot of the host.",
}

// Assess produces the deterministic impact record for one step against its
// resolved parameters. Read actions assess too (score 1) so reports can
// show a full picture, but only writes matter for overall risk.
func Assess(step *models.RunbookStep, resolvedParams map[string]interface{}) *models.Impact {
	score := BaseScore(step.Action)
	_, reversible := ReversePair(step.Action)

	imp := &models.Impact{
		Action:            step.Action,
		Score:             score,
		Level:             enum.RiskLevelForScore(score),
		Reversible:        reversible,
		RollbackAvailable: reversible || step.Rollback != nil,
		BlastRadius:       blastRadius(step.Action, resolvedParams),
		Dependencies:      dependencies(resolvedParams),
	}
	imp.Summary = summarize(imp)
	return imp
}

// OverallRisk folds per-step impacts into the report-level score: the max
// across write steps, or 1 when no write step was assessed.
func OverallRisk(impacts []*models.Impact) (int, enum.RiskLevel) {
	score := 1
	for _, imp := range impacts {
		if imp == nil {
			continue
		}
		if imp.Score > score {
			score = imp.Score
		}
	}
	return score, enum.RiskLevelForScore(score)
}

// blastRadius scans resolved parameters for known asset keys and counts
// scalars and arrays, then applies the categorical floor for actions that
// by definition touch at least one asset.
func blastRadius(action string, params map[string]interface{}) models.BlastRadius {
	var br models.BlastRadius
	counts := map[counter]*int{
		counterHosts:     &br.Hosts,
		counterUsers:     &br.Users,
		counterIPs:       &br.IPs,
		counterDomains:   &br.Domains,
		counterFiles:     &br.Files,
		counterProcesses: &br.Processes,
	}

	seen := make(map[string]struct{})
	for key, value := range params {
		ck, ok := paramCounters[key]
		if !ok {
			continue
		}
		for _, asset := range assetValues(value) {
			*counts[ck.kind]++
			if _, dup := seen[asset]; !dup {
				seen[asset] = struct{}{}
				br.Assets = append(br.Assets, asset)
			}
		}
	}

	if floor, ok := categoricalFloors[action]; ok && *counts[floor] == 0 {
		*counts[floor] = 1
	}

	sort.Strings(br.Assets)
	return br
}

// assetValues flattens a parameter value into its scalar identifiers.
func assetValues(v interface{}) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []string:
		return t
	case []interface{}:
		var out []string
		for _, item := range t {
			out = append(out, assetValues(item)...)
		}
		return out
	case nil:
		return nil
	default:
		return []string{fmt.Sprintf("%v", t)}
	}
}

// dependencies collects service/system names from the parameters.
func dependencies(params map[string]interface{}) []string {
	var deps []string
	for _, key := range []string{"service", "services", "system", "systems"} {
		if v, ok := params[key]; ok {
			deps = append(deps, assetValues(v)...)
		}
	}
	sort.Strings(deps)
	return deps
}

// summarize renders the fixed sentence plus risk label, counts, and a
// rollback hint.
func summarize(imp *models.Impact) string {
	lead, ok := actionSummaries[imp.Action]
	if !ok {
		lead = fmt.Sprintf("Performs the %s action.", imp.Action)
	}

	var b strings.Builder
	b.WriteString(lead)
	fmt.Fprintf(&b, " Risk: %s (%d/10).", imp.Level, imp.Score)
	if total := imp.BlastRadius.Total(); total > 0 {
		fmt.Fprintf(&b, " Affects %d asset(s).", total)
	}
	if imp.RollbackAvailable {
		b.WriteString(" Rollback available.")
	} else {
		b.WriteString(" No rollback available.")
	}
	return b.String()
}
