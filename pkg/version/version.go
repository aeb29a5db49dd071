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

// Package version provides the single source of truth for the application's version.
package version

import (
	"fmt"
	"runtime"
)

// These variables are populated at build time via -ldflags.
// Example:
// go build -ldflags "-X 'github.com/sim-security/runbookpilot/pkg/version.Version=v1.0.0'"
var (
	// Version is the semantic version of the application.
	Version = "dev"
	// GitCommit is the short git commit hash of the source code.
	GitCommit = "unknown"
	// BuildDate is the date when the binary was built.
	BuildDate = "unknown"
	// GoVersion is the version of the Go compiler used to build the binary.
	GoVersion = runtime.Version()
	// Platform is the operating system and architecture the binary targets.
	Platform = fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)
)

// String renders the full version line.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s, %s, %s)",
		Version, GitCommit, BuildDate, GoVersion, Platform)
}
