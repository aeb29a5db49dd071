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

package sources

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sim-security/runbookpilot/internal/common/config"
	"github.com/sim-security/runbookpilot/internal/core/models"
)

func TestRedisTIEnrich(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.Set("rbp:ti:203.0.113.10", `{"verdict":"malicious","score":92}`)

	src := NewRedisTI(config.RedisSourceConfig{
		Addr:      mr.Addr(),
		KeyPrefix: "rbp:ti:",
		Timeout:   time.Second,
	})
	t.Cleanup(func() { src.Close() })

	require.True(t, src.Enabled())
	assert.Equal(t, "redis_threat_intel", src.Name())

	alert := models.Alert{
		"source":      map[string]interface{}{"ip": "203.0.113.10"},
		"destination": map[string]interface{}{"ip": "198.51.100.7"},
	}
	data, err := src.Enrich(context.Background(), alert)
	require.NoError(t, err)

	assert.Equal(t, 1, data["hit_count"])
	hits := data["hits"].(map[string]interface{})
	record := hits["203.0.113.10"].(map[string]interface{})
	assert.Equal(t, "malicious", record["verdict"])
}

func TestRedisTINoIndicators(t *testing.T) {
	mr := miniredis.RunT(t)
	src := NewRedisTI(config.RedisSourceConfig{
		Addr: mr.Addr(), KeyPrefix: "rbp:ti:", Timeout: time.Second,
	})
	t.Cleanup(func() { src.Close() })

	data, err := src.Enrich(context.Background(), models.Alert{"event": map[string]interface{}{"kind": "alert"}})
	require.NoError(t, err)
	assert.Equal(t, 0, data["hit_count"])
}

func TestRedisTIDisabledWithoutAddr(t *testing.T) {
	src := NewRedisTI(config.RedisSourceConfig{})
	assert.False(t, src.Enabled())
}
