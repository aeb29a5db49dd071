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

// Package sources provides the built-in enrichment sources.
package sources

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sim-security/runbookpilot/internal/common/config"
	"github.com/sim-security/runbookpilot/internal/common/logger"
	"github.com/sim-security/runbookpilot/internal/core/models"
)

// indicatorPaths are the alert fields the source looks up, in order.
var indicatorPaths = []string{
	"source.ip",
	"destination.ip",
	"file.hash.sha256",
	"dns.question.name",
}

// RedisTI looks alert indicators up in a redis-backed threat-intel cache.
// Keys are <prefix><indicator>; values are JSON blobs written by the TI
// sync job. A cache miss is simply an indicator with no hit, not an error.
type RedisTI struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
	enabled bool
	log     logger.Logger
}

// NewRedisTI builds the source from its config section. An empty address
// yields a disabled source so the pipeline can register it unconditionally.
func NewRedisTI(cfg config.RedisSourceConfig) *RedisTI {
	src := &RedisTI{
		prefix:  cfg.KeyPrefix,
		timeout: cfg.Timeout,
		enabled: cfg.Addr != "",
		log:     logger.NewLogger("enrich-redis-ti"),
	}
	if src.enabled {
		src.client = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	}
	return src
}

// Name implements interfaces.EnrichmentSource.
func (s *RedisTI) Name() string { return "redis_threat_intel" }

// Enabled implements interfaces.EnrichmentSource.
func (s *RedisTI) Enabled() bool { return s.enabled }

// Timeout implements interfaces.EnrichmentSource.
func (s *RedisTI) Timeout() time.Duration { return s.timeout }

// Enrich collects TI hits for every indicator present on the alert.
func (s *RedisTI) Enrich(ctx context.Context, alert models.Alert) (map[string]interface{}, error) {
	hits := make(map[string]interface{})

	for _, path := range indicatorPaths {
		v, ok := alert.Get(path)
		if !ok {
			continue
		}
		indicator, ok := v.(string)
		if !ok || indicator == "" {
			continue
		}

		raw, err := s.client.Get(ctx, s.prefix+indicator).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}

		var record map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			s.log.Warnf("malformed TI record for %s: %v", indicator, err)
			continue
		}
		hits[indicator] = record
	}

	return map[string]interface{}{
		"hits":      hits,
		"hit_count": len(hits),
	}, nil
}

// Close releases the redis connection.
func (s *RedisTI) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
