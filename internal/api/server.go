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

// Package api exposes the engine's read/decide surface over HTTP: pending
// approvals and their decisions, execution results, and audit chains.
// Authentication is the deployment gateway's job, not the engine's.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/sim-security/runbookpilot/internal/approval"
	"github.com/sim-security/runbookpilot/internal/audit"
	"github.com/sim-security/runbookpilot/internal/common/config"
	"github.com/sim-security/runbookpilot/internal/common/logger"
	"github.com/sim-security/runbookpilot/internal/core/models"
	"github.com/sim-security/runbookpilot/internal/storage"
)

// Server is the engine's HTTP surface.
type Server struct {
	cfg      config.APIConfig
	queue    *approval.Queue
	store    *storage.Store
	auditLog *audit.Log
	engine   *gin.Engine
	http     *http.Server
	log      logger.Logger
}

// NewServer wires the routes.
func NewServer(cfg config.APIConfig, queue *approval.Queue, store *storage.Store, auditLog *audit.Log) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	if len(cfg.CORSOrigins) > 0 {
		corsCfg := cors.DefaultConfig()
		corsCfg.AllowOrigins = cfg.CORSOrigins
		engine.Use(cors.New(corsCfg))
	}

	s := &Server{
		cfg:      cfg,
		queue:    queue,
		store:    store,
		auditLog: auditLog,
		engine:   engine,
		log:      logger.NewLogger("api-server"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.health)

	v1 := s.engine.Group("/api/v1")
	v1.GET("/approvals", s.listApprovals)
	v1.POST("/approvals/:id/approve", s.approve)
	v1.POST("/approvals/:id/deny", s.deny)
	v1.GET("/executions/:id", s.getExecution)
	v1.GET("/executions/:id/audit", s.getAuditChain)
}

// Start serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.http = &http.Server{Addr: s.cfg.ListenAddr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("api listening on %s", s.cfg.ListenAddr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(sctx)
	}
}

// Handler exposes the router for httptest-driven tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listApprovals(c *gin.Context) {
	filter := models.ApprovalFilter{
		ExecutionID: c.Query("execution_id"),
		RunbookID:   c.Query("runbook_id"),
		Limit:       intQuery(c, "limit"),
		Offset:      intQuery(c, "offset"),
	}

	pending, err := s.queue.ListPending(c.Request.Context(), filter)
	if err != nil {
		s.log.Errorf("list approvals failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list approvals"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"approvals": pending, "count": len(pending)})
}

type decisionBody struct {
	DecidedBy string `json:"decided_by" binding:"required"`
	Reason    string `json:"reason"`
}

func (s *Server) approve(c *gin.Context) {
	var body decisionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req, err := s.queue.Approve(c.Request.Context(), c.Param("id"), body.DecidedBy)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, req)
}

func (s *Server) deny(c *gin.Context) {
	var body decisionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req, err := s.queue.Deny(c.Request.Context(), c.Param("id"), body.DecidedBy, body.Reason)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, req)
}

func (s *Server) getExecution(c *gin.Context) {
	result, err := s.store.GetExecution(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) getAuditChain(c *gin.Context) {
	executionID := c.Param("id")
	chain, err := s.auditLog.Chain(c.Request.Context(), executionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	verifyErr := s.auditLog.Verify(c.Request.Context(), executionID)
	c.JSON(http.StatusOK, gin.H{
		"entries": chain,
		"intact":  verifyErr == nil,
	})
}

// intQuery parses a non-negative integer query parameter; absent or
// malformed values read as zero, which the queue treats as its default.
func intQuery(c *gin.Context, name string) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil || v < 0 {
		return 0
	}
	return v
}
