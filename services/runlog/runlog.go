// Copyright (C) 2025 OpsDeck Labs (eng@opsdeck.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/> for the full license text.

// Package runlog persists the copilot invocation audit trail.
package runlog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/opsdeckhq/opsdeck/services/copilot"
)

var runsRecordedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "opsdeck",
	Subsystem: "runlog",
	Name:      "records_total",
	Help:      "Copilot run records written, by feature and success",
}, []string{"feature", "success"})

// Store writes copilot run records to the ai_runs table. Implements
// copilot.RunLogger.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// LogRun implements copilot.RunLogger.
func (s *Store) LogRun(ctx context.Context, rec copilot.RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ai_runs (user_id, workspace_id, feature, prompt_version, model, success, latency_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.UserID, rec.WorkspaceID, rec.Feature, rec.PromptVersion, rec.Model,
		rec.Success, rec.LatencyMS, rec.Error)
	if err != nil {
		return fmt.Errorf("inserting run record: %w", err)
	}
	runsRecordedTotal.WithLabelValues(rec.Feature, fmt.Sprintf("%t", rec.Success)).Inc()
	return nil
}
