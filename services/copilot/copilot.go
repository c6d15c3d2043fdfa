// Copyright (C) 2025 OpsDeck Labs (eng@opsdeck.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/> for the full license text.

// Package copilot implements the natural-language inventory copilot: a
// guardrail risk classifier, a plan synthesizer with a deterministic
// fallback, a plan normalizer, a result phraser, and the receipt and
// event-draft text extractors. The generative model is optional at every
// step; every path has a deterministic rendition.
package copilot

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/opsdeckhq/opsdeck/services/llm"
)

var copilotTracer = otel.Tracer("opsdeck.copilot")

var featureLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "opsdeck",
	Subsystem: "copilot",
	Name:      "feature_latency_seconds",
	Help:      "End-to-end latency per copilot feature",
	Buckets:   prometheus.DefBuckets,
}, []string{"feature"})

// Identity names the caller of a copilot feature for run logging.
type Identity struct {
	UserID      int64
	WorkspaceID int64
}

// RunRecord is one copilot invocation for the audit trail.
type RunRecord struct {
	UserID        int64
	WorkspaceID   int64
	Feature       string
	PromptVersion string
	Model         string
	Success       bool
	LatencyMS     int64
	Error         string
}

// RunLogger persists RunRecords. Implementations must tolerate concurrent
// calls; failures are logged and swallowed by the service.
type RunLogger interface {
	LogRun(ctx context.Context, rec RunRecord) error
}

// PlanExecutor runs a validated plan against an inventory store.
type PlanExecutor interface {
	ExecutePlan(ctx context.Context, plan Plan) (PlanResult, error)
}

// Service is the copilot orchestrator. A nil llm client runs every feature
// in deterministic-only mode.
type Service struct {
	llm      llm.Client
	runs     RunLogger
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

// NewService wires a copilot service. runs may be nil to disable run
// logging (tests); logger must not be nil.
func NewService(client llm.Client, runs RunLogger, logger *slog.Logger) *Service {
	return &Service{
		llm:      client,
		runs:     runs,
		logger:   logger,
		validate: validator.New(),
		now:      time.Now,
	}
}

const promptVersion = "v1"

// logRun records an invocation best-effort. A logging failure never
// affects the caller's response.
func (s *Service) logRun(ctx context.Context, ident Identity, feature string, success bool, latency time.Duration, errText string) {
	featureLatency.WithLabelValues(feature).Observe(latency.Seconds())
	if s.runs == nil {
		return
	}
	model := ""
	if s.llm != nil {
		model = s.llm.Model()
	}
	rec := RunRecord{
		UserID:        ident.UserID,
		WorkspaceID:   ident.WorkspaceID,
		Feature:       feature,
		PromptVersion: promptVersion,
		Model:         model,
		Success:       success,
		LatencyMS:     latency.Milliseconds(),
		Error:         errText,
	}
	if err := s.runs.LogRun(ctx, rec); err != nil {
		s.logger.Warn("run logging failed", "feature", feature, "error", err)
	}
}

// =============================================================================
// Copilot Answer Flow
// =============================================================================

// GuardrailData is the guardrail summary echoed in every answer payload.
type GuardrailData struct {
	Reason    string   `json:"reason"`
	Mode      string   `json:"mode"`
	RiskScore int      `json:"risk_score"`
	Signals   []string `json:"signals"`
}

// Answer is the copilot response: the answer text, the tools that ran, and
// the plan/result/guardrail detail for the UI.
type Answer struct {
	Answer    string        `json:"answer"`
	ToolsUsed []string      `json:"tools_used"`
	Plan      *Plan         `json:"plan,omitempty"`
	Result    *PlanResult   `json:"result,omitempty"`
	Guardrail GuardrailData `json:"guardrail"`
}

// RunCopilot answers an inventory question end to end.
//
// Description:
//
//	Evaluates the guardrail, and on rejection returns the refusal message
//	without planning or executing anything. Otherwise synthesizes a plan
//	(model-assisted unless the guardrail forces deterministic mode),
//	executes it through the provided executor, and phrases the result.
//	The executor is the only fallible step; its error is logged to the
//	run trail and returned.
//
// Inputs:
//
//	ctx   - Request context.
//	ident - Caller identity for run logging.
//	query - The raw untrusted question.
//	exec  - Workspace-scoped plan executor.
//
// Outputs:
//
//	*Answer - The answer payload.
//	error   - Non-nil only when plan execution fails.
//
// Thread Safety: Safe for concurrent use.
func (s *Service) RunCopilot(ctx context.Context, ident Identity, query string, exec PlanExecutor) (*Answer, error) {
	ctx, span := copilotTracer.Start(ctx, "copilot.run")
	defer span.End()
	start := s.now()

	guardrail := EvaluateGuardrail(query)
	span.SetAttributes(
		attribute.String("guardrail.action", string(guardrail.Action)),
		attribute.String("guardrail.reason", guardrail.Reason),
		attribute.Int("guardrail.risk_score", guardrail.RiskScore),
	)

	if guardrail.Action == ActionReject {
		s.logRun(ctx, ident, "inventory_copilot", true, s.now().Sub(start), "")
		return &Answer{
			Answer:    guardrail.Message,
			ToolsUsed: []string{},
			Guardrail: GuardrailData{
				Reason:    guardrail.Reason,
				Mode:      "blocked",
				RiskScore: guardrail.RiskScore,
				Signals:   guardrail.Signals,
			},
		}, nil
	}

	allowModel := !guardrail.ForceDeterministic
	plan := s.SynthesizePlan(ctx, query, allowModel)

	result, err := exec.ExecutePlan(ctx, plan)
	if err != nil {
		s.logRun(ctx, ident, "inventory_copilot", false, s.now().Sub(start), err.Error())
		return nil, err
	}

	answer := s.PhraseAnswer(ctx, query, plan, result, allowModel)
	mode := "hybrid"
	if !allowModel {
		mode = "deterministic"
	}

	s.logRun(ctx, ident, "inventory_copilot", true, s.now().Sub(start), "")
	return &Answer{
		Answer:    answer,
		ToolsUsed: []string{"query_inventory"},
		Plan:      &plan,
		Result:    &result,
		Guardrail: GuardrailData{
			Reason:    guardrail.Reason,
			Mode:      mode,
			RiskScore: guardrail.RiskScore,
			Signals:   guardrail.Signals,
		},
	}, nil
}
