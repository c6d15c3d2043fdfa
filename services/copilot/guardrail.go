// Copyright (C) 2025 OpsDeck Labs (eng@opsdeck.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/> for the full license text.

package copilot

import (
	"regexp"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	guardrailDecisionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "opsdeck",
		Subsystem: "guardrail",
		Name:      "decision_total",
		Help:      "Guardrail decisions by action and reason",
	}, []string{"action", "reason"})

	guardrailRiskScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "opsdeck",
		Subsystem: "guardrail",
		Name:      "risk_score",
		Help:      "Risk score distribution for evaluated queries",
		Buckets:   []float64{0, 10, 20, 35, 40, 60, 80, 100},
	})
)

// =============================================================================
// Assessment Types
// =============================================================================

// Action is the guardrail's verdict for a query.
type Action string

const (
	// ActionAllow lets the query proceed to planning.
	ActionAllow Action = "allow"
	// ActionReject stops the query before any planning or model call.
	ActionReject Action = "reject"
)

// Assessment is the per-request output of the guardrail.
//
// Description:
//
//	Carries the action, a taxonomy reason tag, the operating mode
//	(ForceDeterministic disables the generative model for the rest of the
//	pipeline), the accumulated risk score, the signals that fired, and a
//	user-facing message that is non-empty only on rejection.
type Assessment struct {
	Action             Action   `json:"action"`
	Reason             string   `json:"reason"`
	ForceDeterministic bool     `json:"force_deterministic"`
	RiskScore          int      `json:"risk_score"`
	Signals            []string `json:"signals"`
	Message            string   `json:"message,omitempty"`
}

// =============================================================================
// Signal Predicates
// =============================================================================

var inventoryIntentPatterns = compileAll(
	`\binventory\b`,
	`\blow stock\b`,
	`\bin stock\b`,
	`\bout of stock\b`,
	`\bvendor\b`,
	`\bsupplier\b`,
	`\bstock levels?\b`,
	`\bavailable\b`,
	`\bavailability\b`,
	`\bon hand\b`,
	`\bcategory\b`,
	`\bstatus\b`,
	`\bquantity\b`,
	`\bquantities\b`,
	`\bsku\b`,
	`\bitem\b`,
	`\bitems\b`,
	`\bdo we have\b`,
	`\bhave\b`,
	`\bfind\b`,
	`\bsearch\b`,
	`\blist\b`,
	`\bshow\b`,
	`\bcount\b`,
	`\bhow many\b`,
	`\bsum\b`,
	`\btotal\b`,
)

// strongInventoryIntentPatterns excludes generic verbs like "show" and "list"
// that cause false positives in scope decisions.
var strongInventoryIntentPatterns = compileAll(
	`\binventory\b`,
	`\blow stock\b`,
	`\bin stock\b`,
	`\bout of stock\b`,
	`\bvendor\b`,
	`\bsupplier\b`,
	`\bstock levels?\b`,
	`\bavailable\b`,
	`\bavailability\b`,
	`\bon hand\b`,
	`\bcategory\b`,
	`\bstatus\b`,
	`\bquantity\b`,
	`\bquantities\b`,
	`\bsku\b`,
	`\bitem\b`,
	`\bitems\b`,
	`\bdo we have\b`,
	`\bfind\b`,
	`\bsearch\b`,
	`\bcount\b`,
	`\bhow many\b`,
	`\bsum\b`,
	`\btotal\b`,
)

var promptInjectionPatterns = compileAll(
	`(?i)\b(ignore|disregard|forget|override)\b.{0,40}\b(instruction|instructions|prompt|system|developer|guardrail|policy)\b`,
	`(?i)\b(reveal|show|print|leak|expose)\b.{0,40}\b(system prompt|developer message|hidden prompt|internal prompt|chain of thought|cot)\b`,
	`(?i)\b(role\s*:\s*(system|assistant|developer))\b`,
	`(?i)\b(jailbreak|developer mode|dan)\b`,
	`<\s*/?\s*system\s*>`,
)

var outOfScopePatterns = compileAll(
	`\bweather\b`,
	`\bforecast\b`,
	`\bnews\b`,
	`\bpresident\b`,
	`\bprime minister\b`,
	`\bcapital of\b`,
	`\bbitcoin\b`,
	`\bcrypto\b`,
	`\bstock market\b`,
	`\btranslate\b`,
	`\bpoem\b`,
	`\bjoke\b`,
	`\bwrite code\b`,
	`\bpython\b`,
	`\bjavascript\b`,
	`^who is\b`,
	`^what is\b`,
)

var financeMarketPatterns = compileAll(
	`\bstock exchange\b`,
	`\bstock market\b`,
	`\bshare price\b`,
	`\bshares?\b`,
	`\bequities?\b`,
	`\bmarket cap\b`,
	`\bticker\b`,
	`\bnasdaq\b`,
	`\bnyse\b`,
	`\bdow jones\b`,
	`\bs&p\b`,
)

var sqlLikePatterns = compileAll(
	`(?i)\bselect\b[\s\S]{0,120}\bfrom\b`,
	`(?i)\binsert\s+into\b`,
	`(?i)\bupdate\b[\s\S]{0,120}\bset\b`,
	`(?i)\bdelete\s+from\b`,
	`(?i)\bdrop\s+table\b`,
	`(?i)\balter\s+table\b`,
	`(?i)\btruncate\s+table\b`,
	`(?i)\bunion\s+select\b`,
	`(?i)\binformation_schema\b`,
	`(?i)\bsqlite_master\b`,
	`(?i)\bpragma\b`,
	`--`,
	`/\*`,
)

var (
	systemTagPattern  = regexp.MustCompile(`<\s*/?\s*system\s*>`)
	quotedTermPattern = regexp.MustCompile(`["'][^"']+["']`)
	tokenPattern      = regexp.MustCompile(`[a-z0-9_'-]+`)
)

// Fuzzy term families for misspelled injection attempts. A command term must
// co-occur with a control term, or a reveal term with a secret term, or the
// literal token "role" with an impersonation term.
var (
	commandTerms       = []string{"ignore", "disregard", "override", "forget"}
	controlTerms       = []string{"instruction", "instructions", "prompt", "system", "developer", "policy", "guardrail"}
	revealTerms        = []string{"reveal", "show", "print", "leak", "expose"}
	secretTerms        = []string{"system", "prompt", "hidden", "internal", "developer", "instruction", "instructions"}
	impersonationTerms = []string{"system", "assistant", "developer"}
)

func compileAll(patterns ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		compiled[i] = regexp.MustCompile(p)
	}
	return compiled
}

func anyMatch(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// querySignals holds the independent boolean signals computed over a query.
type querySignals struct {
	inventoryIntent       bool
	strongInventoryIntent bool
	injectionRegex        bool
	injectionFuzzy        bool
	systemTag             bool
	outOfScope            bool
	financeMarket         bool
	sqlLike               bool
	quotedTerm            bool
	wordCount             int
}

// hasTermLike reports whether any query token is equal or edit-similar
// (ratio >= 0.82 on tokens of length >= 5, length delta <= 2) to a term.
func hasTermLike(tokens []string, terms []string) bool {
	const minRatio = 0.82
	for _, token := range tokens {
		for _, term := range terms {
			if token == term {
				return true
			}
			if len(token) < 5 || len(term) < 5 {
				continue
			}
			delta := len(token) - len(term)
			if delta < -2 || delta > 2 {
				continue
			}
			if SimilarityRatio(token, term) >= minRatio {
				return true
			}
		}
	}
	return false
}

func hasToken(tokens []string, want string) bool {
	for _, t := range tokens {
		if t == want {
			return true
		}
	}
	return false
}

// computeSignals evaluates all signal predicates for a lowercased query.
// The quoted-term signal inspects the original text so casing inside quotes
// is preserved.
func computeSignals(original, lowered string) querySignals {
	tokens := tokenPattern.FindAllString(lowered, -1)

	injectionRegex := anyMatch(promptInjectionPatterns, lowered)
	injectionFuzzy := (hasTermLike(tokens, commandTerms) && hasTermLike(tokens, controlTerms)) ||
		(hasTermLike(tokens, revealTerms) && hasTermLike(tokens, secretTerms)) ||
		(hasToken(tokens, "role") && hasTermLike(tokens, impersonationTerms))

	return querySignals{
		inventoryIntent:       anyMatch(inventoryIntentPatterns, lowered),
		strongInventoryIntent: anyMatch(strongInventoryIntentPatterns, lowered),
		injectionRegex:        injectionRegex,
		injectionFuzzy:        injectionFuzzy,
		systemTag:             systemTagPattern.MatchString(lowered),
		outOfScope:            anyMatch(outOfScopePatterns, lowered),
		financeMarket:         anyMatch(financeMarketPatterns, lowered),
		sqlLike:               anyMatch(sqlLikePatterns, lowered),
		quotedTerm:            quotedTermPattern.MatchString(original),
		wordCount:             len(strings.Fields(lowered)),
	}
}

// =============================================================================
// Risk Scoring
// =============================================================================

// Signal weights. Kept as data, separate from the decision thresholds, so
// both can be tuned and tested independently.
const (
	weightInjectionRegex   = 65
	weightInjectionFuzzy   = 45
	weightSystemTag        = 20
	weightOutOfScope       = 35
	weightFinanceMarket    = 45
	weightSQLLike          = 55
	weightLongNonInventory = 10

	deescalateInventory  = 25
	deescalateQuotedTerm = 10

	// Injection phrasing inside an inventory query never scores below this.
	injectionWithInventoryFloor = 40
)

// scoreSignals accumulates the risk score and the fired-signal list.
func scoreSignals(sig querySignals) (int, []string) {
	score := 0
	var fired []string

	if sig.injectionRegex {
		score += weightInjectionRegex
		fired = append(fired, "prompt_injection_regex")
	}
	if sig.injectionFuzzy {
		score += weightInjectionFuzzy
		fired = append(fired, "prompt_injection_fuzzy")
	}
	if sig.systemTag {
		score += weightSystemTag
		fired = append(fired, "xml_system_tag")
	}
	if sig.outOfScope && !sig.inventoryIntent {
		score += weightOutOfScope
		fired = append(fired, "out_of_scope_intent")
	}
	if sig.financeMarket {
		score += weightFinanceMarket
		fired = append(fired, "finance_market_intent")
	}
	if sig.sqlLike {
		score += weightSQLLike
		fired = append(fired, "sql_like_syntax")
	}
	if !sig.inventoryIntent && sig.wordCount > 8 {
		score += weightLongNonInventory
		fired = append(fired, "long_non_inventory_query")
	}

	// De-escalate when the query has clear inventory intent. Quoted tokens
	// usually name a product, which further lowers false positives.
	if sig.inventoryIntent {
		score -= deescalateInventory
		fired = append(fired, "inventory_intent")
		if sig.quotedTerm {
			score -= deescalateQuotedTerm
			fired = append(fired, "quoted_item_term")
		}
	}

	if (sig.injectionRegex || sig.injectionFuzzy) && sig.inventoryIntent {
		if score < injectionWithInventoryFloor {
			score = injectionWithInventoryFloor
		}
		fired = append(fired, "prompt_injection_with_inventory")
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, fired
}

// =============================================================================
// Decision Thresholds
// =============================================================================

const (
	rejectRiskThreshold        = 60
	forceDeterministicRisk     = 35
	unclearScopeWordCount      = 5
)

// Fixed, reason-specific refusal messages.
const (
	msgEmptyQuery = "Inventory Copilot needs a question. Try examples like " +
		"'what's low stock?' or 'do we have usb-c cable?'."
	msgOutOfScopeFinance = "That looks like financial-market context, which is outside inventory scope. " +
		"I can help with inventory stock levels, availability, categories, and status."
	msgSQLStyle = "SQL-style queries are not supported here. " +
		"Ask in natural language, e.g. 'show category counts' or 'what is low stock?'."
	msgOutOfScope = "That looks outside inventory scope. I can help with availability, low stock, " +
		"counts, categories, and status."
	msgInjectionOutOfScope = "I can only help with inventory questions. " +
		"I cannot follow requests about prompts, roles, or hidden instructions."
	msgUnclearScope = "I can answer inventory-related questions only. " +
		"Try asking about item availability, low stock, category counts, or status."
)

// EvaluateGuardrail scores a free-text query for scope and manipulation risk.
//
// Description:
//
//	Computes independent boolean signals over the lowercased query,
//	accumulates the weighted risk score, then walks a fixed decision list
//	(first match wins). Rejections carry a fixed user-facing message and
//	never trigger a model call. Allowed queries above the force threshold
//	run the rest of the pipeline in deterministic mode.
//
// Inputs:
//
//	query - The raw untrusted query text.
//
// Outputs:
//
//	Assessment - Action, reason, mode, risk score, signals, and message.
//
// Thread Safety: Safe for concurrent use (pure function over static rules).
func EvaluateGuardrail(query string) Assessment {
	lowered := strings.ToLower(strings.TrimSpace(query))
	if lowered == "" {
		return record(Assessment{
			Action:             ActionReject,
			Reason:             "empty_query",
			ForceDeterministic: true,
			RiskScore:          100,
			Signals:            []string{"empty_query"},
			Message:            msgEmptyQuery,
		})
	}

	sig := computeSignals(query, lowered)
	score, fired := scoreSignals(sig)

	reject := func(reason, message string) Assessment {
		return record(Assessment{
			Action:             ActionReject,
			Reason:             reason,
			ForceDeterministic: true,
			RiskScore:          score,
			Signals:            fired,
			Message:            message,
		})
	}

	switch {
	case sig.financeMarket && !sig.quotedTerm && !sig.strongInventoryIntent:
		return reject("out_of_scope_finance", msgOutOfScopeFinance)
	case sig.sqlLike && !sig.quotedTerm:
		return reject("unsupported_sql_style_query", msgSQLStyle)
	case !sig.inventoryIntent && sig.outOfScope:
		return reject("out_of_scope", msgOutOfScope)
	case !sig.inventoryIntent && score >= rejectRiskThreshold:
		return reject("prompt_injection_out_of_scope", msgInjectionOutOfScope)
	case !sig.inventoryIntent && sig.wordCount > unclearScopeWordCount:
		return reject("unclear_scope", msgUnclearScope)
	case score >= forceDeterministicRisk:
		return record(Assessment{
			Action:             ActionAllow,
			Reason:             "guarded_inventory_query",
			ForceDeterministic: true,
			RiskScore:          score,
			Signals:            fired,
		})
	default:
		return record(Assessment{
			Action:             ActionAllow,
			Reason:             "inventory_query",
			ForceDeterministic: false,
			RiskScore:          score,
			Signals:            fired,
		})
	}
}

func record(a Assessment) Assessment {
	guardrailDecisionTotal.WithLabelValues(string(a.Action), a.Reason).Inc()
	guardrailRiskScore.Observe(float64(a.RiskScore))
	return a
}
