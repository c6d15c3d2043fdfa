// Copyright (C) 2025 OpsDeck Labs (eng@opsdeck.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/> for the full license text.

package inventory

import (
	"context"
	"sort"

	"github.com/opsdeckhq/opsdeck/services/copilot"
)

// Duplicate-candidate matching.
const (
	duplicateSimilarityThreshold = 0.82
	maxDuplicateCandidates       = 3
)

// Candidate reasons.
const (
	ReasonExactName               = "exact_name"
	ReasonSimilarName             = "similar_name"
	ReasonSimilarNameUnitMismatch = "similar_name_unit_mismatch"
)

// Recommended actions for an import row.
const (
	ActionMerge     = "merge"
	ActionReview    = "review"
	ActionCreateNew = "create_new"
)

// DuplicateCandidate is one existing item that an import row likely
// duplicates.
type DuplicateCandidate struct {
	Item       Item    `json:"item"`
	Similarity float64 `json:"similarity"`
	Reason     string  `json:"reason"`
}

// DuplicateSuggestion pairs an import row with its candidates and the
// recommended commit action.
type DuplicateSuggestion struct {
	Input             ItemInput            `json:"input"`
	Candidates        []DuplicateCandidate `json:"candidates"`
	RecommendedAction string               `json:"recommended_action"`
}

// SuggestDuplicates ranks existing workspace items against an import row.
//
// Description:
//
//	Compares canonical names with the similarity ratio. An exact canonical
//	match recommends a merge; a similar name with a matching unit
//	recommends review; a similar name with a unit mismatch still surfaces
//	as a candidate. Up to three candidates return, best first. With no
//	candidate above the threshold the recommendation is create_new.
func (s *Store) SuggestDuplicates(ctx context.Context, workspaceID int64, input ItemInput) (DuplicateSuggestion, error) {
	items, err := s.List(ctx, workspaceID, ListFilter{})
	if err != nil {
		return DuplicateSuggestion{}, err
	}

	normalized := copilot.NormalizeItemName(input.Name)
	unit := NormalizeUnit(input.Unit)

	var candidates []DuplicateCandidate
	for _, item := range items {
		similarity := copilot.SimilarityRatio(normalized, item.NormalizedName)
		if similarity < duplicateSimilarityThreshold {
			continue
		}
		reason := ReasonSimilarName
		if item.NormalizedName == normalized {
			reason = ReasonExactName
			similarity = 1
		} else if NormalizeUnit(item.Unit) != unit {
			reason = ReasonSimilarNameUnitMismatch
		}
		candidates = append(candidates, DuplicateCandidate{
			Item:       item,
			Similarity: similarity,
			Reason:     reason,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Similarity > candidates[j].Similarity
	})
	if len(candidates) > maxDuplicateCandidates {
		candidates = candidates[:maxDuplicateCandidates]
	}

	action := ActionCreateNew
	if len(candidates) > 0 {
		if candidates[0].Reason == ReasonExactName {
			action = ActionMerge
		} else {
			action = ActionReview
		}
	}

	return DuplicateSuggestion{
		Input:             input,
		Candidates:        candidates,
		RecommendedAction: action,
	}, nil
}
