// Copyright (C) 2025 OpsDeck Labs (eng@opsdeck.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/> for the full license text.

package copilot

// SimilarityRatio returns a similarity score in [0,1] between two strings
// using the Ratcliff/Obershelp algorithm: twice the total length of the
// recursively matched common blocks over the combined length. A ratio of 1
// means identical strings, 0 means nothing in common.
//
// Thread Safety: Safe for concurrent use.
func SimilarityRatio(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	matched := matchingTotal([]byte(a), []byte(b))
	return 2 * float64(matched) / float64(len(a)+len(b))
}

// matchingTotal sums the lengths of all matching blocks: find the longest
// common substring, then recurse on the unmatched pieces to its left and
// right.
func matchingTotal(a, b []byte) int {
	ai, bi, size := longestCommonBlock(a, b)
	if size == 0 {
		return 0
	}
	total := size
	total += matchingTotal(a[:ai], b[:bi])
	total += matchingTotal(a[ai+size:], b[bi+size:])
	return total
}

// longestCommonBlock finds the longest common substring of a and b and
// returns its start offsets and length. Ties resolve to the earliest match
// in a, then in b.
func longestCommonBlock(a, b []byte) (int, int, int) {
	bestA, bestB, bestSize := 0, 0, 0
	// lengths[j] holds the running match length ending at a[i-1], b[j-1].
	lengths := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		prev := 0
		for j := 1; j <= len(b); j++ {
			cur := lengths[j]
			if a[i-1] == b[j-1] {
				lengths[j] = prev + 1
				if lengths[j] > bestSize {
					bestSize = lengths[j]
					bestA = i - bestSize
					bestB = j - bestSize
				}
			} else {
				lengths[j] = 0
			}
			prev = cur
		}
	}
	return bestA, bestB, bestSize
}
