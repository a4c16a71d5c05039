package retrieval

import "sort"

const rrfK = 60

// rankedID is the minimal shape RRF needs from a ranked list: the chunk
// id and its rank-producing position in that list.
type rankedID struct {
	ChunkID string
}

// fuseRRF implements unweighted two-way Reciprocal Rank Fusion: each hit
// at 1-based rank i contributes 1/(K+i) to its chunk's fused score;
// scores from the two lists are summed by chunk id, then sorted
// descending. Returns fused chunk ids in order with their scores; the
// caller maps ids back to full result records, since the two input lists
// carry different record shapes and fuseRRF only needs identity and
// rank. Contributions are rank-only, never magnitude-weighted.
func fuseRRF(dense, bm25 []rankedID, topK int) []struct {
	ChunkID string
	Score   float64
} {
	scores := make(map[string]float64)
	var order []string

	addRank := func(list []rankedID) {
		for i, r := range list {
			if _, ok := scores[r.ChunkID]; !ok {
				order = append(order, r.ChunkID)
			}
			scores[r.ChunkID] += 1.0 / float64(rrfK+i+1)
		}
	}
	addRank(dense)
	addRank(bm25)

	// order starts in first-seen sequence, so equal fused scores keep a
	// stable, input-determined ranking.
	sort.SliceStable(order, func(i, j int) bool { return scores[order[i]] > scores[order[j]] })

	if topK > 0 && len(order) > topK {
		order = order[:topK]
	}

	out := make([]struct {
		ChunkID string
		Score   float64
	}, len(order))
	for i, id := range order {
		out[i].ChunkID = id
		out[i].Score = scores[id]
	}
	return out
}
