package recall

import (
	"math"
	"sort"
)

const (
	DefaultK1 = 1.5
	DefaultB  = 0.75
	// DefaultCoverageBonus is added in proportion to the share of distinct
	// query terms a document contains.
	DefaultCoverageBonus = 1.5
)

// Params tunes BM25 scoring.
type Params struct {
	K1            float64
	B             float64
	CoverageBonus float64
}

// DefaultParams returns k1=1.5, b=0.75 and the default coverage bonus.
func DefaultParams() Params {
	return Params{K1: DefaultK1, B: DefaultB, CoverageBonus: DefaultCoverageBonus}
}

// Document is one tokenized entry of the corpus.
type Document struct {
	ID     int64
	Tokens []string
}

type indexedDoc struct {
	id     int64
	length int
	tf     map[string]int
}

// Index is an immutable BM25 index. Build a new one to reflect corpus changes.
type Index struct {
	params Params
	docs   []indexedDoc
	df     map[string]int
	avgdl  float64
}

// Scored is a document id with its relevance score.
type Scored struct {
	ID    int64
	Score float64
}

// Build indexes docs with the given parameters.
func Build(docs []Document, params Params) *Index {
	ix := &Index{
		params: params,
		docs:   make([]indexedDoc, 0, len(docs)),
		df:     make(map[string]int),
	}

	total := 0
	for _, doc := range docs {
		tf := make(map[string]int, len(doc.Tokens))
		for _, tok := range doc.Tokens {
			tf[tok]++
		}
		for tok := range tf {
			ix.df[tok]++
		}
		ix.docs = append(ix.docs, indexedDoc{id: doc.ID, length: len(doc.Tokens), tf: tf})
		total += len(doc.Tokens)
	}
	if len(ix.docs) > 0 {
		ix.avgdl = float64(total) / float64(len(ix.docs))
	}
	return ix
}

// Len returns the number of indexed documents.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.docs)
}

// idf uses the non-negative Lucene form so that terms present in every
// document still contribute a small positive weight.
func (ix *Index) idf(term string) float64 {
	n := float64(ix.df[term])
	total := float64(len(ix.docs))
	return math.Log(1 + (total-n+0.5)/(n+0.5))
}

// Score returns one entry per document in index order. Documents sharing no
// term with the query score 0.
func (ix *Index) Score(query []string) []Scored {
	if ix.Len() == 0 {
		return nil
	}

	terms := distinct(query)
	out := make([]Scored, len(ix.docs))
	for i, doc := range ix.docs {
		score := 0.0
		matched := 0
		for _, term := range terms {
			freq := float64(doc.tf[term])
			if freq == 0 {
				continue
			}
			matched++
			norm := 1 - ix.params.B
			if ix.avgdl > 0 {
				norm += ix.params.B * float64(doc.length) / ix.avgdl
			}
			score += ix.idf(term) * freq * (ix.params.K1 + 1) / (freq + ix.params.K1*norm)
		}
		if matched > 0 && len(terms) > 0 {
			score += ix.params.CoverageBonus * float64(matched) / float64(len(terms))
		}
		out[i] = Scored{ID: doc.id, Score: score}
	}
	return out
}

// Rank sorts scored entries by descending score (ties by ascending id), drops
// those at or below minScore and keeps at most limit.
func Rank(scored []Scored, minScore float64, limit int) []Scored {
	kept := make([]Scored, 0, len(scored))
	for _, s := range scored {
		if s.Score > minScore {
			kept = append(kept, s)
		}
	}

	sort.Slice(kept, func(i, j int) bool {
		if kept[i].Score == kept[j].Score {
			return kept[i].ID < kept[j].ID
		}
		return kept[i].Score > kept[j].Score
	})

	return applyLimits(kept, limit)
}

func applyLimits(results []Scored, limit int) []Scored {
	if limit <= 0 {
		return results[:0]
	}
	if len(results) > limit {
		return results[:limit]
	}
	return results
}

func distinct(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}
