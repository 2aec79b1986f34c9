package services

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"
	"strings"

	"aegis/contexts/recommendation-optimization/experimentation-engine/domain/entities"
)

type BucketSalting string

const (
	// BucketSaltingExperiment hashes experiment id and subject id together so
	// bucket positions are independent across experiments.
	BucketSaltingExperiment BucketSalting = "experiment"
	// BucketSaltingSubject hashes the subject id alone; a subject lands on the
	// same position in every experiment.
	BucketSaltingSubject BucketSalting = "subject"
)

// ParseBucketSalting falls back to experiment salting for unknown values.
func ParseBucketSalting(raw string) BucketSalting {
	if BucketSalting(strings.ToLower(strings.TrimSpace(raw))) == BucketSaltingSubject {
		return BucketSaltingSubject
	}
	return BucketSaltingExperiment
}

const bucketSpace = 100.0

// BucketValue maps a subject onto [0, 100). The value is a pure function of
// its inputs so it is stable across process restarts.
func BucketValue(salting BucketSalting, experimentID string, subjectID string) float64 {
	key := strings.TrimSpace(subjectID)
	if salting != BucketSaltingSubject {
		key = strings.TrimSpace(experimentID) + ":" + key
	}
	sum := sha256.Sum256([]byte(key))
	// Top 53 bits fit a float64 mantissa exactly.
	n := binary.BigEndian.Uint64(sum[:8]) >> 11
	return float64(n) / float64(uint64(1)<<53) * bucketSpace
}

// SortVariantsForBucketing orders variants lexicographically by id, the fixed
// order the cumulative walk relies on.
func SortVariantsForBucketing(variants []entities.Variant) []entities.Variant {
	ordered := append([]entities.Variant(nil), variants...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].VariantID < ordered[j].VariantID
	})
	return ordered
}

// SelectVariant walks variants in id order accumulating traffic percentages
// and returns the first one whose cumulative share reaches bucket. When
// rounding leaves the total short of bucket the last variant is used.
func SelectVariant(variants []entities.Variant, bucket float64) (entities.Variant, bool) {
	if len(variants) == 0 {
		return entities.Variant{}, false
	}
	ordered := SortVariantsForBucketing(variants)
	cumulative := 0.0
	for _, variant := range ordered {
		cumulative += variant.TrafficPercentage
		if bucket <= cumulative {
			return variant, true
		}
	}
	return ordered[len(ordered)-1], true
}
