package indexer

import "sort"

// FindMissingIndexes returns every index between 1 and the largest given index that is absent.
// Fewer than two indexes never report a gap.
func FindMissingIndexes(indexes []uint64) []uint64 {
	missing := []uint64{}
	if len(indexes) <= 1 {
		return missing
	}

	present := make(map[uint64]struct{}, len(indexes))
	var last uint64
	for _, index := range indexes {
		present[index] = struct{}{}
		if index > last {
			last = index
		}
	}

	for i := uint64(1); i < last; i++ {
		if _, ok := present[i]; !ok {
			missing = append(missing, i)
		}
	}
	return missing
}

// NonceGaps reports the nonces missing between the smallest and largest of nonces.
func NonceGaps(nonces []uint64) []uint64 {
	if len(nonces) <= 1 {
		return []uint64{}
	}

	sorted := append([]uint64(nil), nonces...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	// shift so the smallest nonce becomes index 1
	offset := sorted[0] - 1
	normalized := make([]uint64, len(sorted))
	for i, nonce := range sorted {
		normalized[i] = nonce - offset
	}

	gaps := FindMissingIndexes(normalized)
	for i := range gaps {
		gaps[i] += offset
	}
	return gaps
}
