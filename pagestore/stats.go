// Per-table statistics used by the optimizer's cost model (spec §3, §4.2).
package pagestore

import "fmt"

// Statistics summarises a table's shape for costing.
type Statistics struct {
	TupleCount       int
	BlockCount       int
	TupleSize        int
	BlockingFactor    int // records per block
	EstimatedDistinct map[string]int
	IndexedColumns    []string
}

// computeStats derives Statistics from file length and a sampled set of
// blocks (at most five, spec §3).
func computeStats(h *HeapFile, sampleBlocks func() ([][]byte, error), indexed []string) (Statistics, error) {
	blockCount, err := h.BlockCount()
	if err != nil {
		return Statistics{}, err
	}
	recordSize := h.RecordSize()
	blockingFactor := FreeSpace(recordSize, 0) / (recordSize + slotBytes)
	if blockingFactor < 1 {
		blockingFactor = 1
	}

	samples, err := sampleBlocks()
	if err != nil {
		return Statistics{}, err
	}

	tupleCount := 0
	distinctSeen := map[string]map[string]struct{}{}
	for _, col := range h.schema.Columns {
		distinctSeen[col.Name] = map[string]struct{}{}
	}

	sampledBlocks := 0
	for _, page := range samples {
		records, err := Records(page, recordSize)
		if err != nil {
			continue
		}
		sampledBlocks++
		for _, rec := range records {
			row, err := DecodeRecord(h.schema, rec)
			if err != nil {
				continue
			}
			tupleCount++
			for name, v := range row.Values {
				distinctSeen[name][toDistinctKey(v)] = struct{}{}
			}
		}
	}

	// Extrapolate the sampled tuple count across the whole file when we
	// sampled fewer blocks than exist.
	if sampledBlocks > 0 && sampledBlocks < blockCount {
		tupleCount = tupleCount * blockCount / sampledBlocks
	}

	distinct := make(map[string]int, len(distinctSeen))
	for name, set := range distinctSeen {
		n := len(set)
		if sampledBlocks > 0 && sampledBlocks < blockCount && n > 0 {
			n = n * blockCount / sampledBlocks
		}
		if n < 1 {
			n = 1
		}
		distinct[name] = n
	}

	return Statistics{
		TupleCount:        tupleCount,
		BlockCount:        blockCount,
		TupleSize:         recordSize,
		BlockingFactor:    blockingFactor,
		EstimatedDistinct: distinct,
		IndexedColumns:    indexed,
	}, nil
}

func toDistinctKey(v Value) string {
	switch x := v.(type) {
	case string:
		return x
	default:
		return fmt.Sprintf("%v", x)
	}
}
