package core

import (
	"errors"
	"fmt"
)

var (
	ErrSequenceGap = errors.New("sequence gap")
	ErrOutOfOrder  = errors.New("out-of-order event")
)

// GlobalPartition carries wallet commands that name no asset.
const GlobalPartition = "global"

// AssetPartition is the partition of commands scoped to one asset.
func AssetPartition(asset string) string {
	return "asset:" + asset
}

// PricePartition is the partition of an asset's oracle feed.
func PricePartition(asset string) string {
	return "price:" + asset
}

// SequenceValidator tracks the next source sequence per partition.
// Not thread-safe: only accessed from the single-threaded deterministic core.
type SequenceValidator struct {
	next map[string]int64
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{next: make(map[string]int64)}
}

// ValidateSequence accepts exactly the next sequence of a partition. A
// lower sequence is fine for a redelivered duplicate and an error
// otherwise; a higher one is a gap and the command must wait.
func (sv *SequenceValidator) ValidateSequence(partition string, sourceSequence int64, isDuplicate bool) error {
	expected := sv.next[partition]
	switch {
	case sourceSequence == expected:
		sv.next[partition] = expected + 1
		return nil
	case sourceSequence < expected:
		if isDuplicate {
			return nil
		}
		return fmt.Errorf("%w: partition=%s, expected=%d, got=%d", ErrOutOfOrder, partition, expected, sourceSequence)
	default:
		return fmt.Errorf("%w: partition=%s, expected=%d, got=%d", ErrSequenceGap, partition, expected, sourceSequence)
	}
}

// ValidatePriceSequence accepts any oracle update newer than the last
// accepted one. stale reports an update to drop; skipped is how many
// sequences the update jumped over.
func (sv *SequenceValidator) ValidatePriceSequence(asset string, priceSequence int64) (stale bool, skipped int64) {
	partition := PricePartition(asset)
	expected, seen := sv.next[partition]
	if seen {
		if priceSequence < expected {
			return true, 0
		}
		skipped = priceSequence - expected
	}
	sv.next[partition] = priceSequence + 1
	return false, skipped
}

// Expected returns the next sequence a partition accepts.
func (sv *SequenceValidator) Expected(partition string) int64 {
	return sv.next[partition]
}

// Restore sets a partition's next sequence from a snapshot.
func (sv *SequenceValidator) Restore(partition string, next int64) {
	sv.next[partition] = next
}

// Partitions copies the next sequence of every partition.
func (sv *SequenceValidator) Partitions() map[string]int64 {
	out := make(map[string]int64, len(sv.next))
	for partition, next := range sv.next {
		out[partition] = next
	}
	return out
}
