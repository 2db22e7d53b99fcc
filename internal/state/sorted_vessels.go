package state

import (
	fpmath "VesselLedger/internal/math"
	"bytes"
	"fmt"

	"github.com/google/btree"
	"github.com/google/uuid"
)

const sortedVesselsDegree = 32

type nicrEntry struct {
	NICR     fpmath.Amount
	Borrower uuid.UUID
}

// lessNICR orders by nominal ratio, then borrower id so that equal ratios
// still have a total order.
func lessNICR(a, b nicrEntry) bool {
	if c := a.NICR.Cmp(&b.NICR); c != 0 {
		return c < 0
	}
	return bytes.Compare(a.Borrower[:], b.Borrower[:]) < 0
}

// SortedVessels keeps each asset's active Vessels ordered by NICR, lowest
// first. Liquidation batches and redemptions walk it from the front.
type SortedVessels struct {
	trees map[string]*btree.BTreeG[nicrEntry]
	keys  map[VesselKey]fpmath.Amount // current NICR of every indexed Vessel
}

func NewSortedVessels() *SortedVessels {
	return &SortedVessels{
		trees: make(map[string]*btree.BTreeG[nicrEntry]),
		keys:  make(map[VesselKey]fpmath.Amount),
	}
}

func (sv *SortedVessels) tree(asset string) *btree.BTreeG[nicrEntry] {
	t, ok := sv.trees[asset]
	if !ok {
		t = btree.NewG[nicrEntry](sortedVesselsDegree, lessNICR)
		sv.trees[asset] = t
	}
	return t
}

// Insert adds a Vessel. Inserting an indexed Vessel is a programming error.
func (sv *SortedVessels) Insert(asset string, borrower uuid.UUID, nicr fpmath.Amount) {
	key := VesselKey{Asset: asset, Borrower: borrower}
	if _, exists := sv.keys[key]; exists {
		panic(fmt.Sprintf("FATAL: vessel %s/%s already in sorted index", asset, borrower))
	}
	sv.tree(asset).ReplaceOrInsert(nicrEntry{NICR: nicr, Borrower: borrower})
	sv.keys[key] = nicr
}

// Remove drops a Vessel; removing an unknown Vessel is a no-op.
func (sv *SortedVessels) Remove(asset string, borrower uuid.UUID) {
	key := VesselKey{Asset: asset, Borrower: borrower}
	nicr, exists := sv.keys[key]
	if !exists {
		return
	}
	sv.tree(asset).Delete(nicrEntry{NICR: nicr, Borrower: borrower})
	delete(sv.keys, key)
}

// ReInsert moves a Vessel to the position of its new NICR.
func (sv *SortedVessels) ReInsert(asset string, borrower uuid.UUID, nicr fpmath.Amount) {
	sv.Remove(asset, borrower)
	sv.Insert(asset, borrower, nicr)
}

func (sv *SortedVessels) Contains(asset string, borrower uuid.UUID) bool {
	_, ok := sv.keys[VesselKey{Asset: asset, Borrower: borrower}]
	return ok
}

func (sv *SortedVessels) Size(asset string) int {
	t, ok := sv.trees[asset]
	if !ok {
		return 0
	}
	return t.Len()
}

// First returns the Vessel with the lowest NICR.
func (sv *SortedVessels) First(asset string) (uuid.UUID, bool) {
	t, ok := sv.trees[asset]
	if !ok {
		return uuid.Nil, false
	}
	e, ok := t.Min()
	return e.Borrower, ok
}

// Ascend visits Vessels from the lowest NICR until fn returns false.
// fn must not modify the index; collect borrowers first, then mutate.
func (sv *SortedVessels) Ascend(asset string, fn func(borrower uuid.UUID, nicr fpmath.Amount) bool) {
	t, ok := sv.trees[asset]
	if !ok {
		return
	}
	t.Ascend(func(e nicrEntry) bool {
		return fn(e.Borrower, e.NICR)
	})
}

// LowestN returns up to n borrowers from the front of the index.
func (sv *SortedVessels) LowestN(asset string, n int) []uuid.UUID {
	out := make([]uuid.UUID, 0, n)
	sv.Ascend(asset, func(borrower uuid.UUID, _ fpmath.Amount) bool {
		if len(out) >= n {
			return false
		}
		out = append(out, borrower)
		return true
	})
	return out
}
