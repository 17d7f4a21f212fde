package page

import (
	"encoding/binary"
	"fmt"
)

// Slot directory entries sit immediately after the fixed header and grow
// forward; records are packed from the end of the page and grow backward.
// A slot with offset==0 and length==0 is a tombstone (I-P3: no two
// non-empty slots overlap — tombstones carry no span).
const slotEntrySize = 4 // offset uint16 + length uint16

// SlotID identifies a record's position in a page's slot directory.
type SlotID uint16

// Slotted wraps a page buffer with record-level operations (spec §4.3).
type Slotted struct {
	buf []byte
}

// Slot describes one directory entry.
type Slot struct {
	Offset uint16
	Length uint16
}

// Wrap adapts an existing page buffer (already initialized via page.New)
// for slotted-record access.
func Wrap(buf []byte) *Slotted { return &Slotted{buf: buf} }

func slotDirOffset(i int) int { return HeaderSize + i*slotEntrySize }

func (s *Slotted) slotDirEnd() int { return slotDirOffset(int(NumSlots(s.buf))) }

func (s *Slotted) getSlot(i int) Slot {
	off := slotDirOffset(i)
	return Slot{
		Offset: binary.LittleEndian.Uint16(s.buf[off:]),
		Length: binary.LittleEndian.Uint16(s.buf[off+2:]),
	}
}

func (s *Slotted) setSlot(i int, e Slot) {
	off := slotDirOffset(i)
	binary.LittleEndian.PutUint16(s.buf[off:], e.Offset)
	binary.LittleEndian.PutUint16(s.buf[off+2:], e.Length)
}

// IsDeleted reports whether slot i is a tombstone.
func (s *Slotted) IsDeleted(i SlotID) bool {
	e := s.getSlot(int(i))
	return e.Offset == 0 && e.Length == 0
}

// NumSlots returns the slot directory length (including tombstones).
func (s *Slotted) NumSlots() int { return int(NumSlots(s.buf)) }

// GetRecord returns the raw bytes for slot i, or nil if it is a tombstone.
func (s *Slotted) GetRecord(i SlotID) []byte {
	if int(i) >= s.NumSlots() {
		return nil
	}
	e := s.getSlot(int(i))
	if e.Offset == 0 && e.Length == 0 {
		return nil
	}
	return s.buf[e.Offset : e.Offset+e.Length]
}

// freeBytes is the space available for a new record, accounting for the
// directory entry it would also need.
func (s *Slotted) freeBytes() int {
	return int(FreeSpaceOffset(s.buf)) - s.slotDirEnd() - slotEntrySize
}

// InsertRecord packs data at the free-space high-water mark and writes a
// directory entry, reusing a tombstoned slot if one exists. Returns the
// assigned SlotID.
func (s *Slotted) InsertRecord(data []byte) (SlotID, error) {
	needed := len(data)
	reuse := s.findTombstone()
	extra := 0
	if reuse < 0 {
		extra = slotEntrySize
	}
	if s.freeBytes()+slotEntrySize-extra < needed {
		return 0, fmt.Errorf("page full: need %d bytes, have %d", needed, s.freeBytes())
	}

	newEnd := int(FreeSpaceOffset(s.buf)) - needed
	copy(s.buf[newEnd:], data)
	setFreeSpaceOffset(s.buf, uint16(newEnd))

	var slot int
	if reuse >= 0 {
		slot = reuse
		s.setSlot(slot, Slot{Offset: uint16(newEnd), Length: uint16(needed)})
	} else {
		slot = s.NumSlots()
		s.setSlot(slot, Slot{Offset: uint16(newEnd), Length: uint16(needed)})
		setNumSlots(s.buf, uint16(slot+1))
	}
	// free_space is logical accounting (I-P2): every live slot costs its
	// record bytes plus one directory entry, whether or not the entry's
	// array position was physically new or reused from a tombstone.
	s.adjustFreeSpace(-(needed + slotEntrySize))
	return SlotID(slot), nil
}

func (s *Slotted) findTombstone() int {
	for i := 0; i < s.NumSlots(); i++ {
		if s.IsDeleted(SlotID(i)) {
			return i
		}
	}
	return -1
}

// DeleteRecord tombstones slot i; physical space reclamation happens lazily
// via Compact.
func (s *Slotted) DeleteRecord(i SlotID) error {
	if int(i) >= s.NumSlots() {
		return fmt.Errorf("slot %d out of range [0,%d)", i, s.NumSlots())
	}
	old := s.getSlot(int(i))
	if old.Offset == 0 && old.Length == 0 {
		return nil // already deleted
	}
	s.setSlot(int(i), Slot{})
	s.adjustFreeSpace(int(old.Length) + slotEntrySize)
	return nil
}

// UpdateRecord replaces slot i's data. If it fits in the existing span it
// is updated in place; otherwise the slot is tombstoned and reinserted.
func (s *Slotted) UpdateRecord(i SlotID, data []byte) error {
	if int(i) >= s.NumSlots() {
		return fmt.Errorf("slot %d out of range [0,%d)", i, s.NumSlots())
	}
	old := s.getSlot(int(i))
	if old.Offset == 0 && old.Length == 0 {
		return fmt.Errorf("slot %d is deleted", i)
	}
	if int(old.Length) >= len(data) {
		copy(s.buf[old.Offset:], data)
		for j := int(old.Offset) + len(data); j < int(old.Offset)+int(old.Length); j++ {
			s.buf[j] = 0
		}
		s.setSlot(int(i), Slot{Offset: old.Offset, Length: uint16(len(data))})
		s.adjustFreeSpace(int(old.Length) - len(data))
		return nil
	}
	s.setSlot(int(i), Slot{})
	if s.freeBytes() < len(data) {
		// restore and fail rather than losing the old record silently
		s.setSlot(int(i), old)
		return fmt.Errorf("page full on update: need %d bytes", len(data))
	}
	newEnd := int(FreeSpaceOffset(s.buf)) - len(data)
	copy(s.buf[newEnd:], data)
	setFreeSpaceOffset(s.buf, uint16(newEnd))
	s.setSlot(int(i), Slot{Offset: uint16(newEnd), Length: uint16(len(data))})
	s.adjustFreeSpace(int(old.Length) - len(data))
	return nil
}

// Compact repacks live records to the end of the page, eliminating
// fragmentation left by deletions, preserving slot indices.
func (s *Slotted) Compact() {
	type live struct {
		slot int
		data []byte
	}
	var entries []live
	for i := 0; i < s.NumSlots(); i++ {
		if !s.IsDeleted(SlotID(i)) {
			rec := s.GetRecord(SlotID(i))
			cp := make([]byte, len(rec))
			copy(cp, rec)
			entries = append(entries, live{slot: i, data: cp})
		}
	}
	setFreeSpaceOffset(s.buf, uint16(len(s.buf)))
	for _, e := range entries {
		newEnd := int(FreeSpaceOffset(s.buf)) - len(e.data)
		copy(s.buf[newEnd:], e.data)
		setFreeSpaceOffset(s.buf, uint16(newEnd))
		s.setSlot(e.slot, Slot{Offset: uint16(newEnd), Length: uint16(len(e.data))})
	}
	// Compact only defragments physical layout; it does not change the
	// logical free_space accounting maintained incrementally elsewhere.
}

// NeedsCompaction applies the >30%-empty-slots heuristic of spec §4.3.
func (s *Slotted) NeedsCompaction() bool {
	n := s.NumSlots()
	if n == 0 {
		return false
	}
	empty := 0
	for i := 0; i < n; i++ {
		if s.IsDeleted(SlotID(i)) {
			empty++
		}
	}
	return float64(empty)/float64(n) > 0.3
}

// NeedsSplit reports whether utilization exceeds the page-split threshold
// (default 80%).
func (s *Slotted) NeedsSplit() bool {
	used := len(s.buf) - int(FreeSpace(s.buf))
	return float64(used)/float64(len(s.buf)) > 0.8
}

// LiveRecords returns the count of non-tombstoned slots.
func (s *Slotted) LiveRecords() int {
	n := 0
	for i := 0; i < s.NumSlots(); i++ {
		if !s.IsDeleted(SlotID(i)) {
			n++
		}
	}
	return n
}

// adjustFreeSpace applies a signed delta to the header's logical free_space
// counter (I-P2).
func (s *Slotted) adjustFreeSpace(delta int) {
	cur := int(FreeSpace(s.buf)) + delta
	if cur < 0 {
		cur = 0
	}
	setFreeSpace(s.buf, uint16(cur))
}

// Bytes returns the underlying page buffer.
func (s *Slotted) Bytes() []byte { return s.buf }

// Split distributes this page's live records between itself and a freshly
// initialized destination page of the same size, used when NeedsSplit is
// true. Records [0, mid) stay; [mid, n) move to dst.
func (s *Slotted) Split(dst *Slotted) error {
	n := s.LiveRecords()
	mid := n / 2
	seen := 0
	for i := 0; i < s.NumSlots(); i++ {
		if s.IsDeleted(SlotID(i)) {
			continue
		}
		if seen >= mid {
			rec := s.GetRecord(SlotID(i))
			if _, err := dst.InsertRecord(rec); err != nil {
				return err
			}
			if err := s.DeleteRecord(SlotID(i)); err != nil {
				return err
			}
		}
		seen++
	}
	s.Compact()
	return nil
}
