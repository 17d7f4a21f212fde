package lsm

import (
	"encoding/binary"
	"hash/crc32"
	"os"
	"sort"

	"github.com/coredb/engine/internal/coreerr"
)

// sstable on-disk layout (spec §6 "SSTable file"):
//
//	[block 0][block 1]...[block N]   each: crc32c(4) length(4) records...
//	[min key bytes][max key bytes][bloom filter bytes][sparse index bytes]
//	[footer: fixed-size trailer at EOF]
//
// Each record within a block: keyLen(4) key version(8) tombstone(1) valLen(4) val.
const (
	sstMagic      = 0x53535442 // "SSTB"
	sstVersion    = 1
	footerSize    = 4 + 2 + 8 + 8 + 8 + 8 + 4 + 8 + 4 + 8
	targetBlockSz = 4096
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

func putUint32(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }
func putUint64(b []byte, v uint64) { binary.LittleEndian.PutUint64(b, v) }
func getUint32(b []byte) uint32    { return binary.LittleEndian.Uint32(b) }
func getUint64(b []byte) uint64    { return binary.LittleEndian.Uint64(b) }

type indexEntry struct {
	firstKey string
	offset   int64
}

// sstable is an immutable sorted run (I-S4). level/id are the compaction
// scheduler's coordinates for it; the rest is read off disk lazily.
type sstable struct {
	path   string
	level  int
	id     uint64
	minKey string
	maxKey string
	count  uint64
	bloom  *bloomFilter
	index  []indexEntry
}

// writeSSTable serializes sorted entries (ascending by key, exactly one
// entry per key per spec's k-way merge contract) to path and returns the
// resulting sstable descriptor.
func writeSSTable(path string, level int, id uint64, entries []kv, fpRate float64) (*sstable, error) {
	if len(entries) == 0 {
		return nil, coreerr.New(coreerr.KindInvalidInput, "lsm.writeSSTable", nil)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, coreerr.New(coreerr.KindIoError, "lsm.writeSSTable", err)
	}
	defer f.Close()

	bloom := newBloomFilter(len(entries), fpRate)
	var index []indexEntry
	var offset int64

	var block []byte
	blockFirstKey := ""
	flushBlock := func() error {
		if len(block) == 0 {
			return nil
		}
		sum := crc32.Checksum(block, crcTable)
		hdr := make([]byte, 8)
		putUint32(hdr[0:4], sum)
		putUint32(hdr[4:8], uint32(len(block)))
		if _, err := f.Write(hdr); err != nil {
			return err
		}
		if _, err := f.Write(block); err != nil {
			return err
		}
		index = append(index, indexEntry{firstKey: blockFirstKey, offset: offset})
		offset += int64(len(hdr) + len(block))
		block = block[:0]
		return nil
	}

	for _, e := range entries {
		bloom.add([]byte(e.key))
		if len(block) == 0 {
			blockFirstKey = e.key
		}
		rec := encodeRecord(e.key, e.entry)
		block = append(block, rec...)
		if len(block) >= targetBlockSz {
			if err := flushBlock(); err != nil {
				return nil, coreerr.New(coreerr.KindIoError, "lsm.writeSSTable", err)
			}
		}
	}
	if err := flushBlock(); err != nil {
		return nil, coreerr.New(coreerr.KindIoError, "lsm.writeSSTable", err)
	}

	minKey := entries[0].key
	maxKey := entries[len(entries)-1].key
	minKeyOff := offset
	if _, err := f.Write([]byte(minKey)); err != nil {
		return nil, coreerr.New(coreerr.KindIoError, "lsm.writeSSTable", err)
	}
	offset += int64(len(minKey))
	maxKeyOff := offset
	if _, err := f.Write([]byte(maxKey)); err != nil {
		return nil, coreerr.New(coreerr.KindIoError, "lsm.writeSSTable", err)
	}
	offset += int64(len(maxKey))

	bloomOff := offset
	bloomBytes := bloom.marshal()
	if _, err := f.Write(bloomBytes); err != nil {
		return nil, coreerr.New(coreerr.KindIoError, "lsm.writeSSTable", err)
	}
	offset += int64(len(bloomBytes))

	indexOff := offset
	for _, ie := range index {
		kb := []byte(ie.firstKey)
		hdr := make([]byte, 4+8)
		putUint32(hdr[0:4], uint32(len(kb)))
		putUint64(hdr[4:12], uint64(ie.offset))
		if _, err := f.Write(hdr); err != nil {
			return nil, coreerr.New(coreerr.KindIoError, "lsm.writeSSTable", err)
		}
		if _, err := f.Write(kb); err != nil {
			return nil, coreerr.New(coreerr.KindIoError, "lsm.writeSSTable", err)
		}
	}

	footer := make([]byte, footerSize)
	o := 0
	putUint32(footer[o:o+4], sstMagic)
	o += 4
	binary.LittleEndian.PutUint16(footer[o:o+2], sstVersion)
	o += 2
	putUint64(footer[o:o+8], uint64(indexOff))
	o += 8
	putUint64(footer[o:o+8], uint64(bloomOff))
	o += 8
	putUint64(footer[o:o+8], uint64(minKeyOff))
	o += 8
	putUint64(footer[o:o+8], uint64(len(minKey)))
	o += 8
	putUint32(footer[o:o+4], uint32(len(maxKey)))
	o += 4
	putUint64(footer[o:o+8], uint64(maxKeyOff))
	o += 8
	putUint32(footer[o:o+4], uint32(len(index)))
	o += 4
	putUint64(footer[o:o+8], uint64(len(entries)))
	if _, err := f.Write(footer); err != nil {
		return nil, coreerr.New(coreerr.KindIoError, "lsm.writeSSTable", err)
	}
	if err := f.Sync(); err != nil {
		return nil, coreerr.New(coreerr.KindIoError, "lsm.writeSSTable", err)
	}

	return &sstable{
		path: path, level: level, id: id,
		minKey: minKey, maxKey: maxKey, count: uint64(len(entries)),
		bloom: bloom, index: index,
	}, nil
}

func encodeRecord(key string, e entry) []byte {
	kb := []byte(key)
	vb := e.value
	buf := make([]byte, 4+len(kb)+8+1+4+len(vb))
	o := 0
	putUint32(buf[o:o+4], uint32(len(kb)))
	o += 4
	copy(buf[o:], kb)
	o += len(kb)
	putUint64(buf[o:o+8], e.version)
	o += 8
	if e.tombstone {
		buf[o] = 1
	}
	o++
	putUint32(buf[o:o+4], uint32(len(vb)))
	o += 4
	copy(buf[o:], vb)
	return buf
}

func decodeRecords(block []byte) []kv {
	var out []kv
	o := 0
	for o < len(block) {
		klen := int(getUint32(block[o : o+4]))
		o += 4
		key := string(block[o : o+klen])
		o += klen
		version := getUint64(block[o : o+8])
		o += 8
		tomb := block[o] == 1
		o++
		vlen := int(getUint32(block[o : o+4]))
		o += 4
		val := block[o : o+vlen]
		o += vlen
		out = append(out, kv{key: key, entry: entry{value: val, version: version, tombstone: tomb}})
	}
	return out
}

// openSSTable reads the footer and index off disk without loading data
// blocks (lazy read path, per spec §4.6's bloom-then-binary-search probe).
func openSSTable(path string, level int, id uint64) (*sstable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, coreerr.New(coreerr.KindIoError, "lsm.openSSTable", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, coreerr.New(coreerr.KindIoError, "lsm.openSSTable", err)
	}
	if stat.Size() < footerSize {
		return nil, coreerr.New(coreerr.KindChecksumMismatch, "lsm.openSSTable", nil)
	}
	footer := make([]byte, footerSize)
	if _, err := f.ReadAt(footer, stat.Size()-footerSize); err != nil {
		return nil, coreerr.New(coreerr.KindIoError, "lsm.openSSTable", err)
	}
	o := 0
	magic := getUint32(footer[o : o+4])
	o += 4
	if magic != sstMagic {
		return nil, coreerr.New(coreerr.KindChecksumMismatch, "lsm.openSSTable", nil)
	}
	o += 2 // version, unused for now
	indexOff := int64(getUint64(footer[o : o+8]))
	o += 8
	bloomOff := int64(getUint64(footer[o : o+8]))
	o += 8
	minKeyOff := int64(getUint64(footer[o : o+8]))
	o += 8
	minKeyLen := int(getUint64(footer[o : o+8]))
	o += 8
	maxKeyLen := int(getUint32(footer[o : o+4]))
	o += 4
	maxKeyOff := int64(getUint64(footer[o : o+8]))
	o += 8
	numIndexEntries := int(getUint32(footer[o : o+4]))
	o += 4
	numEntries := getUint64(footer[o : o+8])

	minKey := make([]byte, minKeyLen)
	if _, err := f.ReadAt(minKey, minKeyOff); err != nil {
		return nil, coreerr.New(coreerr.KindIoError, "lsm.openSSTable", err)
	}
	maxKey := make([]byte, maxKeyLen)
	if _, err := f.ReadAt(maxKey, maxKeyOff); err != nil {
		return nil, coreerr.New(coreerr.KindIoError, "lsm.openSSTable", err)
	}
	bloomBytes := make([]byte, indexOff-bloomOff)
	if _, err := f.ReadAt(bloomBytes, bloomOff); err != nil {
		return nil, coreerr.New(coreerr.KindIoError, "lsm.openSSTable", err)
	}

	idxBytes := make([]byte, stat.Size()-footerSize-indexOff)
	if _, err := f.ReadAt(idxBytes, indexOff); err != nil {
		return nil, coreerr.New(coreerr.KindIoError, "lsm.openSSTable", err)
	}
	index := make([]indexEntry, 0, numIndexEntries)
	p := 0
	for i := 0; i < numIndexEntries; i++ {
		klen := int(getUint32(idxBytes[p : p+4]))
		p += 4
		off := int64(getUint64(idxBytes[p : p+8]))
		p += 8
		key := string(idxBytes[p : p+klen])
		p += klen
		index = append(index, indexEntry{firstKey: key, offset: off})
	}

	return &sstable{
		path: path, level: level, id: id,
		minKey: string(minKey), maxKey: string(maxKey), count: numEntries,
		bloom: unmarshalBloom(bloomBytes), index: index,
	}, nil
}

// get probes the bloom filter, then binary-searches the sparse index to
// find the containing block, then linear-scans that block (spec §4.6 read
// path: "a negative short-circuits; a positive proceeds to binary search").
func (s *sstable) get(key string) (entry, bool, error) {
	if key < s.minKey || key > s.maxKey {
		return entry{}, false, nil
	}
	if !s.bloom.mayContain([]byte(key)) {
		return entry{}, false, nil
	}
	i := sort.Search(len(s.index), func(i int) bool { return s.index[i].firstKey > key })
	if i == 0 {
		return entry{}, false, nil
	}
	blockOff := s.index[i-1].offset

	f, err := os.Open(s.path)
	if err != nil {
		return entry{}, false, coreerr.New(coreerr.KindIoError, "lsm.sstable.get", err)
	}
	defer f.Close()

	hdr := make([]byte, 8)
	if _, err := f.ReadAt(hdr, blockOff); err != nil {
		return entry{}, false, coreerr.New(coreerr.KindIoError, "lsm.sstable.get", err)
	}
	wantCRC := getUint32(hdr[0:4])
	blen := getUint32(hdr[4:8])
	block := make([]byte, blen)
	if _, err := f.ReadAt(block, blockOff+8); err != nil {
		return entry{}, false, coreerr.New(coreerr.KindIoError, "lsm.sstable.get", err)
	}
	if crc32.Checksum(block, crcTable) != wantCRC {
		return entry{}, false, coreerr.New(coreerr.KindChecksumMismatch, "lsm.sstable.get", nil)
	}
	for _, rec := range decodeRecords(block) {
		if rec.key == key {
			return rec.entry, true, nil
		}
	}
	return entry{}, false, nil
}

// scanAll reads and verifies every block, returning all records in file
// order (ascending by key). Used by compaction's k-way merge.
func (s *sstable) scanAll() ([]kv, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, coreerr.New(coreerr.KindIoError, "lsm.sstable.scanAll", err)
	}
	defer f.Close()

	var out []kv
	for _, ie := range s.index {
		hdr := make([]byte, 8)
		if _, err := f.ReadAt(hdr, ie.offset); err != nil {
			return nil, coreerr.New(coreerr.KindIoError, "lsm.sstable.scanAll", err)
		}
		wantCRC := getUint32(hdr[0:4])
		blen := getUint32(hdr[4:8])
		block := make([]byte, blen)
		if _, err := f.ReadAt(block, ie.offset+8); err != nil {
			return nil, coreerr.New(coreerr.KindIoError, "lsm.sstable.scanAll", err)
		}
		if crc32.Checksum(block, crcTable) != wantCRC {
			return nil, coreerr.New(coreerr.KindChecksumMismatch, "lsm.sstable.scanAll", nil)
		}
		out = append(out, decodeRecords(block)...)
	}
	return out, nil
}
