package raftlog

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/mrshabel/treekeep/internal/fs"
)

// segmentHeaderSize is the one-byte version header every segment file
// starts with (a header byte precedes any records; the only defined
// version is 1).
const segmentHeaderSize = 1
const segmentHeaderVersion = 1

var closedSegmentRE = regexp.MustCompile(`^(\d{20})-(\d{20})$`)
var openSegmentRE = regexp.MustCompile(`^open-(\d+)$`)

func closedSegmentFilename(start, end uint64) string {
	return fmt.Sprintf("%020d-%020d", start, end)
}

func openSegmentFilename(id uint64) string {
	return fmt.Sprintf("open-%d", id)
}

// segmentRecord pairs a decoded entry with its byte offset within the
// segment file, needed to support truncateSuffix shrinking a segment in
// place.
type segmentRecord struct {
	offset uint64
	entry  Entry
}

// segment is an open or closed segment file, kept fully loaded in
// memory (its entries) alongside the backing *fs.File, following
// gumlog's segment.go (store+index per segment) generalized to a
// single self-describing record stream.
type segment struct {
	isOpen     bool
	startIndex uint64
	endIndex   uint64 // startIndex-1 if open and empty
	bytes      uint64 // includes the header byte
	filename   string

	file    *fs.File
	records []segmentRecord
}

func (s *segment) makeClosedFilename() string {
	return closedSegmentFilename(s.startIndex, s.endIndex)
}

// writeSegmentHeader writes the one-byte segment version header to a freshly
// created segment file.
func writeSegmentHeader(f *fs.File) error {
	n := fs.Write(f, []byte{segmentHeaderVersion})
	if n != segmentHeaderSize {
		return fmt.Errorf("raftlog: short write of segment header to %s", f.Name())
	}
	return nil
}

func readSegmentHeader(data []byte) (ok bool) {
	return len(data) >= segmentHeaderSize && data[0] == segmentHeaderVersion
}

// parseSegmentFilename classifies a directory entry name.
func parseSegmentFilename(name string) (seg segment, matched bool) {
	if m := closedSegmentRE.FindStringSubmatch(name); m != nil {
		start, err1 := strconv.ParseUint(m[1], 10, 64)
		end, err2 := strconv.ParseUint(m[2], 10, 64)
		if err1 != nil || err2 != nil {
			return segment{}, false
		}
		return segment{isOpen: false, startIndex: start, endIndex: end, filename: name}, true
	}
	if m := openSegmentRE.FindStringSubmatch(name); m != nil {
		return segment{isOpen: true, filename: name}, true
	}
	return segment{}, false
}

func openSegmentFileID(name string) (uint64, bool) {
	m := openSegmentRE.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
