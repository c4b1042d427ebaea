package raftlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/mrshabel/treekeep/internal/fs"
	"go.uber.org/zap"
)

// preparedSegment is a freshly created, pre-allocated open segment file
// waiting to be claimed by the log.
type preparedSegment struct {
	filename string
	file     *fs.File
}

// preparedSegments is a bounded producer/consumer queue of open segment
// files. A background goroutine (the "segment
// preparer") consumes demand tokens and fulfills them by creating,
// pre-allocating, and header-writing a new open segment file, so that
// Append's rollover path almost never has to wait on disk I/O for a new
// file. The queue is modeled with two channels instead of a raw
// mutex+condvar pair (LogCabin's PreparedSegments), which is the more
// idiomatic Go shape for a bounded producer/consumer handoff; the
// invariant "|queue| + outstanding demand == capacity" holds by
// construction since demand tokens are only replenished once a queued
// segment is consumed.
type preparedSegments struct {
	capacity int
	demand   chan struct{}
	queue    chan preparedSegment
	done     chan struct{}
	once     sync.Once

	filenameCounter atomic.Uint64

	logger *zap.Logger
}

func newPreparedSegments(capacity int) *preparedSegments {
	if capacity < 1 {
		capacity = 1
	}
	p := &preparedSegments{
		capacity: capacity,
		demand:   make(chan struct{}, capacity),
		queue:    make(chan preparedSegment, capacity),
		done:     make(chan struct{}),
		logger:   zap.L().Named("segmentedlog.preparer"),
	}
	for i := 0; i < capacity; i++ {
		p.demand <- struct{}{}
	}
	return p
}

// foundFile ensures future filenames sort after fileID, called during
// recovery for every open-%d segment discovered on disk.
func (p *preparedSegments) foundFile(fileID uint64) {
	for {
		cur := p.filenameCounter.Load()
		if fileID < cur {
			return
		}
		if p.filenameCounter.CompareAndSwap(cur, fileID+1) {
			return
		}
	}
}

// start launches the background preparer goroutine, which creates new
// segment files in dir as demand tokens become available.
func (p *preparedSegments) start(dir string, allocBytes int64) {
	go func() {
		for {
			select {
			case <-p.done:
				return
			case <-p.demand:
				seg, err := p.prepare(dir, allocBytes)
				if err != nil {
					p.logger.Warn("failed to prepare open segment", zap.Error(err))
					// return the token so a future consumer can retry
					select {
					case p.demand <- struct{}{}:
					case <-p.done:
					}
					continue
				}
				select {
				case p.queue <- seg:
				case <-p.done:
					seg.file.Close()
					return
				}
			}
		}
	}()
}

func (p *preparedSegments) prepare(dir string, allocBytes int64) (preparedSegment, error) {
	id := p.filenameCounter.Add(1) - 1
	name := openSegmentFilename(id)
	f := fs.OpenFile(filepath.Join(dir, name), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err := fs.Allocate(f, allocBytes); err != nil {
		f.Close()
		return preparedSegment{}, fmt.Errorf("raftlog: allocate %s: %w", name, err)
	}
	if err := writeSegmentHeader(f); err != nil {
		f.Close()
		return preparedSegment{}, err
	}
	fs.Fsync(f)
	return preparedSegment{filename: name, file: f}, nil
}

// waitForOpenSegment blocks until a prepared segment is available, then
// returns it and replenishes one demand token.
func (p *preparedSegments) waitForOpenSegment() (preparedSegment, bool) {
	select {
	case seg := <-p.queue:
		select {
		case p.demand <- struct{}{}:
		default:
		}
		return seg, true
	case <-p.done:
		return preparedSegment{}, false
	}
}

// exit stops the background preparer and unblocks any waiters.
func (p *preparedSegments) exit() {
	p.once.Do(func() { close(p.done) })
}
