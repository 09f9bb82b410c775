//go:build linux

package stream

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// prependSize and initialBufferSize fix the two constants the muduo-derived
// design depends on: an 8-byte prepend reserve (enough for a length prefix
// to be back-written with no copy) and a 1 KiB starting payload region.
const (
	prependSize       = 8
	initialBufferSize = 1024

	// scratchSize is the stack scratch block used by ReadFd's scatter read,
	// letting one syscall absorb up to ~64 KiB regardless of the buffer's
	// current writable headroom.
	scratchSize = 65536
)

// Buffer is a contiguous byte region split into
// [prepend reserve | readable | writable], matching §4.11 exactly:
// 0 <= prependBytes, readerIdx <= writerIdx <= capacity, prependBytes == readerIdx.
type Buffer struct {
	buf       []byte
	readerIdx int
	writerIdx int
}

// NewBuffer returns an empty buffer with the standard reserve and initial
// capacity.
func NewBuffer() *Buffer {
	b := &Buffer{buf: make([]byte, prependSize+initialBufferSize)}
	b.readerIdx = prependSize
	b.writerIdx = prependSize
	return b
}

func (b *Buffer) ReadableBytes() int     { return b.writerIdx - b.readerIdx }
func (b *Buffer) WritableBytes() int     { return len(b.buf) - b.writerIdx }
func (b *Buffer) PrependableBytes() int  { return b.readerIdx }

// Peek returns the readable region without consuming it.
func (b *Buffer) Peek() []byte {
	return b.buf[b.readerIdx:b.writerIdx]
}

// Retrieve advances the reader index by n. Draining the buffer completely
// collapses both indices back to the reserve base so the next Append can
// reuse the full capacity.
func (b *Buffer) Retrieve(n int) {
	if n < b.ReadableBytes() {
		b.readerIdx += n
	} else {
		b.RetrieveAll()
	}
}

func (b *Buffer) RetrieveAll() {
	b.readerIdx = prependSize
	b.writerIdx = prependSize
}

// Append copies data into the writable region, growing as needed.
func (b *Buffer) Append(data []byte) {
	b.ensureWritable(len(data))
	copy(b.buf[b.writerIdx:], data)
	b.writerIdx += len(data)
}

// ensureWritable grows the buffer to hold n more bytes, either by shifting
// the readable bytes back to the reserve base (when the combined
// prepend+writable space is enough) or by reallocating.
func (b *Buffer) ensureWritable(n int) {
	if b.WritableBytes() >= n {
		return
	}
	if b.PrependableBytes()+b.WritableBytes() >= n+prependSize {
		readable := b.ReadableBytes()
		copy(b.buf[prependSize:], b.buf[b.readerIdx:b.writerIdx])
		b.readerIdx = prependSize
		b.writerIdx = prependSize + readable
	} else {
		newBuf := make([]byte, b.writerIdx+n)
		copy(newBuf, b.buf[:b.writerIdx])
		b.buf = newBuf
	}
}

// PrependUint32 writes a big-endian length prefix directly into the
// prepend reserve just ahead of the readable region, with no copy. Only
// valid immediately after filling the readable region via Append, before
// any Retrieve.
func (b *Buffer) PrependUint32(v uint32) {
	b.readerIdx -= 4
	binary.BigEndian.PutUint32(b.buf[b.readerIdx:], v)
}

// PeekUint32 reads (without consuming) the first 4 readable bytes as a
// big-endian uint32. Caller must ensure ReadableBytes() >= 4.
func (b *Buffer) PeekUint32() uint32 {
	return binary.BigEndian.Uint32(b.buf[b.readerIdx:])
}

// ReadFd performs a scatter read from fd: the kernel fills the buffer's
// existing writable tail first and spills any remainder into a stack
// scratch block, so a single syscall can absorb a full-size datagram/frame
// burst regardless of how little headroom the buffer currently has.
func (b *Buffer) ReadFd(fd int) (int, error) {
	var extra [scratchSize]byte
	writable := b.WritableBytes()

	iovs := [][]byte{b.buf[b.writerIdx:len(b.buf)], extra[:]}
	n, err := unix.Readv(fd, iovs)
	if err != nil {
		return 0, err
	}
	if n <= writable {
		b.writerIdx += n
	} else {
		b.writerIdx = len(b.buf)
		b.Append(extra[:n-writable])
	}
	return n, nil
}
