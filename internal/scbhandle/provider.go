// Package scbhandle maps a single worker's Shared Control Block out of
// the kernel-exposed SCB map and exposes typed atomic accessors plus
// the acknowledgement protocol (spec.md §4.1). A Handle is created at
// worker registration, destroyed at worker teardown, and must never be
// used from a thread other than the one that created it.
package scbhandle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/ankitkpandey1/morpheus/internal/scb"
)

// ErrOutOfBounds is returned when an offset/size falls outside the
// backing buffer.
var ErrOutOfBounds = errors.New("scbhandle: offset out of bounds")

// MemoryProvider abstracts access to the SCB map's backing storage.
// Implementations may be backed by an mmap'd file (NativeProvider,
// standing in for the kernel-exposed SCB map) or a plain byte slice
// (InMemoryProvider, for tests and single-process simulation).
type MemoryProvider interface {
	// Size returns the total size in bytes of the backing map.
	Size() uint32
	// SlotAt returns a byte slice aliasing the bytes of the SCB at the
	// given worker-id slot. The slice is exactly scb.Size bytes and is
	// valid for the lifetime of the provider.
	SlotAt(workerID uint32) ([]byte, error)
	// Close releases any underlying resources (unmaps memory, closes
	// files). It is safe to call Close more than once.
	Close() error
}

// InMemoryProvider backs the SCB map with a single process-local byte
// slice, sized for scb.MaxWorkers slots. It is used in tests and by
// any in-process simulation of the kernel side.
type InMemoryProvider struct {
	data []byte
}

// NewInMemoryProvider allocates a zeroed SCB map for up to
// scb.MaxWorkers workers, aligned so that every scb.Size-byte slot
// starts on a scb.Alignment-byte boundary.
func NewInMemoryProvider() *InMemoryProvider {
	return &InMemoryProvider{data: newAlignedBuffer(int(scb.Size*scb.MaxWorkers), scb.Alignment)}
}

func (p *InMemoryProvider) Size() uint32 { return uint32(len(p.data)) }

func (p *InMemoryProvider) SlotAt(workerID uint32) ([]byte, error) {
	if workerID >= scb.MaxWorkers {
		return nil, fmt.Errorf("scbhandle: worker id %d out of range [0, %d)", workerID, scb.MaxWorkers)
	}
	off := workerID * scb.Size
	if off+scb.Size > uint32(len(p.data)) {
		return nil, ErrOutOfBounds
	}
	return p.data[off : off+scb.Size], nil
}

func (p *InMemoryProvider) Close() error {
	p.data = nil
	return nil
}

// NativeProvider maps the SCB map from a memory-mapped file, standing
// in for the kernel-exposed map named in spec.md §6. It uses
// golang.org/x/sys/unix rather than the raw syscall package for the
// mmap/munmap calls.
type NativeProvider struct {
	file *os.File
	data []byte
}

// NativeProviderOptions configures opening or creating the SCB map file.
type NativeProviderOptions struct {
	// Path to the backing file. DefaultSCBMapPath is used if empty.
	Path string
	// Create truncates/creates the file sized for scb.MaxWorkers slots
	// if it does not already exist at the right size.
	Create bool
}

// DefaultSCBMapPath returns the conventional location of the SCB map,
// preferring tmpfs where available.
func DefaultSCBMapPath() string {
	if _, err := os.Stat("/dev/shm"); err == nil {
		return "/dev/shm/morpheus_scb_map"
	}
	return filepath.Join(os.TempDir(), "morpheus_scb_map")
}

// OpenNativeProvider opens (and optionally creates) the mmap'd SCB map.
func OpenNativeProvider(opts NativeProviderOptions) (*NativeProvider, error) {
	path := opts.Path
	if path == "" {
		path = DefaultSCBMapPath()
	}
	path = filepath.Clean(path)

	size := int64(scb.Size) * int64(scb.MaxWorkers)

	flags := os.O_RDWR
	if opts.Create {
		flags |= os.O_CREATE
	}
	file, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return nil, fmt.Errorf("scbhandle: open SCB map: %w", err)
	}

	if opts.Create {
		info, statErr := file.Stat()
		if statErr != nil {
			_ = file.Close()
			return nil, fmt.Errorf("scbhandle: stat SCB map: %w", statErr)
		}
		if info.Size() != size {
			if err := file.Truncate(size); err != nil {
				_ = file.Close()
				return nil, fmt.Errorf("scbhandle: truncate SCB map: %w", err)
			}
		}
	}

	data, err := unix.Mmap(int(file.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("scbhandle: mmap SCB map: %w", err)
	}

	return &NativeProvider{file: file, data: data}, nil
}

func (p *NativeProvider) Size() uint32 { return uint32(len(p.data)) }

func (p *NativeProvider) SlotAt(workerID uint32) ([]byte, error) {
	if workerID >= scb.MaxWorkers {
		return nil, fmt.Errorf("scbhandle: worker id %d out of range [0, %d)", workerID, scb.MaxWorkers)
	}
	off := workerID * scb.Size
	if off+scb.Size > uint32(len(p.data)) {
		return nil, ErrOutOfBounds
	}
	return p.data[off : off+scb.Size], nil
}

func (p *NativeProvider) Close() error {
	var err error
	if p.data != nil {
		if unmapErr := unix.Munmap(p.data); unmapErr != nil {
			err = unmapErr
		}
		p.data = nil
	}
	if p.file != nil {
		if closeErr := p.file.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		p.file = nil
	}
	return err
}
