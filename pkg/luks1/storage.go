// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks1

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// ReadFunc reads len(buf) bytes at a byte offset of the underlying storage
type ReadFunc func(offset int64, buf []byte) (int, error)

// WriteFunc writes buf at a byte offset of the underlying storage
type WriteFunc func(offset int64, buf []byte) (int, error)

// InitFunc reserves at least size bytes of storage before a volume is
// created
type InitFunc func(size int64) error

// Storage is a random access backing store for a volume
type Storage interface {
	io.ReaderAt
	io.WriterAt

	// Reserve ensures the store can hold at least size bytes
	Reserve(size int64) error
}

// StorageFuncs adapts a Storage to the callbacks consumed by Open, Create
// and Amend
func StorageFuncs(s Storage) (ReadFunc, WriteFunc, InitFunc) {
	read := func(offset int64, buf []byte) (int, error) {
		n, err := s.ReadAt(buf, offset)
		if n == len(buf) && errors.Is(err, io.EOF) {
			err = nil
		}
		return n, err
	}
	write := func(offset int64, buf []byte) (int, error) {
		return s.WriteAt(buf, offset)
	}
	return read, write, s.Reserve
}

// MemoryStorage is an in-memory Storage, primarily for tests and for
// building images before writing them out
type MemoryStorage struct {
	mu   sync.Mutex
	data []byte
}

// NewMemoryStorage returns an empty in-memory store
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (m *MemoryStorage) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *MemoryStorage) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if end := off + int64(len(p)); end > int64(len(m.data)) {
		m.grow(end)
	}
	return copy(m.data[off:], p), nil
}

// Reserve grows the store to size bytes, zero filled
func (m *MemoryStorage) Reserve(size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if size < 0 {
		return fmt.Errorf("negative size %d", size)
	}
	if size > int64(len(m.data)) {
		m.grow(size)
	}
	return nil
}

func (m *MemoryStorage) grow(size int64) {
	data := make([]byte, size)
	copy(data, m.data)
	m.data = data
}

// Size returns the current store size in bytes
func (m *MemoryStorage) Size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.data))
}

// Bytes returns a copy of the store contents
func (m *MemoryStorage) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}

// FileStorage is a Storage backed by a regular file or block device. It
// holds a flock for its lifetime: exclusive when writable, shared when
// read-only.
type FileStorage struct {
	file        *os.File
	lock        *FileLock
	path        string
	blockDevice bool
}

// OpenFileStorage opens an existing file or block device
func OpenFileStorage(path string, readOnly bool) (*FileStorage, error) {
	if err := ValidateDevicePath(path); err != nil {
		return nil, err
	}
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	return openFileStorage(path, flag, !readOnly)
}

// CreateFileStorage opens path for writing, creating a regular file if it
// does not exist
func CreateFileStorage(path string) (*FileStorage, error) {
	cleaned, err := cleanDevicePath(path)
	if err != nil {
		return nil, err
	}
	return openFileStorage(cleaned, os.O_RDWR|os.O_CREATE, true)
}

func openFileStorage(path string, flag int, exclusive bool) (*FileStorage, error) {
	f, err := os.OpenFile(path, flag, 0600) // #nosec G304 -- device path validated by caller
	if err != nil {
		return nil, &DeviceError{Device: path, Op: "open", Err: err}
	}

	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, &DeviceError{Device: path, Op: "stat", Err: err}
	}

	lock, err := AcquireFileLock(f, exclusive)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	return &FileStorage{
		file:        f,
		lock:        lock,
		path:        path,
		blockDevice: stat.Mode()&os.ModeDevice != 0,
	}, nil
}

func (s *FileStorage) ReadAt(p []byte, off int64) (int, error) {
	return s.file.ReadAt(p, off)
}

func (s *FileStorage) WriteAt(p []byte, off int64) (int, error) {
	return s.file.WriteAt(p, off)
}

// Reserve extends a regular file to size bytes. A block device cannot
// grow, so it must already be large enough.
func (s *FileStorage) Reserve(size int64) error {
	current, err := s.Size()
	if err != nil {
		return err
	}
	if current >= size {
		return nil
	}
	if s.blockDevice {
		return &DeviceError{Device: s.path, Op: "reserve",
			Err: fmt.Errorf("device is %d bytes, need at least %d", current, size)}
	}
	if err := s.file.Truncate(size); err != nil {
		return &DeviceError{Device: s.path, Op: "reserve", Err: err}
	}
	return nil
}

// Size returns the file or block device size in bytes
func (s *FileStorage) Size() (int64, error) {
	if s.blockDevice {
		return blockDeviceSize(s.file)
	}
	stat, err := s.file.Stat()
	if err != nil {
		return 0, &DeviceError{Device: s.path, Op: "stat", Err: err}
	}
	return stat.Size(), nil
}

// Path returns the path the storage was opened with
func (s *FileStorage) Path() string {
	return s.path
}

// IsBlockDevice reports whether the storage is a block device
func (s *FileStorage) IsBlockDevice() bool {
	return s.blockDevice
}

// Sync flushes writes to stable storage
func (s *FileStorage) Sync() error {
	return s.file.Sync()
}

// Close releases the lock and closes the file
func (s *FileStorage) Close() error {
	lockErr := s.lock.Release()
	closeErr := s.file.Close()
	return errors.Join(lockErr, closeErr)
}
