package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

const (
	DefaultPageSize     = PageSize
	DefaultInitialPages = 16
	MinGrowthPages      = 8
)

var (
	ErrFileNotOpen      = errors.New("file not open")
	ErrInvalidPageID    = errors.New("invalid page ID")
	ErrPageOutOfRange   = errors.New("page ID out of range")
	ErrNoFreePages      = errors.New("no free pages available")
	ErrPageAlreadyFree  = errors.New("page is already free")
	ErrCannotFreeHeader = errors.New("cannot free header page")
	ErrFileClosed       = errors.New("record manager is closed")
	ErrFileExists       = errors.New("file already exists")
	ErrFileCorrupted    = errors.New("file is corrupted")
	ErrReadOnly         = errors.New("record manager is read-only")
)

// Options configures a RecordManager.
type Options struct {
	PageSize     int
	InitialPages int
	CreateIfNew  bool
	ReadOnly     bool
	SyncOnWrite  bool
}

// DefaultOptions returns the standard RecordManager configuration.
func DefaultOptions() Options {
	return Options{
		PageSize:     DefaultPageSize,
		InitialPages: DefaultInitialPages,
		CreateIfNew:  true,
	}
}

// RecordManager owns one partition data file: it hands out pages, reads and
// writes them at their file offsets, and persists the free list and file
// header across close/reopen. Everything above it — trees, indices, the
// entry store — addresses storage purely by PageID.
type RecordManager struct {
	file        *os.File
	header      *FileHeader
	pageSize    int
	totalPages  uint64
	freeList    *FreeList
	path        string
	readOnly    bool
	syncOnWrite bool
	closed      bool
	mu          sync.RWMutex
}

// OpenRecordManager opens the data file at path, creating and initializing
// it when absent and opts.CreateIfNew allows.
func OpenRecordManager(path string, opts Options) (*RecordManager, error) {
	if opts.PageSize == 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.InitialPages == 0 {
		opts.InitialPages = DefaultInitialPages
	}

	rm := &RecordManager{
		pageSize:    opts.PageSize,
		freeList:    NewFreeList(),
		path:        path,
		readOnly:    opts.ReadOnly,
		syncOnWrite: opts.SyncOnWrite,
	}

	_, err := os.Stat(path)
	exists := err == nil
	if !exists && !opts.CreateIfNew {
		return nil, os.ErrNotExist
	}

	flags := os.O_RDWR
	if opts.ReadOnly {
		flags = os.O_RDONLY
	} else if !exists {
		flags |= os.O_CREATE
	}
	if rm.file, err = os.OpenFile(path, flags, 0644); err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	if exists {
		if err := rm.loadExisting(); err != nil {
			rm.file.Close()
			return nil, err
		}
	} else if err := rm.initialize(opts.InitialPages); err != nil {
		rm.file.Close()
		os.Remove(path)
		return nil, err
	}

	return rm, nil
}

// loadExisting validates the header of an existing file and restores the
// free list from its persisted chain.
func (rm *RecordManager) loadExisting() error {
	buf := make([]byte, FileHeaderSize)
	if _, err := rm.file.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}

	rm.header = &FileHeader{}
	if err := rm.header.DeserializeAndValidate(buf); err != nil {
		return fmt.Errorf("invalid header: %w", err)
	}
	rm.totalPages = rm.header.TotalPages
	rm.pageSize = int(rm.header.PageSize)

	rm.freeList = NewFreeListWithHead(rm.header.FreeListHead)
	if rm.header.FreeListHead == 0 {
		return nil
	}

	var chain []*Page
	for id := rm.header.FreeListHead; id != 0; {
		page, err := rm.readPageLocked(id)
		if err != nil {
			return fmt.Errorf("failed to load free list: %w", err)
		}
		chain = append(chain, page)
		id = GetNextPageID(page)
	}
	return rm.freeList.LoadFromPages(chain)
}

// initialize lays out a fresh file: header on page 0, the remaining initial
// pages on the free list.
func (rm *RecordManager) initialize(initialPages int) error {
	if initialPages < 1 {
		initialPages = 1
	}

	rm.header = NewFileHeader()
	rm.header.PageSize = uint32(rm.pageSize)
	rm.header.TotalPages = uint64(initialPages)
	rm.totalPages = uint64(initialPages)

	buf, err := rm.header.Serialize()
	if err != nil {
		return fmt.Errorf("failed to serialize header: %w", err)
	}
	if _, err := rm.file.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i := 1; i < initialPages; i++ {
		rm.freeList.Push(PageID(i))
	}

	if err := rm.file.Truncate(int64(initialPages) * int64(rm.pageSize)); err != nil {
		return fmt.Errorf("failed to extend file: %w", err)
	}
	return rm.file.Sync()
}

// Close persists the free list and header, then closes the file.
func (rm *RecordManager) Close() error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.closed {
		return ErrFileClosed
	}
	rm.closed = true

	if rm.file == nil {
		return nil
	}
	if !rm.readOnly {
		if err := rm.persistFreeListLocked(); err != nil {
			rm.file.Close()
			return fmt.Errorf("failed to save free list: %w", err)
		}
		if err := rm.writeHeaderLocked(); err != nil {
			rm.file.Close()
			return fmt.Errorf("failed to save header: %w", err)
		}
		if err := rm.file.Sync(); err != nil {
			rm.file.Close()
			return fmt.Errorf("failed to sync file: %w", err)
		}
	}
	return rm.file.Close()
}

// persistFreeListLocked writes the free list as a chain of pages appended at
// the end of the file, linked back-to-front so each page can point at the
// one written after it.
func (rm *RecordManager) persistFreeListLocked() error {
	free := rm.freeList.PeekAll()
	if len(free) == 0 {
		rm.header.FreeListHead = 0
		return nil
	}

	pagesNeeded := (len(free) + MaxFreeListEntriesPerPage - 1) / MaxFreeListEntriesPerPage
	firstNew := rm.totalPages

	newTotal := rm.totalPages + uint64(pagesNeeded)
	if err := rm.file.Truncate(int64(newTotal) * int64(rm.pageSize)); err != nil {
		return err
	}
	rm.totalPages = newTotal
	rm.header.TotalPages = newTotal

	var next PageID
	for i := pagesNeeded - 1; i >= 0; i-- {
		id := PageID(firstNew + uint64(i))
		page := NewPage(id, PageTypeFree)

		// SerializeToPage zeroes the payload, so the chain pointer goes in
		// after the entries.
		rm.freeList.SerializeToPage(page, i*MaxFreeListEntriesPerPage)
		SetNextPageID(page, next)

		if err := rm.writePageLocked(page); err != nil {
			return err
		}
		next = id
	}

	rm.header.FreeListHead = next
	rm.freeList.SetHead(next)
	return nil
}

func (rm *RecordManager) writeHeaderLocked() error {
	rm.header.TotalPages = rm.totalPages
	buf, err := rm.header.Serialize()
	if err != nil {
		return err
	}
	_, err = rm.file.WriteAt(buf, 0)
	return err
}

// AllocatePage hands out a zeroed page of the given type, reusing a free
// page when one exists and growing the file otherwise.
func (rm *RecordManager) AllocatePage(pageType PageType) (PageID, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.closed {
		return 0, ErrFileClosed
	}
	if rm.readOnly {
		return 0, ErrReadOnly
	}

	if id, ok := rm.freeList.Pop(); ok {
		if err := rm.writePageLocked(NewPage(id, pageType)); err != nil {
			rm.freeList.Push(id)
			return 0, err
		}
		return id, nil
	}

	id := PageID(rm.totalPages)
	if err := rm.growLocked(1); err != nil {
		return 0, err
	}
	if err := rm.writePageLocked(NewPage(id, pageType)); err != nil {
		return 0, err
	}
	return id, nil
}

// growLocked extends the file by at least MinGrowthPages; the first new page
// goes to the caller, the rest onto the free list.
func (rm *RecordManager) growLocked(numPages int) error {
	if numPages < MinGrowthPages {
		numPages = MinGrowthPages
	}

	newTotal := rm.totalPages + uint64(numPages)
	if err := rm.file.Truncate(int64(newTotal) * int64(rm.pageSize)); err != nil {
		return fmt.Errorf("failed to grow file: %w", err)
	}

	old := rm.totalPages
	rm.totalPages = newTotal
	rm.header.TotalPages = newTotal
	for i := old + 1; i < newTotal; i++ {
		rm.freeList.Push(PageID(i))
	}
	return nil
}

// FreePage wipes a page and returns it to the free list.
func (rm *RecordManager) FreePage(id PageID) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.closed {
		return ErrFileClosed
	}
	if rm.readOnly {
		return ErrReadOnly
	}
	if id == 0 {
		return ErrCannotFreeHeader
	}
	if uint64(id) >= rm.totalPages {
		return ErrPageOutOfRange
	}
	if rm.freeList.Contains(id) {
		return ErrPageAlreadyFree
	}

	if err := rm.writePageLocked(NewPage(id, PageTypeFree)); err != nil {
		return err
	}
	rm.freeList.Push(id)
	return nil
}

// ReadPage fetches a page from disk.
func (rm *RecordManager) ReadPage(id PageID) (*Page, error) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	if rm.closed {
		return nil, ErrFileClosed
	}
	return rm.readPageLocked(id)
}

func (rm *RecordManager) readPageLocked(id PageID) (*Page, error) {
	if id == 0 {
		return nil, ErrInvalidPageID
	}
	if uint64(id) >= rm.totalPages {
		return nil, ErrPageOutOfRange
	}

	buf := make([]byte, rm.pageSize)
	n, err := rm.file.ReadAt(buf, int64(id)*int64(rm.pageSize))
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read page %d: %w", id, err)
	}
	if n < rm.pageSize {
		return nil, fmt.Errorf("incomplete page read: got %d bytes, expected %d", n, rm.pageSize)
	}

	page := &Page{}
	if err := page.Deserialize(buf); err != nil {
		return nil, fmt.Errorf("failed to deserialize page %d: %w", id, err)
	}
	return page, nil
}

// ReadPages fetches several pages at once, skipping ids that fail; the
// result slice is positionally aligned with ids and may hold nils.
func (rm *RecordManager) ReadPages(ids []PageID) ([]*Page, error) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	if rm.closed {
		return nil, ErrFileClosed
	}

	pages := make([]*Page, len(ids))
	for i, id := range ids {
		if id == 0 {
			continue
		}
		if page, err := rm.readPageLocked(id); err == nil {
			pages[i] = page
		}
	}
	return pages, nil
}

// WritePage stores a page at its file offset.
func (rm *RecordManager) WritePage(page *Page) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.closed {
		return ErrFileClosed
	}
	if rm.readOnly {
		return ErrReadOnly
	}
	return rm.writePageLocked(page)
}

func (rm *RecordManager) writePageLocked(page *Page) error {
	if page.Header.PageID == 0 {
		return ErrInvalidPageID
	}
	if uint64(page.Header.PageID) >= rm.totalPages {
		return ErrPageOutOfRange
	}

	buf, err := page.Serialize()
	if err != nil {
		return fmt.Errorf("failed to serialize page: %w", err)
	}
	if _, err := rm.file.WriteAt(buf, int64(page.Header.PageID)*int64(rm.pageSize)); err != nil {
		return fmt.Errorf("failed to write page %d: %w", page.Header.PageID, err)
	}
	if rm.syncOnWrite {
		if err := rm.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync after write: %w", err)
		}
	}
	return nil
}

// Sync persists the header and forces everything written so far onto stable
// storage. When Sync returns nil, all prior writes are durable.
func (rm *RecordManager) Sync() error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.closed {
		return ErrFileClosed
	}
	if rm.file == nil {
		return ErrFileNotOpen
	}
	if !rm.readOnly {
		if err := rm.writeHeaderLocked(); err != nil {
			return err
		}
	}
	return rm.file.Sync()
}

// TotalPages returns the file's page count, header page included.
func (rm *RecordManager) TotalPages() uint64 {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.totalPages
}

// FreePageCount returns the number of reusable pages.
func (rm *RecordManager) FreePageCount() uint64 {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.freeList.Count()
}

// PageSize returns the page size in bytes.
func (rm *RecordManager) PageSize() int { return rm.pageSize }

// Path returns the data file's path.
func (rm *RecordManager) Path() string { return rm.path }

// IsReadOnly reports whether writes are refused.
func (rm *RecordManager) IsReadOnly() bool { return rm.readOnly }

// Header returns a copy of the current file header.
func (rm *RecordManager) Header() FileHeader {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	if rm.header == nil {
		return FileHeader{}
	}
	return *rm.header
}

// UpdateHeader adopts the caller's root-page pointers and persists the
// header. Page accounting fields stay under this manager's control.
func (rm *RecordManager) UpdateHeader(header FileHeader) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.closed {
		return ErrFileClosed
	}
	rm.header.RootPages = header.RootPages
	return rm.writeHeaderLocked()
}

// Stats summarizes file occupancy.
type Stats struct {
	TotalPages    uint64
	FreePages     uint64
	UsedPages     uint64
	PageSize      int
	FileSizeBytes int64
}

// Stats reports current file occupancy.
func (rm *RecordManager) Stats() Stats {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	free := rm.freeList.Count()
	return Stats{
		TotalPages:    rm.totalPages,
		FreePages:     free,
		UsedPages:     rm.totalPages - free - 1,
		PageSize:      rm.pageSize,
		FileSizeBytes: int64(rm.totalPages) * int64(rm.pageSize),
	}
}
