package storage

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

const (
	// FileHeaderSize is one full page: the header owns page 0.
	FileHeaderSize = PageSize

	// CurrentVersion is the data-file format version written into new files.
	CurrentVersion uint32 = 1

	// FileHeaderReservedSize pads the header out to a full page.
	FileHeaderReservedSize = 4020

	// headerChecksumOffset is where the CRC32 sits; it covers every header
	// byte before it.
	headerChecksumOffset = 44
)

// Magic identifies a directory-core data file: "DCE\x00".
var Magic = [4]byte{'D', 'C', 'E', 0x00}

// RootPages records where the partition's two primary trees are anchored:
// DataRoot holds the DN-keyed entry tree, DNIndex the parent-DN child tree.
type RootPages struct {
	DNIndex  PageID
	DataRoot PageID
}

// FileHeader occupies page 0 of a data file:
//
//	[0:4]    magic "DCE\x00"
//	[4:8]    format version
//	[8:12]   page size
//	[12:20]  total pages
//	[20:28]  free-list head page id
//	[28:36]  child-tree root page id
//	[36:44]  entry-tree root page id
//	[44:48]  CRC32 over [0:44]
//	[48:]    reserved
type FileHeader struct {
	Magic        [4]byte
	Version      uint32
	PageSize     uint32
	TotalPages   uint64
	FreeListHead PageID
	RootPages    RootPages
	Checksum     uint32
	Reserved     [FileHeaderReservedSize]byte
}

var (
	ErrInvalidMagic       = errors.New("invalid magic number: not a directory data file")
	ErrUnsupportedVersion = errors.New("unsupported file format version")
	ErrHeaderChecksum     = errors.New("file header checksum mismatch")
	ErrInvalidHeaderSize  = errors.New("invalid header size")
)

// NewFileHeader returns a header for a freshly initialized file holding only
// page 0.
func NewFileHeader() *FileHeader {
	return &FileHeader{
		Magic:      Magic,
		Version:    CurrentVersion,
		PageSize:   PageSize,
		TotalPages: 1,
	}
}

// packFixed writes the fixed header fields (everything the checksum covers)
// into buf.
func (h *FileHeader) packFixed(buf []byte) {
	copy(buf[0:4], h.Magic[:])
	binary.LittleEndian.PutUint32(buf[4:], h.Version)
	binary.LittleEndian.PutUint32(buf[8:], h.PageSize)
	binary.LittleEndian.PutUint64(buf[12:], h.TotalPages)
	binary.LittleEndian.PutUint64(buf[20:], uint64(h.FreeListHead))
	binary.LittleEndian.PutUint64(buf[28:], uint64(h.RootPages.DNIndex))
	binary.LittleEndian.PutUint64(buf[36:], uint64(h.RootPages.DataRoot))
}

// Serialize renders the header as a fresh page-sized buffer.
func (h *FileHeader) Serialize() ([]byte, error) {
	buf := make([]byte, FileHeaderSize)
	return buf, h.SerializeTo(buf)
}

// SerializeTo renders the header into buf, recomputing the checksum.
func (h *FileHeader) SerializeTo(buf []byte) error {
	if len(buf) < FileHeaderSize {
		return ErrInvalidHeaderSize
	}
	for i := range buf {
		buf[i] = 0
	}
	h.packFixed(buf)
	binary.LittleEndian.PutUint32(buf[headerChecksumOffset:], crc32.ChecksumIEEE(buf[:headerChecksumOffset]))
	copy(buf[48:], h.Reserved[:])
	return nil
}

// Deserialize loads the header out of buf without validating it.
func (h *FileHeader) Deserialize(buf []byte) error {
	if len(buf) < FileHeaderSize {
		return ErrInvalidHeaderSize
	}
	copy(h.Magic[:], buf[0:4])
	h.Version = binary.LittleEndian.Uint32(buf[4:])
	h.PageSize = binary.LittleEndian.Uint32(buf[8:])
	h.TotalPages = binary.LittleEndian.Uint64(buf[12:])
	h.FreeListHead = PageID(binary.LittleEndian.Uint64(buf[20:]))
	h.RootPages.DNIndex = PageID(binary.LittleEndian.Uint64(buf[28:]))
	h.RootPages.DataRoot = PageID(binary.LittleEndian.Uint64(buf[36:]))
	h.Checksum = binary.LittleEndian.Uint32(buf[headerChecksumOffset:])
	copy(h.Reserved[:], buf[48:])
	return nil
}

// ValidateMagic refuses a header whose magic bytes are not ours.
func (h *FileHeader) ValidateMagic() error {
	if h.Magic != Magic {
		return ErrInvalidMagic
	}
	return nil
}

// ValidateVersion refuses format versions this build cannot read.
func (h *FileHeader) ValidateVersion() error {
	if h.Version == 0 || h.Version > CurrentVersion {
		return ErrUnsupportedVersion
	}
	return nil
}

// CalculateChecksum recomputes the CRC over the fixed header fields.
func (h *FileHeader) CalculateChecksum() uint32 {
	buf := make([]byte, headerChecksumOffset)
	h.packFixed(buf)
	return crc32.ChecksumIEEE(buf)
}

// ValidateChecksum reports whether the stored checksum matches the fields.
func (h *FileHeader) ValidateChecksum() bool {
	return h.Checksum == h.CalculateChecksum()
}

// UpdateChecksum refreshes the stored checksum after field changes.
func (h *FileHeader) UpdateChecksum() {
	h.Checksum = h.CalculateChecksum()
}

// Validate runs every header check: magic, version, checksum.
func (h *FileHeader) Validate() error {
	if err := h.ValidateMagic(); err != nil {
		return err
	}
	if err := h.ValidateVersion(); err != nil {
		return err
	}
	if !h.ValidateChecksum() {
		return ErrHeaderChecksum
	}
	return nil
}

// DeserializeAndValidate loads and fully validates the header.
func (h *FileHeader) DeserializeAndValidate(buf []byte) error {
	if err := h.Deserialize(buf); err != nil {
		return err
	}
	return h.Validate()
}

// IsDirEngineFile reports whether buf begins with this engine's magic,
// for cheap file-type sniffing without a full header parse.
func IsDirEngineFile(buf []byte) bool {
	if len(buf) < 4 {
		return false
	}
	var magic [4]byte
	copy(magic[:], buf[0:4])
	return magic == Magic
}
