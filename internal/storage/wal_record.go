package storage

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

const (
	// WALRecordHeaderSize is the fixed record prefix:
	//
	//	[0:8]   LSN
	//	[8:16]  transaction id
	//	[16]    record type
	//	[17:25] page id (updates only)
	//	[25:27] offset within page
	//	[27:29] before-image length
	//	[29:31] after-image length
	//	[31:35] CRC32 over the whole record with this field zeroed
	WALRecordHeaderSize = 35

	// MaxWALDataSize caps either image; a full page fits with room to spare.
	MaxWALDataSize = 65535
)

// WALType discriminates transaction-log records.
type WALType uint8

const (
	WALBegin WALType = iota
	WALCommit
	WALAbort
	WALUpdate
	WALCheckpoint
)

func (t WALType) String() string {
	switch t {
	case WALBegin:
		return "Begin"
	case WALCommit:
		return "Commit"
	case WALAbort:
		return "Abort"
	case WALUpdate:
		return "Update"
	case WALCheckpoint:
		return "Checkpoint"
	}
	return "Unknown"
}

// WALRecord is one transaction-log entry. Update records carry the before
// image for undo and the after image for redo; control records carry
// neither.
type WALRecord struct {
	LSN      uint64
	TxID     uint64
	Type     WALType
	PageID   PageID
	Offset   uint16
	OldData  []byte
	NewData  []byte
	Checksum uint32
}

var (
	ErrWALRecordTooSmall    = errors.New("WAL record buffer too small")
	ErrWALRecordChecksum    = errors.New("WAL record checksum mismatch")
	ErrWALDataTooLarge      = errors.New("WAL record data exceeds maximum size")
	ErrWALInvalidRecordType = errors.New("invalid WAL record type")
)

// NewWALRecord returns a control record of the given type.
func NewWALRecord(lsn, txID uint64, recordType WALType) *WALRecord {
	return &WALRecord{LSN: lsn, TxID: txID, Type: recordType}
}

// NewWALUpdateRecord returns an update record carrying both page images.
func NewWALUpdateRecord(lsn, txID uint64, pageID PageID, offset uint16, oldData, newData []byte) *WALRecord {
	return &WALRecord{
		LSN:     lsn,
		TxID:    txID,
		Type:    WALUpdate,
		PageID:  pageID,
		Offset:  offset,
		OldData: oldData,
		NewData: newData,
	}
}

// Size returns the record's serialized length.
func (r *WALRecord) Size() int {
	return WALRecordHeaderSize + len(r.OldData) + len(r.NewData)
}

// Serialize renders the record as a fresh byte slice.
func (r *WALRecord) Serialize() ([]byte, error) {
	buf := make([]byte, r.Size())
	if err := r.SerializeTo(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// SerializeTo renders the record into buf, stamping the checksum last.
func (r *WALRecord) SerializeTo(buf []byte) error {
	size := r.Size()
	if len(buf) < size {
		return ErrWALRecordTooSmall
	}
	if len(r.OldData) > MaxWALDataSize || len(r.NewData) > MaxWALDataSize {
		return ErrWALDataTooLarge
	}

	binary.LittleEndian.PutUint64(buf[0:], r.LSN)
	binary.LittleEndian.PutUint64(buf[8:], r.TxID)
	buf[16] = byte(r.Type)
	binary.LittleEndian.PutUint64(buf[17:], uint64(r.PageID))
	binary.LittleEndian.PutUint16(buf[25:], r.Offset)
	binary.LittleEndian.PutUint16(buf[27:], uint16(len(r.OldData)))
	binary.LittleEndian.PutUint16(buf[29:], uint16(len(r.NewData)))

	off := WALRecordHeaderSize
	copy(buf[off:], r.OldData)
	off += len(r.OldData)
	copy(buf[off:], r.NewData)

	r.Checksum = checksumWALBuffer(buf[:size])
	binary.LittleEndian.PutUint32(buf[31:], r.Checksum)
	return nil
}

// Deserialize loads the record from buf without checksum verification.
func (r *WALRecord) Deserialize(buf []byte) error {
	if len(buf) < WALRecordHeaderSize {
		return ErrWALRecordTooSmall
	}

	r.LSN = binary.LittleEndian.Uint64(buf[0:])
	r.TxID = binary.LittleEndian.Uint64(buf[8:])
	r.Type = WALType(buf[16])
	r.PageID = PageID(binary.LittleEndian.Uint64(buf[17:]))
	r.Offset = binary.LittleEndian.Uint16(buf[25:])
	oldLen := int(binary.LittleEndian.Uint16(buf[27:]))
	newLen := int(binary.LittleEndian.Uint16(buf[29:]))
	r.Checksum = binary.LittleEndian.Uint32(buf[31:])

	if len(buf) < WALRecordHeaderSize+oldLen+newLen {
		return ErrWALRecordTooSmall
	}

	off := WALRecordHeaderSize
	r.OldData = nil
	if oldLen > 0 {
		r.OldData = make([]byte, oldLen)
		copy(r.OldData, buf[off:off+oldLen])
		off += oldLen
	}
	r.NewData = nil
	if newLen > 0 {
		r.NewData = make([]byte, newLen)
		copy(r.NewData, buf[off:off+newLen])
	}
	return nil
}

// checksumWALBuffer computes the record CRC with the checksum field zeroed.
func checksumWALBuffer(buf []byte) uint32 {
	tmp := make([]byte, len(buf))
	copy(tmp, buf)
	tmp[31], tmp[32], tmp[33], tmp[34] = 0, 0, 0, 0
	return crc32.ChecksumIEEE(tmp)
}

// ValidateChecksum reports whether the stored checksum matches the record.
func (r *WALRecord) ValidateChecksum() bool {
	buf, err := r.Serialize()
	if err != nil {
		return false
	}
	return r.Checksum == checksumWALBuffer(buf)
}

// DeserializeAndValidate loads the record and refuses it on checksum
// mismatch.
func (r *WALRecord) DeserializeAndValidate(buf []byte) error {
	if err := r.Deserialize(buf); err != nil {
		return err
	}
	if r.Checksum != checksumWALBuffer(buf[:r.Size()]) {
		return ErrWALRecordChecksum
	}
	return nil
}

// IsTransactionControl reports whether this is a Begin/Commit/Abort record.
func (r *WALRecord) IsTransactionControl() bool {
	return r.Type == WALBegin || r.Type == WALCommit || r.Type == WALAbort
}

// IsDataModification reports whether this record changes a page.
func (r *WALRecord) IsDataModification() bool {
	return r.Type == WALUpdate
}

// Clone deep-copies the record.
func (r *WALRecord) Clone() *WALRecord {
	c := *r
	if r.OldData != nil {
		c.OldData = make([]byte, len(r.OldData))
		copy(c.OldData, r.OldData)
	}
	if r.NewData != nil {
		c.NewData = make([]byte, len(r.NewData))
		copy(c.NewData, r.NewData)
	}
	return &c
}
