// Package cache persists index snapshots beside the partition's data files
// so reopening a store does not have to rebuild its index directory from
// scratch. A snapshot is valid only for the transaction id it was written
// at; anything else is stale and the caller falls back to a rebuild.
package cache

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

const (
	Magic      = "DCAC"
	Version    = 1
	HeaderSize = 48
)

// Snapshot kinds.
const (
	// TypeIndexDirectory is an IndexManager directory snapshot: attribute
	// names, index types, and tree roots.
	TypeIndexDirectory uint8 = 2
)

var (
	ErrInvalidMagic   = errors.New("invalid cache magic")
	ErrInvalidVersion = errors.New("invalid cache version")
	ErrInvalidType    = errors.New("invalid cache type")
	ErrStaleTxID      = errors.New("stale transaction ID")
	ErrCorruptData    = errors.New("corrupt cache data")
	ErrBufferTooSmall = errors.New("buffer too small")
)

// Header is the 48-byte snapshot-file prefix:
//
//	[0:4]   magic "DCAC"
//	[4:8]   version
//	[8]     snapshot kind
//	[9:16]  reserved
//	[16:24] entry count
//	[24:32] transaction id the snapshot reflects
//	[32:36] CRC32 of the payload
//	[36:44] payload length
//	[44:48] CRC32 of bytes [0:44]
type Header struct {
	Magic       [4]byte
	Version     uint32
	CacheType   uint8
	Reserved    [7]byte
	EntryCount  uint64
	LastTxID    uint64
	DataCRC32   uint32
	DataLength  uint64
	HeaderCRC32 uint32
}

// NewHeader stamps a header over the given payload.
func NewHeader(cacheType uint8, entryCount, lastTxID uint64, data []byte) *Header {
	h := &Header{
		Version:    Version,
		CacheType:  cacheType,
		EntryCount: entryCount,
		LastTxID:   lastTxID,
		DataCRC32:  crc32.ChecksumIEEE(data),
		DataLength: uint64(len(data)),
	}
	copy(h.Magic[:], Magic)
	return h
}

// Serialize renders the header, computing its own CRC last.
func (h *Header) Serialize() []byte {
	buf := make([]byte, HeaderSize)

	copy(buf[0:4], h.Magic[:])
	binary.LittleEndian.PutUint32(buf[4:], h.Version)
	buf[8] = h.CacheType
	binary.LittleEndian.PutUint64(buf[16:], h.EntryCount)
	binary.LittleEndian.PutUint64(buf[24:], h.LastTxID)
	binary.LittleEndian.PutUint32(buf[32:], h.DataCRC32)
	binary.LittleEndian.PutUint64(buf[36:], h.DataLength)

	h.HeaderCRC32 = crc32.ChecksumIEEE(buf[:44])
	binary.LittleEndian.PutUint32(buf[44:], h.HeaderCRC32)
	return buf
}

// Deserialize loads the header without validating it.
func (h *Header) Deserialize(buf []byte) error {
	if len(buf) < HeaderSize {
		return ErrBufferTooSmall
	}

	copy(h.Magic[:], buf[0:4])
	h.Version = binary.LittleEndian.Uint32(buf[4:])
	h.CacheType = buf[8]
	copy(h.Reserved[:], buf[9:16])
	h.EntryCount = binary.LittleEndian.Uint64(buf[16:])
	h.LastTxID = binary.LittleEndian.Uint64(buf[24:])
	h.DataCRC32 = binary.LittleEndian.Uint32(buf[32:])
	h.DataLength = binary.LittleEndian.Uint64(buf[36:])
	h.HeaderCRC32 = binary.LittleEndian.Uint32(buf[44:])
	return nil
}

// Validate refuses a snapshot of the wrong kind or vintage.
func (h *Header) Validate(expectedType uint8, expectedTxID uint64) error {
	if string(h.Magic[:]) != Magic {
		return ErrInvalidMagic
	}
	if h.Version != Version {
		return ErrInvalidVersion
	}
	if h.CacheType != expectedType {
		return ErrInvalidType
	}
	if h.LastTxID != expectedTxID {
		return ErrStaleTxID
	}
	return nil
}

// ValidateHeaderCRC checks the header's own checksum against its bytes.
func (h *Header) ValidateHeaderCRC(buf []byte) error {
	if len(buf) < HeaderSize {
		return ErrBufferTooSmall
	}
	if h.HeaderCRC32 != crc32.ChecksumIEEE(buf[:44]) {
		return ErrCorruptData
	}
	return nil
}

// ValidateDataCRC checks the payload against the header's length and CRC.
func (h *Header) ValidateDataCRC(data []byte) error {
	if uint64(len(data)) != h.DataLength {
		return ErrCorruptData
	}
	if crc32.ChecksumIEEE(data) != h.DataCRC32 {
		return ErrCorruptData
	}
	return nil
}
