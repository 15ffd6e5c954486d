package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFileHeaderDefaults(t *testing.T) {
	h := NewFileHeader()
	assert.Equal(t, Magic, h.Magic)
	assert.Equal(t, CurrentVersion, h.Version)
	assert.Equal(t, uint32(PageSize), h.PageSize)
	assert.Equal(t, uint64(1), h.TotalPages)
	assert.Zero(t, h.FreeListHead)
}

func TestFileHeaderRoundTrip(t *testing.T) {
	h := NewFileHeader()
	h.TotalPages = 128
	h.FreeListHead = 77
	h.RootPages = RootPages{DNIndex: 2, DataRoot: 3}

	buf, err := h.Serialize()
	require.NoError(t, err)
	require.Len(t, buf, FileHeaderSize)

	var got FileHeader
	require.NoError(t, got.DeserializeAndValidate(buf))
	assert.Equal(t, h.TotalPages, got.TotalPages)
	assert.Equal(t, h.FreeListHead, got.FreeListHead)
	assert.Equal(t, h.RootPages, got.RootPages)
	assert.True(t, got.ValidateChecksum())
}

func TestFileHeaderRejectsBadMagic(t *testing.T) {
	h := NewFileHeader()
	buf, err := h.Serialize()
	require.NoError(t, err)

	buf[0] = 'X'
	var got FileHeader
	err = got.DeserializeAndValidate(buf)
	assert.ErrorIs(t, err, ErrInvalidMagic)
}

func TestFileHeaderRejectsBadVersion(t *testing.T) {
	h := NewFileHeader()
	h.Version = CurrentVersion + 1
	assert.ErrorIs(t, h.ValidateVersion(), ErrUnsupportedVersion)

	h.Version = 0
	assert.ErrorIs(t, h.ValidateVersion(), ErrUnsupportedVersion)

	h.Version = CurrentVersion
	assert.NoError(t, h.ValidateVersion())
}

func TestFileHeaderChecksumCoversFields(t *testing.T) {
	h := NewFileHeader()
	h.UpdateChecksum()
	require.True(t, h.ValidateChecksum())

	h.TotalPages = 999
	assert.False(t, h.ValidateChecksum())
	h.UpdateChecksum()
	assert.True(t, h.ValidateChecksum())
}

func TestFileHeaderCorruptChecksumOnDisk(t *testing.T) {
	h := NewFileHeader()
	buf, err := h.Serialize()
	require.NoError(t, err)

	// Flip a byte inside the checksummed region but leave magic intact.
	buf[12] ^= 0xFF
	var got FileHeader
	assert.ErrorIs(t, got.DeserializeAndValidate(buf), ErrHeaderChecksum)
}

func TestFileHeaderBufferTooSmall(t *testing.T) {
	var h FileHeader
	assert.ErrorIs(t, h.SerializeTo(make([]byte, 100)), ErrInvalidHeaderSize)
	assert.ErrorIs(t, h.Deserialize(make([]byte, 100)), ErrInvalidHeaderSize)
}

func TestIsDirEngineFile(t *testing.T) {
	h := NewFileHeader()
	buf, err := h.Serialize()
	require.NoError(t, err)

	assert.True(t, IsDirEngineFile(buf))
	assert.False(t, IsDirEngineFile([]byte("LDIF")))
	assert.False(t, IsDirEngineFile([]byte{'D'}))
}
