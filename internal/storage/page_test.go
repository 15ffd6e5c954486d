package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPageShape(t *testing.T) {
	p := NewPage(3, PageTypeData)
	assert.Equal(t, PageID(3), p.Header.PageID)
	assert.Equal(t, PageTypeData, p.Header.PageType)
	assert.Equal(t, uint16(PageSize-PageHeaderSize), p.Header.FreeSpace)
	assert.Len(t, p.Data, PageSize-PageHeaderSize)
	assert.Equal(t, PageSize-PageHeaderSize, p.UsableSpace())
}

func TestPageHeaderRoundTrip(t *testing.T) {
	h := PageHeader{
		PageID:    42,
		PageType:  PageTypeAttrIndex,
		Flags:     PageFlagDirty | PageFlagLeaf,
		ItemCount: 7,
		FreeSpace: 1000,
		Checksum:  0xBEEF,
	}

	buf := make([]byte, PageHeaderSize)
	require.NoError(t, h.Serialize(buf))

	var got PageHeader
	require.NoError(t, got.Deserialize(buf))
	assert.Equal(t, h, got)

	assert.ErrorIs(t, h.Serialize(make([]byte, 4)), ErrInvalidPageSize)
	assert.ErrorIs(t, got.Deserialize(make([]byte, 4)), ErrInvalidPageSize)
}

func TestPageFlagHelpers(t *testing.T) {
	var h PageHeader

	h.SetDirty()
	assert.True(t, h.IsDirty())
	h.ClearDirty()
	assert.False(t, h.IsDirty())

	h.SetPinned()
	assert.True(t, h.IsPinned())
	h.ClearPinned()
	assert.False(t, h.IsPinned())

	h.SetLeaf()
	assert.True(t, h.IsLeaf())
}

func TestPageRoundTripWithChecksum(t *testing.T) {
	p := NewPage(5, PageTypeData)
	copy(p.Data, []byte("cn=alice,ou=users,ou=system"))

	buf, err := p.Serialize()
	require.NoError(t, err)
	require.Len(t, buf, PageSize)

	var got Page
	require.NoError(t, got.DeserializeAndValidate(buf))
	assert.Equal(t, p.Data, got.Data)
	assert.True(t, got.ValidateChecksum())

	// A flipped payload byte must trip the checksum.
	buf[PageHeaderSize+3] ^= 0xFF
	var bad Page
	assert.ErrorIs(t, bad.DeserializeAndValidate(buf), ErrInvalidChecksum)
}

func TestPageReset(t *testing.T) {
	p := NewPage(9, PageTypeData)
	copy(p.Data, []byte("leftover"))
	p.Header.ItemCount = 4
	p.Header.SetDirty()

	p.Reset(PageTypeFree)
	assert.Equal(t, PageTypeFree, p.Header.PageType)
	assert.Zero(t, p.Header.ItemCount)
	assert.False(t, p.Header.IsDirty())
	for _, b := range p.Data[:16] {
		assert.Zero(t, b)
	}
}

func TestPageTypeString(t *testing.T) {
	assert.Equal(t, "Data", PageTypeData.String())
	assert.Equal(t, "AttrIndex", PageTypeAttrIndex.String())
	assert.Equal(t, "Unknown", PageType(99).String())
}
