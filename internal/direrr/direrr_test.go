package direrr

import (
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFormatsMessage(t *testing.T) {
	err := New(KindNoSuchObject, "entry %q not found", "ou=system")
	assert.Equal(t, KindNoSuchObject, err.Kind)
	assert.Contains(t, err.Error(), "NoSuchObject")
	assert.Contains(t, err.Error(), `entry "ou=system" not found`)
}

func TestWrapPreservesCause(t *testing.T) {
	err := Wrap(KindIoError, io.ErrUnexpectedEOF, "commit page group")
	require.Error(t, err)
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}

func TestIsMatchesByKind(t *testing.T) {
	err := New(KindEntryAlreadyExists, "dn bound").WithDN("cn=a,ou=system")
	assert.True(t, Is(err, KindEntryAlreadyExists))
	assert.False(t, Is(err, KindNoSuchObject))
}

func TestKindOf(t *testing.T) {
	k, ok := KindOf(New(KindAliasProblem, "cycle"))
	require.True(t, ok)
	assert.Equal(t, KindAliasProblem, k)

	_, ok = KindOf(io.EOF)
	assert.False(t, ok)
}

func TestWithHelpersClone(t *testing.T) {
	base := New(KindSchemaViolation, "no structural")
	withOC := base.WithObjectClass("person")
	assert.Empty(t, base.ObjectClass)
	assert.Equal(t, "person", withOC.ObjectClass)
}
