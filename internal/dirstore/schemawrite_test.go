package dirstore

import (
	"testing"

	"github.com/dircore/engine/internal/direrr"
	"github.com/dircore/engine/internal/schema"
	"github.com/dircore/engine/internal/schemaop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSchemaWritePartition(t *testing.T) *Partition {
	t.Helper()
	p := newTestPartition(t, "ou=system")
	ctl := schemaop.NewController(schema.NewRegistry(p.schema))
	p, err := p.WithSchemaController(ctl, "cn=schema")
	require.NoError(t, err)
	return p
}

func TestModifySchemaSubentryAddsAttributeType(t *testing.T) {
	p := newSchemaWritePartition(t)

	err := p.Modify("cn=schema", []schema.Modification{
		*schema.NewModification(schema.ModAdd, "attributeTypes",
			[]byte(`( 1.2.3.4 NAME 'testAttr' DESC 'a test attribute' EQUALITY caseIgnoreMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.15 )`)),
	})
	require.NoError(t, err)

	assert.Equal(t, schemaop.StateRegistered, p.schemaCtl.State(schemaop.KindAttributeType, "testAttr"))
	assert.NotNil(t, p.schema.GetAttributeType("testAttr"))
}

func TestModifySchemaSubentryRejectsReplace(t *testing.T) {
	p := newSchemaWritePartition(t)

	err := p.Modify("cn=schema", []schema.Modification{
		*schema.NewModification(schema.ModReplace, "attributeTypes",
			[]byte(`( 1.2.3.4 NAME 'testAttr' SYNTAX 1.3.6.1.4.1.1466.115.121.1.15 )`)),
	})
	require.Error(t, err)
	assert.True(t, direrr.Is(err, direrr.KindUnwillingToPerform))
}

func TestModifySchemaSubentryRemovesAttributeType(t *testing.T) {
	p := newSchemaWritePartition(t)

	desc := `( 1.2.3.4 NAME 'testAttr' SYNTAX 1.3.6.1.4.1.1466.115.121.1.15 )`
	require.NoError(t, p.Modify("cn=schema", []schema.Modification{
		*schema.NewModification(schema.ModAdd, "attributeTypes", []byte(desc)),
	}))

	require.NoError(t, p.Modify("cn=schema", []schema.Modification{
		*schema.NewModification(schema.ModDelete, "attributeTypes", []byte(desc)),
	}))

	assert.Nil(t, p.schema.GetAttributeType("testAttr"))
}

func TestModifySchemaSubentryRemoveRefusesWhenReferenced(t *testing.T) {
	p := newSchemaWritePartition(t)

	require.NoError(t, p.Modify("cn=schema", []schema.Modification{
		*schema.NewModification(schema.ModAdd, "attributeTypes",
			[]byte(`( 1.2.3.4 NAME 'testAttr' SYNTAX 1.3.6.1.4.1.1466.115.121.1.15 )`)),
	}))
	require.NoError(t, p.Modify("cn=schema", []schema.Modification{
		*schema.NewModification(schema.ModAdd, "objectClasses",
			[]byte(`( 1.2.3.5 NAME 'testClass' SUP top STRUCTURAL MUST testAttr )`)),
	}))

	err := p.Modify("cn=schema", []schema.Modification{
		*schema.NewModification(schema.ModDelete, "attributeTypes",
			[]byte(`( 1.2.3.4 NAME 'testAttr' SYNTAX 1.3.6.1.4.1.1466.115.121.1.15 )`)),
	})
	require.Error(t, err)
	assert.True(t, direrr.Is(err, direrr.KindUnwillingToPerform))
}
