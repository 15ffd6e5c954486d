package dirstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dircore/engine/internal/schema"
	"github.com/dircore/engine/internal/storage"
)

// mockStorageEngine is an in-memory storage.StorageEngine, grounded on the
// teacher's internal/backend test mock: these tests exercise dirstore's own
// index bookkeeping, not the page-backed storage engine, so a map keyed by
// DN is enough.
type mockStorageEngine struct {
	entries map[string]*storage.Entry
	txID    uint64
}

func newMockStorageEngine() *mockStorageEngine {
	return &mockStorageEngine{entries: make(map[string]*storage.Entry)}
}

func (m *mockStorageEngine) Begin() (interface{}, error) {
	m.txID++
	return m.txID, nil
}

func (m *mockStorageEngine) Commit(tx interface{}) error   { return nil }
func (m *mockStorageEngine) Rollback(tx interface{}) error { return nil }

func (m *mockStorageEngine) Get(tx interface{}, dn string) (*storage.Entry, error) {
	e, ok := m.entries[dn]
	if !ok {
		return nil, errors.New("entry not found")
	}
	return e.Clone(), nil
}

func (m *mockStorageEngine) Put(tx interface{}, entry *storage.Entry) error {
	m.entries[entry.DN] = entry.Clone()
	return nil
}

func (m *mockStorageEngine) Delete(tx interface{}, dn string) error {
	if _, ok := m.entries[dn]; !ok {
		return errors.New("entry not found")
	}
	delete(m.entries, dn)
	return nil
}

func (m *mockStorageEngine) HasChildren(tx interface{}, dn string) (bool, error) {
	suffix := "," + dn
	for entryDN := range m.entries {
		if entryDN != dn && len(entryDN) > len(suffix) && entryDN[len(entryDN)-len(suffix):] == suffix {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStorageEngine) SearchByDN(tx interface{}, baseDN string, scope storage.Scope) storage.Iterator {
	return &mockIterator{index: -1}
}

func (m *mockStorageEngine) SearchByFilter(tx interface{}, baseDN string, f interface{}) storage.Iterator {
	return &mockIterator{index: -1}
}

func (m *mockStorageEngine) CreateIndex(attribute string, indexType storage.IndexType) error {
	return nil
}
func (m *mockStorageEngine) DropIndex(attribute string) error { return nil }
func (m *mockStorageEngine) Checkpoint() error                { return nil }
func (m *mockStorageEngine) Compact() error                   { return nil }

func (m *mockStorageEngine) Stats() *storage.EngineStats {
	return &storage.EngineStats{EntryCount: uint64(len(m.entries))}
}

func (m *mockStorageEngine) Close() error { return nil }

type mockIterator struct {
	entries []*storage.Entry
	index   int
}

func (it *mockIterator) Next() bool            { it.index++; return it.index < len(it.entries) }
func (it *mockIterator) Entry() *storage.Entry { return nil }
func (it *mockIterator) Error() error          { return nil }
func (it *mockIterator) Close()                {}

// testSchema builds a minimal schema covering the object classes and
// attributes these tests exercise: organizational units, person entries,
// and RFC 4512 alias entries. Grounded on
// internal/schema/validator_test.go's setupTestSchema.
func testSchema() *schema.Schema {
	s := schema.NewSchema()

	s.AddSyntax(schema.NewSyntaxWithValidator(schema.SyntaxDirectoryString, "Directory String", schema.ValidateDirectoryString))
	s.AddSyntax(schema.NewSyntaxWithValidator(schema.SyntaxOID, "OID", schema.ValidateDirectoryString))

	objectClass := schema.NewAttributeType("2.5.4.0", "objectClass")
	objectClass.Syntax = schema.SyntaxOID
	s.AddAttributeType(objectClass)

	cn := schema.NewAttributeType("2.5.4.3", "cn")
	cn.Syntax = schema.SyntaxDirectoryString
	s.AddAttributeType(cn)

	sn := schema.NewAttributeType("2.5.4.4", "sn")
	sn.Syntax = schema.SyntaxDirectoryString
	s.AddAttributeType(sn)

	ou := schema.NewAttributeType("2.5.4.11", "ou")
	ou.Syntax = schema.SyntaxDirectoryString
	s.AddAttributeType(ou)

	dc := schema.NewAttributeType("0.9.2342.19200300.100.1.25", "dc")
	dc.Syntax = schema.SyntaxDirectoryString
	dc.SingleValue = true
	s.AddAttributeType(dc)

	description := schema.NewAttributeType("2.5.4.13", "description")
	description.Syntax = schema.SyntaxDirectoryString
	s.AddAttributeType(description)

	aliasedObjectName := schema.NewAttributeType("2.5.4.1", "aliasedObjectName")
	aliasedObjectName.Syntax = schema.SyntaxDirectoryString
	aliasedObjectName.SingleValue = true
	s.AddAttributeType(aliasedObjectName)

	top := schema.NewObjectClass("2.5.6.0", "top")
	top.Kind = schema.ObjectClassAbstract
	top.Must = []string{"objectClass"}
	s.AddObjectClass(top)

	domain := schema.NewObjectClass("0.9.2342.19200300.100.4.13", "domain")
	domain.Kind = schema.ObjectClassStructural
	domain.Superior = "top"
	domain.Must = []string{"dc"}
	s.AddObjectClass(domain)

	orgUnit := schema.NewObjectClass("2.5.6.5", "organizationalUnit")
	orgUnit.Kind = schema.ObjectClassStructural
	orgUnit.Superior = "top"
	orgUnit.Must = []string{"ou"}
	orgUnit.May = []string{"description"}
	s.AddObjectClass(orgUnit)

	person := schema.NewObjectClass("2.5.6.6", "person")
	person.Kind = schema.ObjectClassStructural
	person.Superior = "top"
	person.Must = []string{"sn", "cn"}
	person.May = []string{"description"}
	s.AddObjectClass(person)

	aliasOC := schema.NewObjectClass("2.5.6.1", "alias")
	aliasOC.Kind = schema.ObjectClassStructural
	aliasOC.Superior = "top"
	aliasOC.Must = []string{"aliasedObjectName"}
	s.AddObjectClass(aliasOC)

	extensible := schema.NewObjectClass("1.3.6.1.4.1.1466.101.120.111", "extensibleObject")
	extensible.Kind = schema.ObjectClassAuxiliary
	extensible.Superior = "top"
	s.AddObjectClass(extensible)

	return s
}

// newTestRecordManager opens a temp-file-backed storage.RecordManager, the
// shape internal/storage/index's own tests use: the index plane has no
// mock, since its btree.BPlusTree pairs need a real RecordManager.
func newTestRecordManager(t *testing.T) *storage.RecordManager {
	t.Helper()
	dir, err := os.MkdirTemp("", "dirstore_test_*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	opts := storage.DefaultOptions()
	opts.CreateIfNew = true
	pm, err := storage.OpenRecordManager(filepath.Join(dir, "test.db"), opts)
	if err != nil {
		t.Fatalf("OpenRecordManager: %v", err)
	}
	t.Cleanup(func() { pm.Close() })
	return pm
}

// newTestPartition opens a Partition over an in-memory mock storage engine
// and a real, temp-file-backed SystemIndexPlane.
func newTestPartition(t *testing.T, suffixDN string) *Partition {
	t.Helper()
	p, err := Open(suffixDN, testSchema(), newMockStorageEngine(), newTestRecordManager(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return p
}
