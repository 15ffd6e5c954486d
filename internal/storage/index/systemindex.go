package index

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/dircore/engine/internal/storage"
	"github.com/dircore/engine/internal/storage/btree"
)

// planeMetadataMarker tags the SystemIndexPlane's metadata page, keeping
// it distinguishable from IndexManager's MetadataPageType pages that share
// the same PageTypeAttrIndex page type.
const planeMetadataMarker byte = 0xAB

// SystemIndexName identifies one of the Index Plane's seven mandatory
// indices, each maintained as a forward/reverse B+ tree pair the same
// way IndexManager maintains a per-attribute value index.
type SystemIndexName string

const (
	IdxNormalizedDN   SystemIndexName = "normalizedDn"
	IdxUserProvidedDN SystemIndexName = "userProvidedDn"
	IdxHierarchy      SystemIndexName = "hierarchy"
	IdxExistence      SystemIndexName = "existence"
	IdxAlias          SystemIndexName = "alias"
	IdxOneLevelAlias  SystemIndexName = "oneLevelAlias"
	IdxSubtreeAlias   SystemIndexName = "subtreeAlias"
)

var systemIndexNames = []SystemIndexName{
	IdxNormalizedDN, IdxUserProvidedDN, IdxHierarchy, IdxExistence,
	IdxAlias, IdxOneLevelAlias, IdxSubtreeAlias,
}

// pair is one system index's forward (key -> entry id) and reverse
// (entry id -> key) B+ trees. The reverse tree lets a delete or move
// find and remove an entry's prior forward entries without a value the
// caller would otherwise have to re-derive.
type pair struct {
	forward *btree.BPlusTree
	reverse *btree.BPlusTree
}

// SystemIndexPlane owns the seven system indices plus any user-configured
// equality/presence/substring indices (delegated to the embedded
// IndexManager, which already implements those). Every forward/reverse
// pair shares the one RecordManager, so a partition's entire Index Plane
// lives in one set of index files per SPEC_FULL.md's single-partition
// scope.
type SystemIndexPlane struct {
	mu   sync.RWMutex
	pm   *storage.RecordManager
	pair map[SystemIndexName]*pair
	user *IndexManager

	// metaPageID locates the plane's metadata page: the seven pairs' root
	// page IDs plus the entry-id sequence, so both survive a process
	// restart (ids never recycle across the life of a partition).
	metaPageID storage.PageID
	entrySeq   int64
}

// OpenSystemIndexPlane loads the seven system index pairs from pm's plane
// metadata page (a reopened store), or allocates them fresh on a new
// store, plus wraps pm's general-purpose attribute index manager for user
// indices.
func OpenSystemIndexPlane(pm *storage.RecordManager) (*SystemIndexPlane, error) {
	um, err := NewIndexManager(pm)
	if err != nil {
		return nil, err
	}

	p := &SystemIndexPlane{pm: pm, pair: make(map[SystemIndexName]*pair), user: um}

	if err := p.loadPlaneMetadata(); err == nil {
		return p, nil
	}

	for _, name := range systemIndexNames {
		fwd, err := btree.NewBPlusTree(pm, 0)
		if err != nil {
			return nil, fmt.Errorf("index: allocate %s forward tree: %w", name, err)
		}
		rev, err := btree.NewBPlusTree(pm, 0)
		if err != nil {
			return nil, fmt.Errorf("index: allocate %s reverse tree: %w", name, err)
		}
		p.pair[name] = &pair{forward: fwd, reverse: rev}
	}

	metaPageID, err := pm.AllocatePage(storage.PageTypeAttrIndex)
	if err != nil {
		return nil, fmt.Errorf("index: allocate plane metadata page: %w", err)
	}
	p.metaPageID = metaPageID
	if err := p.savePlaneMetadataLocked(); err != nil {
		return nil, fmt.Errorf("index: write plane metadata: %w", err)
	}
	return p, nil
}

// loadPlaneMetadata scans for the plane's metadata page (the same scan
// idiom IndexManager.loadDirectory uses for its own page) and reopens
// every system index pair from its persisted root.
func (p *SystemIndexPlane) loadPlaneMetadata() error {
	totalPages := p.pm.TotalPages()
	for pageID := storage.PageID(1); uint64(pageID) < totalPages; pageID++ {
		page, err := p.pm.ReadPage(pageID)
		if err != nil {
			continue
		}
		if page.Header.PageType != storage.PageTypeAttrIndex || len(page.Data) == 0 || page.Data[0] != planeMetadataMarker {
			continue
		}
		p.metaPageID = pageID
		return p.parsePlaneMetadata(page)
	}
	return fmt.Errorf("index: no plane metadata page found")
}

func (p *SystemIndexPlane) parsePlaneMetadata(page *storage.Page) error {
	data := page.Data
	need := 1 + 8 + len(systemIndexNames)*16
	if len(data) < need || data[0] != planeMetadataMarker {
		return ErrMetadataCorrupted
	}
	offset := 1
	p.entrySeq = int64(binary.LittleEndian.Uint64(data[offset:]))
	offset += 8

	for _, name := range systemIndexNames {
		fwdRoot := storage.PageID(binary.LittleEndian.Uint64(data[offset:]))
		offset += 8
		revRoot := storage.PageID(binary.LittleEndian.Uint64(data[offset:]))
		offset += 8

		fwd, err := btree.NewBPlusTreeWithRoot(p.pm, fwdRoot, 0)
		if err != nil {
			return fmt.Errorf("index: reopen %s forward tree: %w", name, err)
		}
		rev, err := btree.NewBPlusTreeWithRoot(p.pm, revRoot, 0)
		if err != nil {
			return fmt.Errorf("index: reopen %s reverse tree: %w", name, err)
		}
		p.pair[name] = &pair{forward: fwd, reverse: rev}
	}
	return nil
}

// savePlaneMetadataLocked rewrites the plane metadata page with the
// current tree roots (a root page changes whenever a root node splits)
// and the entry-id sequence. Callers hold p.mu or have exclusive access.
func (p *SystemIndexPlane) savePlaneMetadataLocked() error {
	page, err := p.pm.ReadPage(p.metaPageID)
	if err != nil {
		page = storage.NewPage(p.metaPageID, storage.PageTypeAttrIndex)
	}
	for i := range page.Data {
		page.Data[i] = 0
	}

	offset := 0
	page.Data[offset] = planeMetadataMarker
	offset++
	binary.LittleEndian.PutUint64(page.Data[offset:], uint64(p.entrySeq))
	offset += 8
	for _, name := range systemIndexNames {
		pr := p.pair[name]
		binary.LittleEndian.PutUint64(page.Data[offset:], uint64(pr.forward.Root()))
		offset += 8
		binary.LittleEndian.PutUint64(page.Data[offset:], uint64(pr.reverse.Root()))
		offset += 8
	}
	return p.pm.WritePage(page)
}

// NextEntryID mints the next entry id, read-modify-writing the persisted
// sequence so ids stay monotonic across a close and reopen. Id 0 is never
// returned; it is reserved as the synthetic parent of the suffix.
func (p *SystemIndexPlane) NextEntryID() (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entrySeq++
	if err := p.savePlaneMetadataLocked(); err != nil {
		p.entrySeq--
		return 0, err
	}
	return p.entrySeq, nil
}

// UserIndexes exposes the embedded attribute-value IndexManager for
// equality/presence/substring indices configured beyond the seven system
// indices.
func (p *SystemIndexPlane) UserIndexes() *IndexManager { return p.user }

func idKey(id int64) []byte {
	return []byte(strconv.FormatInt(id, 10))
}

func parseIDKey(b []byte) (int64, error) {
	return strconv.ParseInt(string(b), 10, 64)
}

// putUnique inserts key->id into forward and id->key into reverse,
// enforcing forward key uniqueness (used by normalizedDn, where two
// entries can never normalize to the same DN).
func (p *SystemIndexPlane) putUnique(name SystemIndexName, key []byte, id int64) error {
	pr := p.pair[name]
	if err := pr.forward.InsertUnique(key, btree.EntryRef{DN: strconv.FormatInt(id, 10)}); err != nil {
		return err
	}
	return pr.reverse.Insert(idKey(id), btree.EntryRef{DN: string(key)})
}

// put inserts a non-unique forward mapping (many ids may share a key,
// e.g. existence's attribute-name key) plus its reverse entry.
func (p *SystemIndexPlane) put(name SystemIndexName, key []byte, id int64) error {
	pr := p.pair[name]
	if err := pr.forward.Insert(key, btree.EntryRef{DN: strconv.FormatInt(id, 10)}); err != nil {
		return err
	}
	return pr.reverse.Insert(idKey(id), btree.EntryRef{DN: string(key)})
}

// remove deletes the key->id forward entry and the matching id->key
// reverse entry.
func (p *SystemIndexPlane) remove(name SystemIndexName, key []byte, id int64) error {
	pr := p.pair[name]
	if err := pr.forward.Delete(key, btree.EntryRef{DN: strconv.FormatInt(id, 10)}); err != nil {
		return err
	}
	return pr.reverse.Delete(idKey(id), btree.EntryRef{DN: string(key)})
}

// lookupForward returns every entry id stored under key in the named
// index's forward tree.
func (p *SystemIndexPlane) lookupForward(name SystemIndexName, key []byte) ([]int64, error) {
	refs, err := p.pair[name].forward.Search(key)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(refs))
	for _, r := range refs {
		id, err := strconv.ParseInt(r.DN, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// lookupReverse returns every key stored under id in the named index's
// reverse tree.
func (p *SystemIndexPlane) lookupReverse(name SystemIndexName, id int64) ([]string, error) {
	refs, err := p.pair[name].reverse.Search(idKey(id))
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(refs))
	for _, r := range refs {
		keys = append(keys, r.DN)
	}
	return keys, nil
}

// --- normalizedDn / userProvidedDn -----------------------------------

// PutDN records id's normalized and user-provided DN strings. Both sides
// of the pair are unique: two entries never share a normalized DN
// (invariant I1), and neither does an entry's own original-cased DN.
func (p *SystemIndexPlane) PutDN(normDN, origDN string, id int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.putUnique(IdxNormalizedDN, []byte(normDN), id); err != nil {
		return err
	}
	return p.putUnique(IdxUserProvidedDN, []byte(origDN), id)
}

// LookupByNormalizedDN resolves an entry id from its normalized DN.
func (p *SystemIndexPlane) LookupByNormalizedDN(normDN string) (int64, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids, err := p.lookupForward(IdxNormalizedDN, []byte(normDN))
	if err != nil || len(ids) == 0 {
		return 0, false, err
	}
	return ids[0], true, nil
}

// UserProvidedDN resolves id's originally submitted (non-normalized) DN
// string, so a delete or rename can remove its userProvidedDn entry
// without the caller having to carry it separately.
func (p *SystemIndexPlane) UserProvidedDN(id int64) (string, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys, err := p.lookupReverse(IdxUserProvidedDN, id)
	if err != nil || len(keys) == 0 {
		return "", false, err
	}
	return keys[0], true, nil
}

// NormalizedDN resolves id's normalized DN string, the reverse of
// LookupByNormalizedDN. Search and the move/rename cascade use this to
// walk a subtree by id without re-deriving DNs from storage.
func (p *SystemIndexPlane) NormalizedDN(id int64) (string, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys, err := p.lookupReverse(IdxNormalizedDN, id)
	if err != nil || len(keys) == 0 {
		return "", false, err
	}
	return keys[0], true, nil
}

// RemoveDN drops id's DN entries (used on delete, or as the first half of
// a rename/move before PutDN re-adds the new DN).
func (p *SystemIndexPlane) RemoveDN(normDN, origDN string, id int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.remove(IdxNormalizedDN, []byte(normDN), id); err != nil {
		return err
	}
	return p.remove(IdxUserProvidedDN, []byte(origDN), id)
}

// --- hierarchy ---------------------------------------------------------

// PutChild records id as an immediate subordinate of parentID. The
// forward tree maps parent id -> child ids (non-unique); the reverse
// tree maps child id -> parent id (unique, an entry has one parent).
func (p *SystemIndexPlane) PutChild(parentID, id int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pr := p.pair[IdxHierarchy]
	if err := pr.forward.Insert(idKey(parentID), btree.EntryRef{DN: strconv.FormatInt(id, 10)}); err != nil {
		return err
	}
	return pr.reverse.InsertUnique(idKey(id), btree.EntryRef{DN: strconv.FormatInt(parentID, 10)})
}

// Children returns the immediate subordinate ids of parentID.
func (p *SystemIndexPlane) Children(parentID int64) ([]int64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lookupForward(IdxHierarchy, idKey(parentID))
}

// Parent returns id's immediate superior.
func (p *SystemIndexPlane) Parent(id int64) (int64, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	refs, err := p.pair[IdxHierarchy].reverse.Search(idKey(id))
	if err != nil || len(refs) == 0 {
		return 0, false, err
	}
	parentID, err := strconv.ParseInt(refs[0].DN, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return parentID, true, nil
}

// RemoveChild drops the parentID/id hierarchy link, used on delete or as
// the first half of a move.
func (p *SystemIndexPlane) RemoveChild(parentID, id int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pr := p.pair[IdxHierarchy]
	if err := pr.forward.Delete(idKey(parentID), btree.EntryRef{DN: strconv.FormatInt(id, 10)}); err != nil {
		return err
	}
	return pr.reverse.Delete(idKey(id), btree.EntryRef{DN: strconv.FormatInt(parentID, 10)})
}

// --- existence -----------------------------------------------------

// PutExistence records that entry id carries a value for attr. The
// filter evaluator's optimizer consults this for presence filters
// without reading the entry itself.
func (p *SystemIndexPlane) PutExistence(attr string, id int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.put(IdxExistence, []byte(strings.ToLower(attr)), id)
}

// RemoveExistence drops the attr/id existence entry.
func (p *SystemIndexPlane) RemoveExistence(attr string, id int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remove(IdxExistence, []byte(strings.ToLower(attr)), id)
}

// ExistenceAttributes returns the attribute names id has existence
// entries for (used to clear them all on delete).
func (p *SystemIndexPlane) ExistenceAttributes(id int64) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lookupReverse(IdxExistence, id)
}

// HasAttribute reports whether any entry carries attr (a cheap candidate
// set size check for the optimizer; callers still confirm against the
// target id).
func (p *SystemIndexPlane) HasAttribute(attr string) ([]int64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lookupForward(IdxExistence, []byte(strings.ToLower(attr)))
}

// --- alias / oneLevelAlias / subtreeAlias ------------------------------

// PutAliasMarker records that alias id targets targetID. The forward key
// is the target's own id (matching §4.4's "forward key: normalized
// target DN, forward value: alias id" up to the DN/id substitution this
// plane makes uniformly), so a later delete of targetID can look up
// every alias still pointing at it via AliasesTargeting.
func (p *SystemIndexPlane) PutAliasMarker(id, targetID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.put(IdxAlias, idKey(targetID), id)
}

// RemoveAliasMarker drops id's alias-index entry, the reverse of
// PutAliasMarker.
func (p *SystemIndexPlane) RemoveAliasMarker(id, targetID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remove(IdxAlias, idKey(targetID), id)
}

// PutOneLevelAlias records that alias id (child of parentID) resolves to
// a target outside parentID's immediate children (I6). Callers skip this
// call entirely when the target is a sibling of the alias.
func (p *SystemIndexPlane) PutOneLevelAlias(parentID, id int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.put(IdxOneLevelAlias, idKey(parentID), id)
}

// RemoveOneLevelAlias drops the (parentID, id) oneLevelAlias entry.
func (p *SystemIndexPlane) RemoveOneLevelAlias(parentID, id int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remove(IdxOneLevelAlias, idKey(parentID), id)
}

// PutSubtreeAlias records alias id as reachable from a subtree search
// rooted at ancestorID, for every ancestor the caller has determined is
// not itself an ancestor of the alias's target (I6).
func (p *SystemIndexPlane) PutSubtreeAlias(ancestorID, id int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.put(IdxSubtreeAlias, idKey(ancestorID), id)
}

// RemoveSubtreeAlias drops the (ancestorID, id) subtreeAlias entry.
func (p *SystemIndexPlane) RemoveSubtreeAlias(ancestorID, id int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remove(IdxSubtreeAlias, idKey(ancestorID), id)
}

// IsAlias reports whether id is a known alias entry, by checking its
// reverse alias-index row (every alias has exactly one target).
func (p *SystemIndexPlane) IsAlias(id int64) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys, err := p.lookupReverse(IdxAlias, id)
	return len(keys) > 0, err
}

// AliasesTargeting returns the ids of every alias entry whose
// aliasedObjectName resolves to targetID. Delete uses this to refuse
// removing an entry that is still some alias's live target.
func (p *SystemIndexPlane) AliasesTargeting(targetID int64) ([]int64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lookupForward(IdxAlias, idKey(targetID))
}

// OneLevelAliasesUnder returns the alias entry ids whose immediate
// superior is parentID.
func (p *SystemIndexPlane) OneLevelAliasesUnder(parentID int64) ([]int64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lookupForward(IdxOneLevelAlias, idKey(parentID))
}

// SubtreeAliasesUnder returns the alias entry ids anywhere within
// ancestorID's subtree.
func (p *SystemIndexPlane) SubtreeAliasesUnder(ancestorID int64) ([]int64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lookupForward(IdxSubtreeAlias, idKey(ancestorID))
}

// Sync rewrites the plane metadata page (tree roots move as root nodes
// split) and flushes every system index pair's dirty pages plus the
// embedded user IndexManager, mirroring IndexManager.Sync's
// one-call-flushes-all shape.
func (p *SystemIndexPlane) Sync() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.savePlaneMetadataLocked(); err != nil {
		return err
	}
	if err := p.user.Sync(); err != nil {
		return err
	}
	return p.pm.Sync()
}
