package dirstore

import "github.com/dircore/engine/internal/diag"

var opLog = diag.New("component", "dirstore")

// indexPatch tracks a sequence of index-plane mutations applied ahead of
// the master-row commit. Index patches go in first so a crash or a failed
// commit can only ever leave index rows without a master row, never a
// committed master row the indices cannot reach; when the commit does
// fail, Revert walks the applied steps backward to restore the plane's
// pre-mutation state.
type indexPatch struct {
	undo []func() error
}

// apply runs do and, on success, remembers undo as its inverse. On
// failure every previously applied step is reverted before the error is
// returned, so a half-applied patch never outlives the operation.
func (ip *indexPatch) apply(do, undo func() error) error {
	if err := do(); err != nil {
		ip.Revert()
		return err
	}
	ip.undo = append(ip.undo, undo)
	return nil
}

// Revert unwinds the applied steps in reverse order. A step that fails
// to revert is logged and skipped; the remaining steps still run.
func (ip *indexPatch) Revert() {
	for i := len(ip.undo) - 1; i >= 0; i-- {
		if err := ip.undo[i](); err != nil {
			opLog.Errorf("revert index patch: %v", err)
		}
	}
	ip.undo = nil
}
