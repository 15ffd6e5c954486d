package dirstore

import "github.com/dircore/engine/internal/direrr"

// List returns the normalized DNs of parentDN's immediate subordinates,
// per §6's list(parentId) -> stream<id> operation (here resolved to DN
// strings, the unit every other dirstore operation addresses entries
// by).
func (p *Partition) List(parentDN string) ([]string, error) {
	d, err := p.parseDN(parentDN)
	if err != nil {
		return nil, err
	}
	normDN := d.NormString()

	parentID, ok, err := p.sysIdx.LookupByNormalizedDN(normDN)
	if err != nil {
		return nil, direrr.Wrap(direrr.KindIoError, err, "resolve entry id")
	}
	if !ok {
		return nil, direrr.New(direrr.KindNoSuchObject, "no such entry").WithDN(normDN)
	}

	childIDs, err := p.sysIdx.Children(parentID)
	if err != nil {
		return nil, direrr.Wrap(direrr.KindIoError, err, "list children")
	}

	out := make([]string, 0, len(childIDs))
	for _, id := range childIDs {
		if childDN, ok, err := p.sysIdx.NormalizedDN(id); err == nil && ok {
			out = append(out, childDN)
		}
	}
	return out, nil
}
