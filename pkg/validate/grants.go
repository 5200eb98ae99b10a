package validate

import (
	"fmt"

	"github.com/crystal-mush/mushscript/pkg/capability"
	"github.com/crystal-mush/mushscript/pkg/gamedb"
)

// GrantChecker reports stored grants whose class is not loaded, and grants
// whose params the class rejects. Unknown-class grants can be dropped.
type GrantChecker struct {
	Classes *capability.Classes
}

func (c *GrantChecker) Name() string { return "grants" }

func (c *GrantChecker) Check(store gamedb.Store) []Finding {
	var findings []Finding
	for _, e := range store.ListEntities() {
		for _, g := range e.Grants {
			class, ok := c.Classes.Lookup(g.Type)
			if !ok {
				id, typ := e.ID, g.Type
				findings = append(findings, Finding{
					Category:    CatGrant,
					Severity:    SevWarning,
					Entity:      id,
					Description: fmt.Sprintf("%s holds a grant of unknown capability %q", id, typ),
					Fixable:     true,
					fixFunc:     func() error { return dropGrant(store, id, typ) },
				})
				continue
			}
			if class.Validate == nil {
				continue
			}
			params, err := capability.Freeze(g.Params)
			if err == nil {
				err = class.Validate(params)
			}
			if err != nil {
				findings = append(findings, Finding{
					Category:    CatGrant,
					Severity:    SevWarning,
					Entity:      e.ID,
					Description: fmt.Sprintf("%s %s grant is misconfigured: %v", e.ID, g.Type, err),
				})
			}
		}
	}
	return findings
}

func dropGrant(store gamedb.Store, id, typ string) error {
	e, ok := store.GetEntity(id)
	if !ok {
		return gamedb.ErrNotFound
	}
	kept := make([]gamedb.GrantRecord, 0, len(e.Grants))
	for _, g := range e.Grants {
		if g.Type != typ {
			kept = append(kept, g)
		}
	}
	return store.UpdateEntity(id, gamedb.Patch{Grants: &kept})
}
