package validate

import (
	"fmt"

	"github.com/crystal-mush/mushscript/pkg/gamedb"
)

// IntegrityChecker looks for dangling location, owner and prototype
// references and for location loops.
type IntegrityChecker struct{}

func (c *IntegrityChecker) Name() string { return "integrity" }

func (c *IntegrityChecker) Check(store gamedb.Store) []Finding {
	var findings []Finding
	entities := store.ListEntities()
	byID := make(map[string]*gamedb.Entity, len(entities))
	for _, e := range entities {
		byID[e.ID] = e
	}
	empty := ""

	for _, e := range entities {
		id := e.ID

		if e.Location != "" {
			if _, ok := byID[e.Location]; !ok {
				findings = append(findings, Finding{
					Category:    CatIntegrityError,
					Severity:    SevError,
					Entity:      id,
					Description: fmt.Sprintf("%s location %s does not exist", id, e.Location),
					Fixable:     true,
					fixFunc:     func() error { return store.UpdateEntity(id, gamedb.Patch{Location: &empty}) },
				})
			}
		}

		if e.Owner != "" {
			if owner, ok := byID[e.Owner]; !ok {
				findings = append(findings, Finding{
					Category:    CatIntegrityError,
					Severity:    SevError,
					Entity:      id,
					Description: fmt.Sprintf("%s owner %s does not exist", id, e.Owner),
				})
			} else if owner.Kind != gamedb.KindPlayer {
				findings = append(findings, Finding{
					Category:    CatIntegrityWarn,
					Severity:    SevWarning,
					Entity:      id,
					Description: fmt.Sprintf("%s owner %s is not a player (kind=%s)", id, e.Owner, owner.Kind),
				})
			}
		}

		if e.Prototype != "" {
			if proto, ok := byID[e.Prototype]; !ok {
				findings = append(findings, Finding{
					Category:    CatIntegrityError,
					Severity:    SevError,
					Entity:      id,
					Description: fmt.Sprintf("%s prototype %s does not exist", id, e.Prototype),
					Fixable:     true,
					fixFunc:     func() error { return store.UpdateEntity(id, gamedb.Patch{Prototype: &empty}) },
				})
			} else if proto.Kind != gamedb.KindPrototype {
				findings = append(findings, Finding{
					Category:    CatIntegrityWarn,
					Severity:    SevInfo,
					Entity:      id,
					Description: fmt.Sprintf("%s inherits from %s, which is a %s", id, e.Prototype, proto.Kind),
				})
			}
		}
	}

	// Location loops: a thing that is, transitively, inside itself.
	reported := make(map[string]bool)
	for _, e := range entities {
		visited := map[string]bool{e.ID: true}
		cur := e.Location
		for cur != "" {
			if visited[cur] {
				if cur == e.ID && !reported[e.ID] {
					findings = append(findings, Finding{
						Category:    CatIntegrityError,
						Severity:    SevError,
						Entity:      e.ID,
						Description: fmt.Sprintf("%s is inside itself", e.ID),
					})
					reported[e.ID] = true
				}
				break
			}
			visited[cur] = true
			next, ok := byID[cur]
			if !ok {
				break
			}
			cur = next.Location
		}
	}

	return findings
}
