package validate

import (
	"fmt"
	"sort"

	"github.com/crystal-mush/mushscript/pkg/eval"
	"github.com/crystal-mush/mushscript/pkg/gamedb"
	"github.com/crystal-mush/mushscript/pkg/tree"
)

// ScriptChecker reports verbs that call opcodes Known does not recognize.
// Such scripts compile and store fine but fault when they reach the call.
type ScriptChecker struct {
	Known func(op string) bool
}

// RegistryChecker returns a ScriptChecker backed by reg.
func RegistryChecker(reg *eval.Registry) *ScriptChecker {
	return &ScriptChecker{Known: func(op string) bool {
		_, ok := reg.Lookup(op)
		return ok
	}}
}

func (c *ScriptChecker) Name() string { return "scripts" }

func (c *ScriptChecker) Check(store gamedb.Store) []Finding {
	var findings []Finding
	for _, e := range store.ListEntities() {
		verbs := make([]string, 0, len(e.Scripts))
		for verb := range e.Scripts {
			verbs = append(verbs, verb)
		}
		sort.Strings(verbs)
		for _, verb := range verbs {
			for _, op := range tree.Opcodes(e.Scripts[verb]) {
				if tree.IsBuiltin(op) || c.Known(op) {
					continue
				}
				findings = append(findings, Finding{
					Category:    CatScript,
					Severity:    SevWarning,
					Entity:      e.ID,
					Verb:        verb,
					Description: fmt.Sprintf("%s/%s calls unknown opcode %q", e.ID, verb, op),
				})
			}
		}
	}
	return findings
}

// PropsChecker reports props holding values scripts cannot read back.
// The fix deletes the prop.
type PropsChecker struct{}

func (c *PropsChecker) Name() string { return "props" }

func (c *PropsChecker) Check(store gamedb.Store) []Finding {
	var findings []Finding
	for _, e := range store.ListEntities() {
		keys := make([]string, 0, len(e.Props))
		for k := range e.Props {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v := e.Props[k]
			if eval.IsData(v) {
				continue
			}
			id, key := e.ID, k
			findings = append(findings, Finding{
				Category:    CatProps,
				Severity:    SevError,
				Entity:      id,
				Description: fmt.Sprintf("%s prop %q holds %T, not plain data", id, key, v),
				Fixable:     true,
				fixFunc: func() error {
					return store.UpdateEntity(id, gamedb.Patch{Props: map[string]any{key: nil}})
				},
			})
		}
	}
	return findings
}
