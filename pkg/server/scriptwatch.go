package server

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/crystal-mush/mushscript/pkg/compiler"
	"github.com/crystal-mush/mushscript/pkg/gamedb"
	"github.com/crystal-mush/mushscript/pkg/tree"
)

// ScriptExt is the extension of script files in the script directory.
const ScriptExt = ".ms"

// ScriptWatcher recompiles script files when they change on disk.
type ScriptWatcher struct {
	w    *fsnotify.Watcher
	done chan struct{}
	once sync.Once
}

// Close stops watching and waits for the event loop to exit.
func (sw *ScriptWatcher) Close() error {
	var err error
	sw.once.Do(func() {
		err = sw.w.Close()
		<-sw.done
	})
	return err
}

// parseScriptFile splits "<entity>.<verb>.ms" into entity and verb. The
// entity part may itself contain dots; the verb is the last segment.
func parseScriptFile(name string) (entity, verb string, ok bool) {
	base := filepath.Base(name)
	if !strings.HasSuffix(base, ScriptExt) {
		return "", "", false
	}
	stem := strings.TrimSuffix(base, ScriptExt)
	i := strings.LastIndexByte(stem, '.')
	if i <= 0 || i == len(stem)-1 {
		return "", "", false
	}
	return stem[:i], stem[i+1:], true
}

// resolveScriptEntity finds the entity a script file names, by id first
// and then by name.
func (g *Game) resolveScriptEntity(ref string) (*gamedb.Entity, bool) {
	if e, ok := g.store.GetEntity(ref); ok {
		return e, true
	}
	for _, kind := range []gamedb.Kind{gamedb.KindPrototype, gamedb.KindRoom, gamedb.KindThing, gamedb.KindPlayer} {
		if e, ok := g.store.FindByName(ref, kind); ok {
			return e, true
		}
	}
	return nil, false
}

// LoadScriptFile compiles one script file and attaches it to its entity.
func (g *Game) LoadScriptFile(path string) error {
	ref, verb, ok := parseScriptFile(path)
	if !ok {
		return fmt.Errorf("%s: not named <entity>.<verb>%s", path, ScriptExt)
	}
	e, ok := g.resolveScriptEntity(ref)
	if !ok {
		return fmt.Errorf("%s: no entity %q", path, ref)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	n, err := compiler.Compile(filepath.Base(path), string(src))
	if err != nil {
		return err
	}
	if err := g.store.UpdateEntity(e.ID, gamedb.Patch{Scripts: map[string]*tree.Node{verb: &n}}); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	log.Printf("Script %s/%s loaded from %s", e.Name, verb, filepath.Base(path))
	return nil
}

// LoadScriptDir loads every script file in dir. Files that fail to compile
// or name no entity are logged and skipped.
func (g *Game) LoadScriptDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("reading script dir: %w", err)
	}
	n := 0
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ScriptExt) {
			continue
		}
		if err := g.LoadScriptFile(filepath.Join(dir, ent.Name())); err != nil {
			log.Printf("WARNING: %v", err)
			continue
		}
		n++
	}
	return n, nil
}

// WatchScripts starts an fsnotify watcher on dir that reloads script files
// as they are written. Compile errors are logged and reported to connected
// wizards; the previous version of the verb stays in place.
func (g *Game) WatchScripts(dir string) (*ScriptWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("script watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}
	sw := &ScriptWatcher{w: watcher, done: make(chan struct{})}

	go func() {
		defer close(sw.done)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if !strings.HasSuffix(event.Name, ScriptExt) {
					continue
				}
				if err := g.LoadScriptFile(event.Name); err != nil {
					log.Printf("Script reload failed: %v", err)
					g.notifyWizards(fmt.Sprintf("[scripts] %s", FaultText(err)))
					continue
				}
				g.notifyWizards(fmt.Sprintf("[scripts] Reloaded %s.", filepath.Base(event.Name)))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("Script watcher error: %v", err)
			}
		}
	}()

	log.Printf("Watching %s for script changes", dir)
	return sw, nil
}

func (g *Game) notifyWizards(msg string) {
	for _, d := range g.Conns.AllDescriptors() {
		if d.State == ConnConnected && g.IsWizard(d.Player) {
			d.Send(msg)
		}
	}
}
