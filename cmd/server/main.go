package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/crystal-mush/mushscript/pkg/archive"
	"github.com/crystal-mush/mushscript/pkg/boltstore"
	"github.com/crystal-mush/mushscript/pkg/gamedb"
	"github.com/crystal-mush/mushscript/pkg/server"
)

// envDefault returns the environment variable value if set, otherwise the fallback.
func envDefault(envVar, fallback string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return fallback
}

func envInt(envVar string, fallback int) int {
	if v := os.Getenv(envVar); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("WARNING: %s=%q is not a number, ignoring", envVar, v)
	}
	return fallback
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: mushscript [-conf <config>] [-bolt <boltfile>] [-port 6250] [-scriptdir <dir>]")
	fmt.Fprintln(os.Stderr, "       mushscript -conf <config> -restore <archive.tar.gz>")
	fmt.Fprintln(os.Stderr, "       mushscript -gen-jwt-secret")
	fmt.Fprintln(os.Stderr, "")
	flag.PrintDefaults()
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Environment variables (used as defaults when flags are not set):")
	fmt.Fprintln(os.Stderr, "  MUSH_CONF       Path to game config file (.yaml)")
	fmt.Fprintln(os.Stderr, "  MUSH_BOLT       Path to bbolt persistent database")
	fmt.Fprintln(os.Stderr, "  MUSH_PORT       Line-protocol TCP port")
	fmt.Fprintln(os.Stderr, "  MUSH_WEBPORT    HTTP/WebSocket port")
	fmt.Fprintln(os.Stderr, "  MUSH_SCRIPTDIR  Directory of <entity>.<verb>.ms scripts to load and watch")
	fmt.Fprintln(os.Stderr, "  MUSH_RESTORE    Path to archive .tar.gz for pre-boot restore")
	fmt.Fprintln(os.Stderr, "  MUSH_WIZPASS    Reset the wizard's password on startup")
	fmt.Fprintln(os.Stderr, "  MUSH_DEBUG      Set to 'true' for debug logging")
	fmt.Fprintln(os.Stderr, "  MUSH_DEBUG_TOPICS  Comma-separated debug topics: auth cmd gmcp rpc script tick")
}

func main() {
	confFile := flag.String("conf", envDefault("MUSH_CONF", ""), "Path to game config file (env: MUSH_CONF)")
	boltPath := flag.String("bolt", envDefault("MUSH_BOLT", ""), "Path to bbolt database, overrides config (env: MUSH_BOLT)")
	port := flag.Int("port", envInt("MUSH_PORT", -1), "Line-protocol port, overrides config; 0 disables (env: MUSH_PORT)")
	webPort := flag.Int("webport", envInt("MUSH_WEBPORT", -1), "HTTP/WebSocket port, overrides config; 0 disables (env: MUSH_WEBPORT)")
	scriptDir := flag.String("scriptdir", envDefault("MUSH_SCRIPTDIR", ""), "Script directory, overrides config (env: MUSH_SCRIPTDIR)")
	memory := flag.Bool("memory", false, "Keep the world in memory only; nothing is persisted")
	restorePath := flag.String("restore", envDefault("MUSH_RESTORE", ""), "Restore from archive before boot (env: MUSH_RESTORE)")
	wizPass := flag.String("wizpass", envDefault("MUSH_WIZPASS", ""), "Reset the wizard's password on startup (env: MUSH_WIZPASS)")
	debug := flag.Bool("debug", os.Getenv("MUSH_DEBUG") == "true", "Enable debug logging (env: MUSH_DEBUG)")
	debugTopics := flag.String("debug-topics", envDefault("MUSH_DEBUG_TOPICS", ""), "Comma-separated debug topics to enable (env: MUSH_DEBUG_TOPICS)")
	genSecret := flag.Bool("gen-jwt-secret", false, "Print a random JWT secret and exit")
	flag.Usage = usage
	flag.Parse()

	if *genSecret {
		fmt.Println(server.GenerateJWTSecret())
		return
	}

	log.Printf("Welcome to %s", server.VersionString())
	server.SetDebug(*debug)
	if err := server.EnableDebugTopics(strings.Split(*debugTopics, ",")); err != nil {
		log.Fatalf("-debug-topics: %v", err)
	}

	// Load game config if specified, otherwise use defaults
	var gc *server.GameConf
	if *confFile != "" {
		var err error
		gc, err = server.LoadGameConf(*confFile)
		if err != nil {
			log.Fatalf("Error loading game config: %v", err)
		}
		log.Printf("Loaded game config from %s", *confFile)
	} else {
		gc = server.DefaultGameConf()
	}

	// Command-line flags override config file values
	if *boltPath != "" {
		gc.BoltPath = *boltPath
	}
	if *port >= 0 {
		gc.Port = *port
	}
	if *webPort >= 0 {
		gc.WebPort = *webPort
	}
	if *scriptDir != "" {
		gc.ScriptDir = *scriptDir
	}

	// Pre-boot restore from archive
	if *restorePath != "" {
		if *memory {
			log.Fatalf("-restore needs a bolt database, not -memory")
		}
		log.Printf("Restoring from archive: %s", *restorePath)
		result, err := archive.RestoreArchive(archive.RestoreParams{
			ArchivePath: *restorePath,
			BoltDest:    gc.BoltPath,
			ScriptDest:  gc.ScriptDir,
			HelpDest:    gc.HelpFile,
			ConfDest:    gc.ConfPath,
			Stdin:       os.Stdin,
			Stdout:      os.Stdout,
		})
		if err != nil {
			log.Fatalf("Restore failed: %v", err)
		}
		log.Printf("Restore complete: %d files restored from %s (%s, %d entities)",
			result.FilesRestored, result.Manifest.Timestamp, result.Manifest.Server, result.Manifest.Entities)
		for _, w := range result.Warnings {
			log.Printf("Restore warning: %s", w)
		}
		if gc.ConfPath != "" {
			if gc, err = server.LoadGameConf(gc.ConfPath); err != nil {
				log.Fatalf("Error reloading restored config: %v", err)
			}
		}
	}

	var store gamedb.Store
	if *memory {
		log.Printf("Running with an in-memory world; nothing will be saved")
		store = gamedb.NewDatabase()
	} else {
		if err := os.MkdirAll(filepath.Dir(gc.BoltPath), 0755); err != nil {
			log.Fatalf("Error creating %s: %v", filepath.Dir(gc.BoltPath), err)
		}
		bs, err := boltstore.Open(gc.BoltPath)
		if err != nil {
			log.Fatalf("Error opening bolt database: %v", err)
		}
		defer bs.Close()
		if bs.HasData() {
			if err := bs.LoadAll(); err != nil {
				log.Fatalf("Error loading bolt database: %v", err)
			}
		} else {
			log.Printf("Bolt database %s is empty; a new world will be created", gc.BoltPath)
		}
		store = bs
	}

	game, err := server.NewGame(store, gc)
	if err != nil {
		log.Fatalf("Error initializing game: %v", err)
	}
	defer game.Close()
	if err := game.Bootstrap(); err != nil {
		log.Fatalf("Error bootstrapping world: %v", err)
	}

	if *wizPass != "" {
		if err := resetWizardPassword(store, gc.WizardName, *wizPass); err != nil {
			log.Fatalf("Error setting wizard password: %v", err)
		}
		log.Printf("Wizard password for %s updated", gc.WizardName)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("Starting %s...", gc.MudName)
	if err := server.NewServer(game).Start(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Printf("Shutdown complete")
}

func resetWizardPassword(store gamedb.Store, name, password string) error {
	p, ok := server.LookupPlayer(store, name)
	if !ok {
		return fmt.Errorf("no player named %q", name)
	}
	if !p.Wizard {
		return fmt.Errorf("%s is not a wizard", name)
	}
	hash, err := server.HashPassword(password)
	if err != nil {
		return err
	}
	return store.UpdateEntity(p.ID, gamedb.Patch{Password: &hash})
}
