package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/crystal-mush/mushscript/pkg/gamedb"
)

// ParseConnect parses a login-screen command into (command, user, password).
// Handles: "connect name password", "create name password" and quoted names.
func ParseConnect(msg string) (command, user, password string) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "", "", ""
	}

	parts := strings.SplitN(msg, " ", 2)
	command = strings.ToLower(parts[0])
	if len(parts) < 2 {
		return command, "", ""
	}
	rest := strings.TrimSpace(parts[1])
	if rest == "" {
		return command, "", ""
	}

	if rest[0] == '"' {
		if end := strings.Index(rest[1:], "\""); end >= 0 {
			user = rest[1 : end+1]
			password = strings.TrimSpace(rest[end+2:])
			return
		}
	}

	parts = strings.SplitN(rest, " ", 2)
	user = parts[0]
	if len(parts) > 1 {
		password = strings.TrimSpace(parts[1])
	}
	return
}

// LookupPlayer finds a player by name, case-insensitively.
func LookupPlayer(store gamedb.Store, name string) (*gamedb.Entity, bool) {
	return store.FindByName(name, gamedb.KindPlayer)
}

// HashPassword returns the bcrypt hash stored on player entities.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(h), nil
}

// CheckPassword verifies password against the player's stored hash.
func CheckPassword(p *gamedb.Entity, password string) bool {
	if p == nil || p.Password == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(p.Password), []byte(password)) == nil
}

// CreatePlayer makes a new player in the start room. Names must be unique
// among players.
func (g *Game) CreatePlayer(name, password string) (*gamedb.Entity, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, "=/\"") {
		return nil, fmt.Errorf("that is not a valid player name")
	}
	if len(password) < 4 {
		return nil, fmt.Errorf("passwords must be at least 4 characters")
	}
	if _, exists := LookupPlayer(g.store, name); exists {
		return nil, fmt.Errorf("that name is already taken")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	id, err := g.store.CreateEntity(&gamedb.Entity{
		Name:     name,
		Kind:     gamedb.KindPlayer,
		Location: g.Conf.StartRoom,
		Password: hash,
	})
	if err != nil {
		return nil, err
	}
	// Players own themselves.
	self := id
	if err := g.store.UpdateEntity(id, gamedb.Patch{Owner: &self}); err != nil {
		return nil, err
	}
	e, _ := g.store.GetEntity(id)
	return e, nil
}

// Bootstrap seeds an empty world with a start room and a wizard. The
// wizard's password is logged when it had to be generated.
func (g *Game) Bootstrap() error {
	if len(g.store.ListEntities()) > 0 {
		if g.Conf.StartRoom == "" {
			if r, ok := g.store.FindByName("Limbo", gamedb.KindRoom); ok {
				g.Conf.StartRoom = r.ID
			}
		}
		return nil
	}
	room, err := g.store.CreateEntity(&gamedb.Entity{Name: "Limbo", Kind: gamedb.KindRoom})
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	g.Conf.StartRoom = room

	password := g.Conf.WizardPassword
	generated := password == ""
	if generated {
		b := make([]byte, 8)
		rand.Read(b)
		password = hex.EncodeToString(b)
	}
	wiz, err := g.CreatePlayer(g.Conf.WizardName, password)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	on := true
	if err := g.store.UpdateEntity(wiz.ID, gamedb.Patch{Wizard: &on, Owner: &wiz.ID}); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	if err := g.store.UpdateEntity(room, gamedb.Patch{Owner: &wiz.ID}); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	if generated {
		log.Printf("Created wizard %q (%s) with password %s", wiz.Name, wiz.ID, password)
	} else {
		log.Printf("Created wizard %q (%s)", wiz.Name, wiz.ID)
	}
	return nil
}

// WelcomeText is shown to new line-protocol connections.
const WelcomeText = `
mushscript

"connect <name> <password>" to connect to your existing character.
"create <name> <password>" to create a new character.
"WHO" to see who is connected.
"QUIT" to disconnect.
`
