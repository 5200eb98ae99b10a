package server

import (
	"context"
	"errors"
	"log"
	"runtime/debug"
	"time"
)

var errPanic = errors.New("panic during tick")

// StartTicker runs TickOnce every interval until ctx is done.
func (g *Game) StartTicker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	heartbeat := time.NewTicker(60 * time.Second)
	defer heartbeat.Stop()
	var faults int
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Printf("PANIC in world tick: %v", r)
					}
				}()
				faults += g.TickOnce(ctx)
			}()
		case <-heartbeat.C:
			if faults > 0 {
				log.Printf("Tick heartbeat: %d faults in the last minute", faults)
				faults = 0
			}
			g.Metrics.Update()
		}
	}
}

// TickOnce invokes the tick verb of every ticking entity once and returns
// how many invocations failed. Each entity runs under its own timeout; a
// fault or panic in one does not stop the rest.
func (g *Game) TickOnce(ctx context.Context) int {
	faults := 0
	for _, id := range g.Tickers() {
		if ctx.Err() != nil {
			break
		}
		if err := g.safeTick(ctx, id); err != nil {
			faults++
			debugf(debugTick, "tick %s: %v", id, err)
		}
	}
	return faults
}

func (g *Game) safeTick(ctx context.Context, id string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("PANIC in tick (entity=%s): %v\n%s", id, r, debug.Stack())
			err = errPanic
		}
	}()
	_, err = g.Invoke(ctx, id, "tick", id, g.OutputTo(g.Location(id), id))
	return err
}
