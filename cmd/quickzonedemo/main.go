// Command quickzonedemo drives a small QuickZone engine from a
// terminal: it spawns a grid of static zones, a herd of moving
// entities, and prints enter/exit events until interrupted.
package main

import (
	"context"
	"flag"
	"log"
	"math"
	"math/rand"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	quickzone "github.com/LDGerrits/QuickZone"
	"github.com/LDGerrits/QuickZone/internal/qzconfig"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML engine config (default: built-in defaults)")
	entityCount := flag.Int("entities", 200, "Number of moving entities to simulate")
	zoneGrid := flag.Int("zones", 5, "Zones per axis in the static grid (zones = grid^2)")
	tickHz := flag.Float64("tick-hz", 60, "Simulated ticks per second")
	flag.Parse()

	cfg := qzconfig.Default()
	if *configPath != "" {
		loaded, err := qzconfig.Load(*configPath)
		if err != nil {
			log.Fatalf("quickzonedemo: %v", err)
		}
		cfg = loaded
	}

	engine := quickzone.NewEngine(cfg, nil)
	observer := setupObserver(engine)
	spawnZoneGrid(engine, observer, *zoneGrid)
	spawnWanderers(engine, observer, *entityCount)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runTickLoop(ctx, engine, *tickHz)
	})

	log.Printf("quickzonedemo: running with %d zones, %d entities at %.0fHz; press ctrl-c to stop", *zoneGrid**zoneGrid, *entityCount, *tickHz)
	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Fatalf("quickzonedemo: %v", err)
	}
	log.Println("quickzonedemo: stopped")
}

func runTickLoop(ctx context.Context, engine *quickzone.Engine, tickHz float64) error {
	interval := time.Duration(float64(time.Second) / tickHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := engine.Tick(); err != nil {
				return err
			}
		}
	}
}

func setupObserver(engine *quickzone.Engine) quickzone.ObserverHandle {
	observer := engine.NewObserver(0)
	_ = observer.OnEntered(func(entity quickzone.EntityID, zone quickzone.ZoneID, metadata any) {
		log.Printf("entity %d entered zone %d (%v)", entity, zone, metadata)
	})
	_ = observer.OnExited(func(entity quickzone.EntityID, zone quickzone.ZoneID, metadata any) {
		log.Printf("entity %d exited zone %d (%v)", entity, zone, metadata)
	})
	return observer
}

func spawnZoneGrid(engine *quickzone.Engine, observer quickzone.ObserverHandle, grid int) {
	const spacing = 20.0
	for x := 0; x < grid; x++ {
		for z := 0; z < grid; z++ {
			origin := quickzone.Vector3{
				X: (float64(x) - float64(grid)/2) * spacing,
				Z: (float64(z) - float64(grid)/2) * spacing,
			}
			zone, err := engine.NewZone(quickzone.ZoneOptions{
				Transform: quickzone.Transform{Origin: origin, Basis: quickzone.IdentityBasis()},
				Extents:   quickzone.Extents{X: spacing * 0.8, Y: 10, Z: spacing * 0.8},
				Shape:     quickzone.Block,
				Metadata:  "grid-cell",
			})
			if err != nil {
				log.Fatalf("quickzonedemo: create zone: %v", err)
			}
			if err := zone.Attach(observer); err != nil {
				log.Fatalf("quickzonedemo: attach zone: %v", err)
			}
		}
	}
}

// wanderer is a toy entity that walks in a slow circle so it repeatedly
// crosses zone boundaries, giving the demo something to log.
type wanderer struct {
	center quickzone.Vector3
	radius float64
	phase  float64
	speed  float64
}

func (w *wanderer) position(elapsed float64) quickzone.Vector3 {
	angle := w.phase + elapsed*w.speed
	return quickzone.Vector3{
		X: w.center.X + w.radius*math.Cos(angle),
		Z: w.center.Z + w.radius*math.Sin(angle),
	}
}

func spawnWanderers(engine *quickzone.Engine, observer quickzone.ObserverHandle, count int) quickzone.GroupHandle {
	group, err := engine.NewGroup(quickzone.GroupOptions{UpdateRateHz: 20, PrecisionUnits: 0.1})
	if err != nil {
		log.Fatalf("quickzonedemo: create group: %v", err)
	}
	if err := observer.Subscribe(group); err != nil {
		log.Fatalf("quickzonedemo: subscribe group: %v", err)
	}

	start := time.Now()
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < count; i++ {
		w := &wanderer{
			center: quickzone.Vector3{X: rng.Float64()*100 - 50, Z: rng.Float64()*100 - 50},
			radius: rng.Float64()*15 + 5,
			phase:  rng.Float64() * 2 * math.Pi,
			speed:  rng.Float64()*0.5 + 0.1,
		}
		probe := quickzone.ProbeFunc(func() quickzone.Vector3 {
			return w.position(time.Since(start).Seconds())
		})
		if _, err := group.Add(i, probe, nil); err != nil {
			log.Fatalf("quickzonedemo: add entity: %v", err)
		}
	}
	return group
}
