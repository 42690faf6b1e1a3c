package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"traffic-sim/internal/collision"
	"traffic-sim/internal/roadmap"
	"traffic-sim/internal/traffic"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	clientDir := flag.String("client", "", "Path to client directory (default: ../client)")
	dbPath := flag.String("db", "traffic.db", "SQLite database path (empty disables accounts and run history)")
	mapPath := flag.String("map", "", "Road map file, .yaml or .json (default: built-in map)")
	strategy := flag.String("strategy", string(collision.StrategyGrid), "Collision broad phase: grid or tree")
	cars := flag.Int("cars", traffic.DefaultCars, "Cars per new run")
	seed := flag.Int64("seed", 1, "Default random seed for new runs")
	strict := flag.Bool("strict", false, "Panic on collision index corruption instead of rebuilding")
	publicURL := flag.String("public-url", "", "Base URL encoded in session QR codes (default: request host)")
	flag.Parse()

	if *clientDir == "" {
		exe, _ := os.Executable()
		*clientDir = filepath.Join(filepath.Dir(exe), "..", "client")
		// Fallback for development
		if _, err := os.Stat(*clientDir); os.IsNotExist(err) {
			*clientDir = "../client"
		}
	}

	var (
		road *roadmap.Map
		err  error
	)
	if *mapPath != "" {
		road, err = roadmap.Load(*mapPath)
	} else {
		road, err = roadmap.Default()
	}
	if err != nil {
		log.Fatalf("load map: %v", err)
	}

	defaults := traffic.DefaultConfig()
	defaults.Cars = *cars
	defaults.Seed = *seed
	defaults.Strict = *strict
	if defaults.Strategy, err = collision.ParseStrategy(*strategy); err != nil {
		log.Fatalf("%v", err)
	}
	if err := defaults.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	var db *DB
	if *dbPath != "" {
		db, err = OpenDB(*dbPath)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer db.Close()
	}

	hub := NewHub(db, road, defaults)
	go hub.Run()

	mux := SetupRoutes(hub, *clientDir, *publicURL)

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	server := &http.Server{Addr: *addr, Handler: mux}

	go func() {
		log.Printf("Server starting on %s", *addr)
		log.Printf("Serving client files from %s", *clientDir)
		log.Printf("Map %q: %d intersections, %d roads", road.Name, len(road.Intersections()), len(road.Roads()))
		if db == nil {
			log.Printf("No database: accounts and run history disabled")
		}
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe: %v", err)
		}
	}()

	<-stop
	log.Println("Shutting down...")
	server.Close()
	hub.Shutdown()
}
