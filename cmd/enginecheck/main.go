package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/park285/Cheese-EngineHost/internal/chess/engine"
	"github.com/park285/Cheese-EngineHost/internal/chess/engineconf"
)

// enginecheck starts one configured engine, waits for the handshake and prints what it reports.
func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: enginecheck <engine name>")
	}
	path := os.Getenv("ENGINES_FILE")
	if path == "" {
		path = "engines.yaml"
	}
	list, err := engineconf.Load(path)
	if err != nil {
		log.Fatalf("engines file error: %v", err)
	}
	cfg, err := engineconf.Find(list, strings.Join(os.Args[1:], " "))
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	s, err := engine.NewSession(cfg.Protocol, engine.Deps{})
	if err != nil {
		log.Fatal(err)
	}
	ready := make(chan bool, 1)
	gone := make(chan struct{})
	var goneOnce sync.Once
	s.OnEvent(func(ev engine.Event) {
		switch ev.Kind {
		case engine.EventReady:
			select {
			case ready <- true:
			default:
			}
		case engine.EventDisconnected:
			goneOnce.Do(func() { close(gone) })
			select {
			case ready <- false:
			default:
			}
		case engine.EventDebug:
			log.Printf("engine: %s", ev.Line)
		}
	})
	// the engine's own name is wanted here, so the configured one is left out
	anon := cfg
	anon.Name = ""
	s.ApplyConfiguration(anon)
	if err := s.Launch(ctx, engine.SpecFor(cfg)); err != nil {
		log.Fatalf("launch error: %v", err)
	}
	s.Start()

	select {
	case ok := <-ready:
		if !ok {
			log.Fatal("engine exited during the handshake")
		}
	case <-ctx.Done():
		s.Close()
		log.Fatal("handshake timed out")
	}

	fmt.Printf("name:     %s\n", s.Name())
	fmt.Printf("protocol: %s\n", cfg.Protocol)
	fmt.Printf("variants: %s\n", strings.Join(s.SupportedVariants(), ", "))
	opts := s.Options()
	fmt.Printf("options:  %d\n", len(opts))
	for _, o := range opts {
		fmt.Printf("  %-24s %-8s %v\n", o.Name(), o.Kind(), o.Value())
	}

	if os.Getenv("ENGINECHECK_SAVE") == "1" {
		for i := range list {
			if strings.EqualFold(list[i].Name, cfg.Name) {
				list[i].Variants = s.SupportedVariants()
			}
		}
		if err := engineconf.Save(path, list); err != nil {
			log.Printf("save error: %v", err)
		} else {
			log.Printf("saved variants to %s", path)
		}
	}

	s.Quit()
	select {
	case <-gone:
	case <-time.After(2 * engine.DefaultQuitTimeout):
	}
	s.Close()
}
