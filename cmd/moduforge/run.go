package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/moduforge/moduforge/internal/config"
	"github.com/moduforge/moduforge/internal/crdt"
	"github.com/moduforge/moduforge/internal/event"
	"github.com/moduforge/moduforge/internal/runtime"
	"github.com/moduforge/moduforge/internal/schema"
	"github.com/moduforge/moduforge/internal/schemaio"
	"github.com/moduforge/moduforge/internal/state"
	"github.com/moduforge/moduforge/internal/tree"
)

// runServe handles the "moduforge run" subcommand: it loads config and
// schema, starts a Runtime, and blocks until interrupted. It does not
// open any network transport — wiring a Runtime to a wire protocol is a
// caller concern (spec.md §1 Non-goals), so this exists to let an
// operator validate that a config + schema combination starts cleanly.
func runServe(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a TOML config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))

	sch, err := loadSchema(cfg)
	if err != nil {
		return fmt.Errorf("loading schema: %w", err)
	}

	root := tree.Node{ID: uuid.NewString(), TypeName: sch.TopNode()}
	initial, err := state.New(sch, root, nil, nil)
	if err != nil {
		return fmt.Errorf("building initial state: %w", err)
	}

	bus := event.New()
	bus.Subscribe(func(ev event.Event) {
		logger.Info("event", "kind", ev.Kind)
	})

	rt := runtime.New(initial, cfg, logger, nil, bus)
	defer rt.Shutdown()

	if cfg.Room.Enabled {
		bridge := crdt.NewBridge(nil, bus)
		if err := bridge.InitRoom(cfg.Room.ID, cfg.Room.ReplicaID, initial.Tree()); err != nil {
			return fmt.Errorf("initializing room %s: %w", cfg.Room.ID, err)
		}
		if err := bridge.AttachRuntime(cfg.Room.ID, rt); err != nil {
			return fmt.Errorf("attaching runtime to room %s: %w", cfg.Room.ID, err)
		}
		defer bridge.ShutdownRoom(cfg.Room.ID)
		rt.Use(&crdt.RoomMiddleware{Bridge: bridge, RoomID: cfg.Room.ID, Spawn: rt, Logger: logger})
		logger.Info("moduforge room attached", "room_id", cfg.Room.ID, "replica_id", cfg.Room.ReplicaID)
	}

	logger.Info("moduforge runtime started",
		"version", Version,
		"top_node", sch.TopNode(),
		"root_id", root.ID,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	logger.Info("moduforge runtime shutting down")
	return nil
}

// loadSchemaSpec resolves cfg.Schema into an uncompiled Spec. config.Validate
// rejects setting both Inline and Path; setting neither is reported here.
func loadSchemaSpec(cfg *config.RuntimeConfig) (*schema.Spec, error) {
	switch {
	case cfg.Schema.Path != "":
		return schemaio.Load(cfg.Schema.Path)
	case cfg.Schema.Inline != "":
		return schemaio.LoadString([]byte(cfg.Schema.Inline))
	default:
		return nil, fmt.Errorf("no schema configured: set schema.path or schema.inline")
	}
}

// loadSchema resolves and compiles cfg.Schema.
func loadSchema(cfg *config.RuntimeConfig) (*schema.Schema, error) {
	spec, err := loadSchemaSpec(cfg)
	if err != nil {
		return nil, err
	}
	return schema.Compile(*spec)
}
