package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wardenbot/warden/internal/api"
	"github.com/wardenbot/warden/internal/config"
	"github.com/wardenbot/warden/internal/dataimport"
	"github.com/wardenbot/warden/internal/extensions"
	"github.com/wardenbot/warden/internal/extensions/profiles"
	"github.com/wardenbot/warden/internal/extensions/tags"
	"github.com/wardenbot/warden/internal/gateway"
	"github.com/wardenbot/warden/internal/migrate"
	"github.com/wardenbot/warden/internal/schema"
)

func main() {
	cmd := "run"
	args := os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd = args[0]
		args = args[1:]
	}

	var err error
	switch cmd {
	case "run":
		err = runBot(args)
	case "initdb":
		err = runInitDB(args)
	case "dropdb":
		err = runDropDB(args)
	case "import":
		err = runImport(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\nusage: warden [run|initdb|dropdb|import]\n", cmd)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app bundles what every command needs: configuration, the extension list,
// and the registries populated from it.
type app struct {
	cfg    *config.Config
	exts   []extensions.Extension
	tables *schema.Registry
	units  *dataimport.Registry
	store  *migrate.Store
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	store, err := migrate.NewStore(cfg.MigrationsDir)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg: cfg,
		exts: []extensions.Extension{
			profiles.New(cfg.LegacyDir),
			tags.New(cfg.LegacyDir),
		},
		tables: schema.NewRegistry(),
		units:  dataimport.NewRegistry(),
		store:  store,
	}
	if err := extensions.Register(a.exts, a.tables, a.units); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) connect(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// runBot boots the bot shell: schema is brought current for every extension
// (the equivalent of migrate-on-load), the gateway session is established,
// and the operator status API serves until shutdown.
func runBot(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	applier := migrate.NewApplier(pool, a.store, a.cfg.QueryTimeout)
	applier.Verbose = false
	results, err := applier.Apply(ctx, a.tables.All())
	if err != nil {
		return err
	}
	for _, res := range results {
		if res.Err != nil {
			return fmt.Errorf("schema for table %s is not current: %w", res.Table, res.Err)
		}
	}

	session, err := gateway.Dial(ctx, a.cfg.GatewayURL, a.cfg.GatewayToken)
	if err != nil {
		return err
	}
	defer session.Close()
	log.Printf("[GATEWAY] session %s ready with %d cached entities",
		session.SessionID(), session.EntityCount())

	handler := api.NewHandler(a.tables, a.store)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	server := &http.Server{Addr: ":" + a.cfg.Port, Handler: mux}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Println("Shutting down...")
		if err := server.Shutdown(context.Background()); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
		handler.Stop()
		cancel()
	}()

	fmt.Printf("warden running, status API at http://localhost:%s\n", a.cfg.Port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// runInitDB migrates schema for the selected extensions, or all of them.
// Each table is an independent unit of work: failures are reported and the
// remaining tables still get processed.
func runInitDB(args []string) error {
	fs := flag.NewFlagSet("initdb", flag.ExitOnError)
	var exts stringList
	quiet := fs.Bool("q", false, "less verbose output")
	fs.Var(&exts, "e", "extension to initialise the database for (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}

	selected := extensions.Filter(a.exts, exts)
	if len(selected) == 0 {
		return fmt.Errorf("no matching extensions in %v", exts)
	}

	ctx := context.Background()
	pool, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	var defs []schema.Table
	for _, ext := range selected {
		defs = append(defs, a.tables.ByExtension(ext.Name())...)
	}

	applier := migrate.NewApplier(pool, a.store, a.cfg.QueryTimeout)
	applier.Verbose = !*quiet
	results, err := applier.Apply(ctx, defs)
	if err != nil {
		return err
	}

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "could not migrate %s: %v\n", res.Table, res.Err)
			continue
		}
		fmt.Printf("[%s] processed creation or migration for %s (version %d)\n",
			res.Extension, res.Table, res.Version)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tables failed to migrate", failed, len(results))
	}
	return nil
}

// runDropDB removes a table and all of its migration history, behind an
// interactive confirmation.
func runDropDB(args []string) error {
	fs := flag.NewFlagSet("dropdb", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: warden dropdb <table>")
	}
	name := fs.Arg(0)

	a, err := newApp()
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	dropper := migrate.NewDropper(pool, a.store, a.cfg.QueryTimeout)
	req, err := dropper.RequestDrop(name)
	if err != nil {
		return err
	}

	fmt.Printf("this removes the %s table and all of its migrations; there is no coming back.\n", name)
	fmt.Print("do you really want to do this? [y/N] ")
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	if answer != "y" && answer != "yes" {
		return fmt.Errorf("aborted")
	}

	warnings, err := dropper.ConfirmDrop(ctx, req.Token)
	if err != nil {
		return fmt.Errorf("drop %s: %w", name, err)
	}
	for _, warning := range warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", warning.Message)
	}
	fmt.Printf("successfully removed %s\n", name)
	return nil
}

// runImport performs the one-time legacy data import for the named units,
// or "all".
func runImport(args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	names := fs.Args()
	if len(names) == 0 {
		return fmt.Errorf("usage: warden import <unit>... (or \"all\")")
	}

	a, err := newApp()
	if err != nil {
		return err
	}

	orch := dataimport.NewOrchestrator(
		a.units, a.tables, a.store, a.cfg.QueryTimeout,
		func(ctx context.Context) (dataimport.Conn, error) {
			return a.connect(ctx)
		},
		func(ctx context.Context) (dataimport.Cache, error) {
			return gateway.Dial(ctx, a.cfg.GatewayURL, a.cfg.GatewayToken)
		},
	)

	results, err := orch.Run(context.Background(), names)
	for _, res := range results {
		if res.Err != nil {
			fmt.Fprintf(os.Stderr, "import unit %s failed: %v\n", res.Name, res.Err)
			continue
		}
		fmt.Printf("import unit %s completed successfully\n", res.Name)
	}
	return err
}
