// Package cli implements the ontograph command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"

	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/buildinfo"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/ontology"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/pkg/ontograph"
)

// Globals are the flags shared by every command. Flags override the
// environment.
type Globals struct {
	LibsqlURL string `name:"libsql-url" help:"libSQL database URL (default: LIBSQL_URL or file:./ontograph.db)"`
	AuthToken string `name:"auth-token" help:"Authentication token for remote databases"`

	out io.Writer
}

func (g *Globals) stdout() io.Writer {
	if g.out == nil {
		return os.Stdout
	}
	return g.out
}

func (g *Globals) open(ctx context.Context) (*ontograph.Service, error) {
	cfg := ontograph.NewConfigFromEnv()
	if g.LibsqlURL != "" {
		cfg.URL = g.LibsqlURL
	}
	if g.AuthToken != "" {
		cfg.AuthToken = g.AuthToken
	}
	svc, err := ontograph.NewService(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return svc, nil
}

// ServeCmd runs the MCP server over stdio.
type ServeCmd struct {
	Ontology string `type:"existingfile" env:"ONTOLOGY_FILE" help:"Ontology seed document applied at startup"`
	Watch    bool   `short:"w" help:"Re-apply the ontology document whenever it changes"`
}

// Run executes the serve command.
func (c *ServeCmd) Run(g *Globals) error {
	if c.Watch && c.Ontology == "" {
		return errors.New("--watch requires --ontology")
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}()

	if err := seedOntology(ctx, svc, c.Ontology); err != nil {
		return err
	}
	if c.Watch {
		go func() {
			if err := svc.WatchOntology(ctx, c.Ontology); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Warning: ontology watcher stopped: %v", err)
			}
		}()
		log.Printf("Watching %s for ontology changes", c.Ontology)
	}

	// stdout carries JSON-RPC; everything else goes to stderr via log
	log.Printf("Starting ontograph %s (embeddings: %s)", buildinfo.Version, svc.ProviderName())
	err = svc.Serve(ctx)
	log.Println("Server stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// seedOntology applies path when given. Otherwise an empty store is seeded
// with the built-in ontology.
func seedOntology(ctx context.Context, svc *ontograph.Service, path string) error {
	if path != "" {
		res, err := svc.ApplyOntologyFile(ctx, path)
		if err != nil {
			return err
		}
		log.Printf("Applied ontology %s: %d types created, %d updated", path, res.TypesCreated, res.TypesUpdated)
		return nil
	}
	types, err := svc.EntityTypes(ctx)
	if err != nil {
		return err
	}
	if len(types) > 0 {
		return nil
	}
	if _, err := svc.ApplyOntology(ctx, ontology.Default()); err != nil {
		return err
	}
	log.Println("Seeded empty store with the built-in ontology")
	return nil
}

// OntologyCmd groups the administrative ontology commands.
type OntologyCmd struct {
	Apply OntologyApplyCmd `cmd:"" help:"Apply an ontology seed document"`
	Show  OntologyShowCmd  `cmd:"" help:"Print the stored ontology"`
}

// OntologyApplyCmd loads a YAML document into the store.
type OntologyApplyCmd struct {
	File string `arg:"" type:"existingfile" help:"YAML ontology document"`
}

// Run executes the ontology apply command.
func (c *OntologyApplyCmd) Run(g *Globals) error {
	ctx := context.Background()
	svc, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	res, err := svc.ApplyOntologyFile(ctx, c.File)
	if err != nil {
		return err
	}
	out := g.stdout()
	color.New(color.FgGreen).Fprintf(out, "✓ Applied %s\n", c.File)
	fmt.Fprintf(out, "  Types created:       %d\n", res.TypesCreated)
	fmt.Fprintf(out, "  Types updated:       %d\n", res.TypesUpdated)
	fmt.Fprintf(out, "  Relationship types:  %d\n", res.RelationshipTypes)
	return nil
}

// OntologyShowCmd prints entity types, their properties and edge shapes.
type OntologyShowCmd struct{}

// Run executes the ontology show command.
func (c *OntologyShowCmd) Run(g *Globals) error {
	ctx := context.Background()
	svc, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	types, err := svc.EntityTypes(ctx)
	if err != nil {
		return err
	}
	rels, err := svc.RelationshipTypes(ctx)
	if err != nil {
		return err
	}
	out := g.stdout()
	if len(types) == 0 {
		fmt.Fprintln(out, "No ontology loaded")
		return nil
	}
	bold := color.New(color.Bold)
	dim := color.New(color.Faint)
	for _, t := range types {
		bold.Fprintf(out, "%s", t.Name)
		if t.SeededOnly {
			color.New(color.FgYellow).Fprint(out, " (seeded only)")
		}
		fmt.Fprintln(out)
		for _, p := range t.Properties {
			req := ""
			if p.Required {
				req = " required"
			}
			fmt.Fprintf(out, "  %-22s %s%s\n", p.Name, p.DataType, req)
		}
	}
	fmt.Fprintln(out)
	for _, r := range rels {
		fmt.Fprintf(out, "%s -[%s]-> %s", r.SourceType, r.Label, r.TargetType)
		if r.Description != "" {
			dim.Fprintf(out, "  %s", r.Description)
		}
		fmt.Fprintln(out)
	}
	return nil
}

// ReindexCmd recomputes stored embeddings.
type ReindexCmd struct {
	Type string `help:"Only reindex entities of this type"`
}

// Run executes the reindex command.
func (c *ReindexCmd) Run(g *Globals) error {
	ctx := context.Background()
	svc, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	n, err := svc.Reindex(ctx, c.Type)
	if err != nil {
		return fmt.Errorf("reindexing: %w", err)
	}
	color.New(color.FgGreen).Fprintf(g.stdout(), "✓ Re-embedded %d entities\n", n)
	return nil
}

// VersionCmd prints build information.
type VersionCmd struct{}

// Run executes the version command.
func (c *VersionCmd) Run(g *Globals) error {
	fmt.Fprintf(g.stdout(), "ontograph %s\n", buildinfo.String())
	return nil
}

// CLI is the root command.
type CLI struct {
	Globals

	VersionFlag kong.VersionFlag `name:"version" help:"Show version information"`

	Serve    ServeCmd    `cmd:"" help:"Start the MCP server over stdio"`
	Ontology OntologyCmd `cmd:"" help:"Manage the ontology"`
	Reindex  ReindexCmd  `cmd:"" help:"Recompute entity embeddings after a provider change"`
	Version  VersionCmd  `cmd:"" help:"Show build information"`
}

// NewCLI creates a new CLI instance.
func NewCLI() *CLI {
	return &CLI{}
}

// Execute parses command-line arguments and executes the selected command.
func (c *CLI) Execute(args []string) error {
	parser, err := kong.New(c,
		kong.Name("ontograph"),
		kong.Description("Ontology-governed entity graph construction over libSQL"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"version": buildinfo.Version,
		},
	)
	if err != nil {
		return err
	}
	kongCtx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	return kongCtx.Run(&c.Globals)
}
