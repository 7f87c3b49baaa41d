// Command mdlm synchronizes a local directory of markdown documents with
// a remote knowledge-base service.
//
//	mdlm configure
//	mdlm clone [--category architecture]
//	mdlm status
//	mdlm push --message "update auth docs"
//	mdlm pull
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/starford/mdlm/internal/apperr"
	"github.com/starford/mdlm/internal/credentials"
	"github.com/starford/mdlm/internal/index"
	"github.com/starford/mdlm/internal/manifest"
	"github.com/starford/mdlm/internal/mcpserver"
	"github.com/starford/mdlm/internal/models"
	"github.com/starford/mdlm/internal/remote"
	"github.com/starford/mdlm/internal/storage"
	"github.com/starford/mdlm/internal/syncer"
)

const version = "1.0.0"

func main() {
	if err := rootCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCommand() *cli.Command {
	categoryUsage := "Category filter (" + strings.Join(models.Categories, ", ") + ")"

	return &cli.Command{
		Name:    "mdlm",
		Usage:   "Sync a local knowledge directory with the markdownlm service",
		Version: version,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging",
				Sources: cli.EnvVars("MDLM_VERBOSE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "configure",
				Usage:  "Save your API key securely",
				Action: runConfigure,
			},
			{
				Name:  "clone",
				Usage: "Download your knowledge base to ./knowledge/",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "category", Usage: categoryUsage},
				},
				Action: runClone,
			},
			{
				Name:   "pull",
				Usage:  "Refresh docs from the server (overwrites local changes)",
				Action: runPull,
			},
			{
				Name:   "status",
				Usage:  "Show new / modified / deleted files vs the last sync",
				Action: runStatus,
			},
			{
				Name:  "push",
				Usage: "Upload local changes to the server",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "message", Aliases: []string{"m"}, Usage: "Change reason recorded in version history"},
					&cli.StringFlag{Name: "category", Usage: categoryUsage},
					&cli.BoolFlag{Name: "delete", Usage: "Also delete docs that have been removed locally"},
				},
				Action: runPush,
			},
			{
				Name:      "search",
				Usage:     "Full-text search the local knowledge directory",
				ArgsUsage: "QUERY",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 20, Usage: "Maximum number of results"},
				},
				Action: runSearch,
			},
			{
				Name:   "watch",
				Usage:  "Keep the local search index fresh while editing",
				Action: runWatch,
			},
			{
				Name:   "mcp",
				Usage:  "Serve knowledge tools over MCP stdio",
				Action: runMCP,
			},
			{
				Name:      "query",
				Usage:     "Query the knowledge base for documented rules and patterns",
				ArgsUsage: "QUERY",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "category", Value: models.CategoryGeneral, Usage: categoryUsage},
				},
				Action: runQuery,
			},
			{
				Name:      "validate",
				Usage:     "Validate code against documented rules",
				ArgsUsage: "CODE|FILE",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "task", Aliases: []string{"t"}, Required: true, Usage: "One-sentence description of what the code does"},
					&cli.StringFlag{Name: "category", Aliases: []string{"c"}, Value: models.CategoryGeneral, Usage: categoryUsage},
				},
				Action: runValidate,
			},
			{
				Name:      "resolve-gap",
				Usage:     "Detect and log documentation gaps",
				ArgsUsage: "QUESTION",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "category", Aliases: []string{"c"}, Value: models.CategoryGeneral, Usage: categoryUsage},
				},
				Action: runResolveGap,
			},
		},
	}
}

func newLogger(cmd *cli.Command) *slog.Logger {
	level := slog.LevelWarn
	if cmd.Bool("verbose") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// workdir returns the manifest store and filesystem provider for the
// current directory.
func workdir() (*manifest.Store, *storage.FS, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, nil, err
	}
	fs, err := storage.NewFS(wd)
	if err != nil {
		return nil, nil, err
	}
	return manifest.NewStore(wd), fs, nil
}

func newClient(logger *slog.Logger) (*remote.Client, error) {
	prov, err := credentials.New(logger)
	if err != nil {
		return nil, err
	}
	token, err := prov.Token()
	if err != nil {
		return nil, err
	}
	base, err := prov.BaseURL()
	if err != nil {
		return nil, err
	}
	return remote.NewClient(base, token), nil
}

func newEngine(logger *slog.Logger, client *remote.Client) (*syncer.Engine, error) {
	man, fs, err := workdir()
	if err != nil {
		return nil, err
	}
	return syncer.New(man, fs, client, logger, os.Stdout), nil
}

func runConfigure(ctx context.Context, cmd *cli.Command) error {
	logger := newLogger(cmd)
	prov, err := credentials.New(logger)
	if err != nil {
		return err
	}

	fmt.Println("Find your API key on the markdownlm dashboard under Settings.")
	fmt.Println("It will NOT be echoed to the terminal.")
	fmt.Print("API key (mdlm_...): ")

	var key string
	if term.IsTerminal(int(os.Stdin.Fd())) {
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("read key: %w", err)
		}
		key = strings.TrimSpace(string(raw))
	} else {
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		key = strings.TrimSpace(line)
	}
	if key == "" {
		return errors.New("no key entered")
	}

	if err := prov.Save(key); err != nil {
		return err
	}
	fmt.Printf("API key saved to %s (permissions: 0600).\n", prov.Path)
	return nil
}

func runClone(ctx context.Context, cmd *cli.Command) error {
	logger := newLogger(cmd)
	client, err := newClient(logger)
	if err != nil {
		return err
	}
	eng, err := newEngine(logger, client)
	if err != nil {
		return err
	}
	_, err = eng.Clone(ctx, cmd.String("category"))
	return err
}

func runPull(ctx context.Context, cmd *cli.Command) error {
	logger := newLogger(cmd)
	client, err := newClient(logger)
	if err != nil {
		return err
	}
	eng, err := newEngine(logger, client)
	if err != nil {
		return err
	}
	_, err = eng.Pull(ctx)
	return err
}

func runStatus(ctx context.Context, cmd *cli.Command) error {
	logger := newLogger(cmd)
	// Status never touches the network, so no client is needed.
	eng, err := newEngine(logger, nil)
	if err != nil {
		return err
	}
	_, err = eng.Status()
	return err
}

func runPush(ctx context.Context, cmd *cli.Command) error {
	logger := newLogger(cmd)
	client, err := newClient(logger)
	if err != nil {
		return err
	}
	eng, err := newEngine(logger, client)
	if err != nil {
		return err
	}
	_, err = eng.Push(ctx, syncer.PushOptions{
		Message:  cmd.String("message"),
		Category: cmd.String("category"),
		Delete:   cmd.Bool("delete"),
	})
	return err
}

// openIndex opens .mdlm/index.db and brings it up to date with the
// knowledge tree.
func openIndex(logger *slog.Logger) (*index.DB, *manifest.Store, *storage.FS, error) {
	man, fs, err := workdir()
	if err != nil {
		return nil, nil, nil, err
	}
	if !man.IsInitialized() {
		return nil, nil, nil, fmt.Errorf("no manifest found, run `mdlm clone` first: %w", apperr.ErrNotInitialized)
	}
	db, err := index.Open(filepath.Join(fs.Root(), manifest.DirName, "index.db"))
	if err != nil {
		return nil, nil, nil, err
	}
	m, err := man.Load()
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	if err := index.Sync(db, fs, m, logger); err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	return db, man, fs, nil
}

func runSearch(ctx context.Context, cmd *cli.Command) error {
	logger := newLogger(cmd)
	query := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if query == "" {
		return errors.New("usage: mdlm search QUERY")
	}

	db, _, _, err := openIndex(logger)
	if err != nil {
		return err
	}
	defer db.Close()

	results, err := db.Search(query, int(cmd.Int("limit")))
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("No matches.")
		return nil
	}
	for _, r := range results {
		fmt.Printf("%s\t%s\n", r.Path, r.Title)
		if r.Snippet != "" {
			fmt.Printf("  %s\n", r.Snippet)
		}
	}
	return nil
}

func runWatch(ctx context.Context, cmd *cli.Command) error {
	logger := newLogger(cmd)
	db, man, fs, err := openIndex(logger)
	if err != nil {
		return err
	}
	defer db.Close()

	m, err := man.Load()
	if err != nil {
		return err
	}

	fmt.Printf("Watching ./%s/ — press Ctrl+C to stop.\n", storage.KnowledgeDir)

	g, gCtx := errgroup.WithContext(ctx)
	watchCtx, cancel := context.WithCancel(gCtx)
	defer cancel()

	g.Go(func() error {
		return index.Watch(watchCtx, db, fs, m, logger, func(kind, path string) {
			fmt.Printf("  %-7s %s\n", kind, path)
		})
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case <-quit:
		case <-watchCtx.Done():
		}
		cancel()
		return nil
	})

	return g.Wait()
}

func runMCP(ctx context.Context, cmd *cli.Command) error {
	logger := newLogger(cmd)
	db, man, fs, err := openIndex(logger)
	if err != nil {
		return err
	}
	defer db.Close()

	// The remote query tool is optional: local tools still work without
	// credentials.
	var q mcpserver.QueryClient
	if client, err := newClient(logger); err == nil {
		q = client
	} else {
		logger.Warn("remote query tool disabled", slog.String("error", err.Error()))
	}

	return mcpserver.New(fs, man, db, q).ServeStdio()
}

func runQuery(ctx context.Context, cmd *cli.Command) error {
	logger := newLogger(cmd)
	query := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if query == "" {
		return errors.New("usage: mdlm query QUERY")
	}
	category := cmd.String("category")
	if !models.ValidCategory(category) {
		return fmt.Errorf("%w: %q (valid: %s)", apperr.ErrUnknownCategory, category, strings.Join(models.Categories, ", "))
	}

	client, err := newClient(logger)
	if err != nil {
		return err
	}
	res, err := client.Query(ctx, query, category)
	if err != nil {
		return err
	}
	if res.Answer == "" {
		fmt.Println("No answer found.")
	} else {
		fmt.Println(res.Answer)
	}
	if res.GapDetected {
		fmt.Fprintln(os.Stderr, "\nNote: A documentation gap was detected for this query.")
	}
	return nil
}

func runValidate(ctx context.Context, cmd *cli.Command) error {
	logger := newLogger(cmd)
	arg := cmd.Args().First()
	if arg == "" {
		return errors.New("usage: mdlm validate CODE|FILE --task TASK")
	}
	category := cmd.String("category")
	if !models.ValidCategory(category) {
		return fmt.Errorf("%w: %q (valid: %s)", apperr.ErrUnknownCategory, category, strings.Join(models.Categories, ", "))
	}

	// The argument may be a file path or inline code.
	code := arg
	if info, statErr := os.Stat(arg); statErr == nil && info.Mode().IsRegular() {
		data, err := os.ReadFile(arg)
		if err != nil {
			return err
		}
		code = string(data)
	}

	client, err := newClient(logger)
	if err != nil {
		return err
	}
	res, err := client.ValidateCode(ctx, code, cmd.String("task"), category)
	if err != nil {
		return err
	}

	fmt.Printf("Status: %s\n", strings.ToUpper(res.Status))
	if len(res.Violations) == 0 {
		fmt.Println("No violations found.")
	} else {
		fmt.Printf("\nViolations found (%d):\n", len(res.Violations))
		for i, v := range res.Violations {
			fmt.Printf("  %d. %s\n", i+1, v.Rule)
			fmt.Printf("     Message: %s\n", v.Message)
			if v.FixSuggestion != "" {
				fmt.Printf("     Fix: %s\n", v.FixSuggestion)
			}
		}
	}
	if res.FixSuggestion != "" {
		fmt.Printf("\nOverall suggestion: %s\n", res.FixSuggestion)
	}
	return nil
}

func runResolveGap(ctx context.Context, cmd *cli.Command) error {
	logger := newLogger(cmd)
	question := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if question == "" {
		return errors.New("usage: mdlm resolve-gap QUESTION")
	}
	category := cmd.String("category")
	if !models.ValidCategory(category) {
		return fmt.Errorf("%w: %q (valid: %s)", apperr.ErrUnknownCategory, category, strings.Join(models.Categories, ", "))
	}

	client, err := newClient(logger)
	if err != nil {
		return err
	}
	res, err := client.ResolveGap(ctx, question, category)
	if err != nil {
		return err
	}

	fmt.Printf("Gap detected: %t\n", res.GapDetected)
	fmt.Printf("Resolution mode: %s\n", res.ResolutionMode)
	if res.Resolution != "" {
		fmt.Printf("\nResolution: %s\n", res.Resolution)
	}
	if res.GapID != "" {
		fmt.Printf("Gap ID: %s\n", res.GapID)
	}

	if res.GapDetected && res.ResolutionMode == "ask_user" {
		return errors.New("gap requires user input")
	}
	return nil
}
