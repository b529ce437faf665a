// authzctl administers the authorization core from the command line.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/odyssey-erp/authzcore/internal/app"
	"github.com/odyssey-erp/authzcore/jobs"
)

type command struct {
	summary string
	run     func(ctx context.Context, e *env, args []string) error
}

var commands = map[string]command{
	"seed":     {summary: "sync the policy file into the role tables", run: runSeed},
	"check":    {summary: "evaluate a permission for a user", run: runCheck},
	"assign":   {summary: "assign a role to a user", run: runAssign},
	"revoke":   {summary: "revoke a role from a user", run: runRevoke},
	"verify":   {summary: "validate the legacy fallback map", run: runVerify},
	"timeline": {summary: "print or export the audit timeline", run: runTimeline},
	"apply":    {summary: "run a workflow transition as a user", run: runApply},
}

// connectFunc builds the runtime; replaced in tests.
var connectFunc = app.Bootstrap

// env carries what every command needs. The runtime is opened on first use so
// flag errors never touch the database.
type env struct {
	cfg    *app.Config
	logger *slog.Logger
	out    io.Writer
	rt     *app.Runtime
	queue  *jobs.Client
}

func (e *env) runtime(ctx context.Context) (*app.Runtime, error) {
	if e.rt != nil {
		return e.rt, nil
	}
	rt, err := connectFunc(ctx, e.cfg, e.logger)
	if err != nil {
		return nil, err
	}
	e.rt = rt
	return rt, nil
}

// notify asks a worker to drop cached permission sets again. The service already
// invalidated the cache it shares; the task retries that against Redis when the
// direct call failed. A memory cache is private to each process, so nothing is
// queued and other processes keep stale sets until RBAC_CACHE_TTL expires.
func (e *env) notify(ctx context.Context, principalID int64, reason string) {
	if !e.cfg.SharedPermissionCache() {
		e.logger.Warn("permission cache is process-local, other processes refresh after the ttl",
			slog.String("backend", e.cfg.RBACCacheBackend),
			slog.Duration("ttl", e.cfg.RBACCacheTTL),
			slog.Int64("principal_id", principalID))
		return
	}
	if e.queue == nil {
		e.queue = jobs.NewClient(e.cfg.AsynqRedis())
	}
	if _, err := e.queue.EnqueueCacheInvalidate(ctx, principalID, reason); err != nil {
		e.logger.Warn("enqueue cache invalidation", slog.Int64("principal_id", principalID), slog.Any("error", err))
	}
}

func (e *env) close() {
	if e.queue != nil {
		if err := e.queue.Close(); err != nil {
			e.logger.Warn("queue close", slog.Any("error", err))
		}
	}
	e.rt.Close()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config: %v\n", err)
		os.Exit(1)
	}
	e := &env{cfg: cfg, logger: app.NewLogger(cfg), out: os.Stdout}
	err = run(ctx, e, os.Args[1:])
	e.close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, e *env, args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printUsage(e.out)
		return nil
	}
	cmd, ok := commands[args[0]]
	if !ok {
		printUsage(e.out)
		return fmt.Errorf("unknown command %q", args[0])
	}
	return cmd.run(ctx, e, args[1:])
}

func printUsage(w io.Writer) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintln(w, "Usage: authzctl <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, name := range names {
		fmt.Fprintf(w, "  %-10s %s\n", name, commands[name].summary)
	}
}

// parseFlags parses args and swallows --help after printing the flag defaults.
func parseFlags(fs *pflag.FlagSet, e *env, args []string) (bool, error) {
	fs.SetOutput(e.out)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return false, nil
		}
		return false, err
	}
	if rest := fs.Args(); len(rest) > 0 {
		return false, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return true, nil
}
