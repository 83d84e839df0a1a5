// Command scry reviews a unified diff with an LLM tool-calling session.
//
// Usage:
//
//	git diff main... | scry -repo .
//	scry -repo . -diff changes.patch -focus "concurrency"
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/averen/scry"
	"github.com/averen/scry/diff"
	"github.com/averen/scry/internal/config"
	"github.com/averen/scry/observer"
	"github.com/averen/scry/provider/openaicompat"
	"github.com/averen/scry/review"
	"github.com/averen/scry/store/postgres"
	"github.com/averen/scry/store/sqlite"
	"github.com/averen/scry/tools/repo"
)

func main() {
	var (
		repoRoot = flag.String("repo", ".", "repository root the diff applies to")
		diffPath = flag.String("diff", "-", "unified diff file, or - for stdin")
		focus    = flag.String("focus", "", "optional focus request for the reviewer")
		htmlOut  = flag.String("html", "", "also write the review as HTML to this file")
		cfgPath  = flag.String("config", os.Getenv("SCRY_CONFIG"), "config file (default scry.toml)")
		verbose  = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	cfg := config.Load(*cfgPath)

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code, err := run(ctx, cfg, logger, *repoRoot, *diffPath, *focus, *htmlOut)
	if err != nil {
		log.Fatal(err)
	}
	os.Exit(code)
}

// run returns the process exit code instead of calling os.Exit so its defers
// (store close, span flush) run on every path.
func run(ctx context.Context, cfg config.Config, logger *slog.Logger, repoRoot, diffPath, focus, htmlOut string) (int, error) {
	diffText, err := readDiff(diffPath)
	if err != nil {
		return 0, err
	}

	var tracer scry.Tracer
	if cfg.Observer.Enabled {
		shutdown, err := observer.Init(ctx)
		if err != nil {
			return 0, fmt.Errorf("observer init: %w", err)
		}
		defer shutdown(context.Background())
		tracer = observer.NewTracer()
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return 0, err
	}
	if store != nil {
		defer store.Close()
	}

	provider := scry.WithRetry(
		scry.WithRateLimit(
			openaicompat.NewProvider(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL,
				openaicompat.WithContextWindow(cfg.LLM.ContextWindow)),
			scry.RPM(cfg.LLM.RPM), scry.TPM(cfg.LLM.TPM)),
		scry.RetryLogger(logger))

	prompts := review.NewBuilder()
	prompts.MaxFindings = cfg.Review.MaxFindings
	prompts.FailOn = cfg.Review.FailOn
	prompts.MaxHunkLines = cfg.Review.MaxHunkLines

	opts := []scry.Option{
		scry.WithTools(repo.Tools()...),
		scry.WithSettings(cfg),
		scry.WithRepoRoot(repoRoot),
		scry.WithGuard(scry.NewOutputGuard()),
		scry.WithSubagentToolCalls(cfg.Limits.SubagentToolCalls),
		scry.WithMinReviewChars(cfg.Review.MinChars),
		scry.WithLogger(logger),
	}
	if store != nil {
		opts = append(opts, scry.WithStore(store))
	}
	if tracer != nil {
		opts = append(opts, scry.WithTracer(tracer))
	}

	analyzer := scry.NewAnalyzer(provider, diff.NewParser(), prompts, opts...)

	report, err := analyzer.AnalyzeFocused(ctx, diffText, focus)
	if err != nil {
		return 0, fmt.Errorf("analysis: %w", err)
	}

	fmt.Println(report.Review)
	logger.Info("done",
		"session", report.SessionID,
		"state", string(report.State),
		"rounds", report.Rounds,
		"tool_calls", report.ToolCalls,
		"subagents", report.Subagents)

	findings := review.ParseFindings(report.Submission)
	if len(findings) > 0 {
		sum := review.ComputeSummary(findings)
		logger.Info("findings",
			"low", sum.Counts.Low,
			"medium", sum.Counts.Medium,
			"high", sum.Counts.High,
			"highest", string(sum.HighestSeverity))
	}

	if htmlOut != "" && report.State == scry.StateSuccess {
		html, err := review.RenderHTML("Code review "+report.SessionID, report.Review)
		if err != nil {
			return 0, err
		}
		if err := os.WriteFile(htmlOut, []byte(html), 0o644); err != nil {
			return 0, fmt.Errorf("write html: %w", err)
		}
	}

	switch {
	case report.State == scry.StateError:
		return 2, nil
	case review.AnyMeetsThreshold(findings, cfg.Review.FailOn):
		return 1, nil
	}
	return 0, nil
}

func readDiff(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read diff: %w", err)
	}
	return string(data), nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (scry.Store, error) {
	switch cfg.Database.Driver {
	case "", "none":
		return nil, nil
	case "sqlite":
		s := sqlite.New(cfg.Database.Path, sqlite.WithLogger(logger))
		if err := s.Init(ctx); err != nil {
			return nil, fmt.Errorf("sqlite init: %w", err)
		}
		return s, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Database.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("postgres connect: %w", err)
		}
		s := postgres.New(pool)
		if err := s.Init(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres init: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}
