package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/draftmill/draftmill/config"
	"github.com/draftmill/draftmill/internal/bootstrap"
	"github.com/draftmill/draftmill/internal/domain/model"
	"github.com/draftmill/draftmill/internal/service"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
}

// keySpace describes one family of Redis keys the service writes. The
// patterns mirror the prefixes used by the research cache and the intake
// dedupe guard.
type keySpace struct {
	name    string
	pattern string
}

var (
	researchKeySpace = keySpace{name: "research cache", pattern: "research:content:*"}
	intakeKeySpace   = keySpace{name: "intake dedupe", pattern: "intake:message:*"}
)

func main() {
	logger := bootstrap.InitLogger()

	if len(os.Args) < 2 {
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when no command is provided
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		if err := writef(os.Stderr, "unknown command %q\n\n", cmdName); err != nil {
			logger.Error("print unknown command message failed", "error", err)
		}
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.ErrorContext(context.Background(), "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}

	cmdCtx := &commandContext{
		Ctx:    context.Background(),
		Logger: logger,
		Config: cfg,
	}
	if runErr := cmd.run(cmdCtx, os.Args[2:]); runErr != nil {
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func commands() map[string]command {
	return map[string]command{
		"infra-check": {
			name:        "infra-check",
			description: "Verify Redis connectivity and summarize configuration",
			run:         runInfraCheck,
		},
		"list-research-cache": {
			name:        "list-research-cache",
			description: "Inspect cached research entries in Redis",
			run:         runListResearchCache,
		},
		"clear-research-cache": {
			name:        "clear-research-cache",
			description: "Clear cached research entries from Redis",
			run:         runClearResearchCache,
		},
		"list-intake-dedupe": {
			name:        "list-intake-dedupe",
			description: "Inspect intake message dedupe keys in Redis",
			run:         runListIntakeDedupe,
		},
		"clear-intake-dedupe": {
			name:        "clear-intake-dedupe",
			description: "Clear intake message dedupe keys from Redis",
			run:         runClearIntakeDedupe,
		},
		"check-topic": {
			name:        "check-topic",
			description: "Run the offline guardrail layers against a topic",
			run:         runCheckTopic,
		},
	}
}

func printUsage() error {
	if err := writef(os.Stdout, "Usage: draftmill-admin <command> [flags]\n\n"); err != nil {
		return err
	}
	if err := writef(os.Stdout, "Available commands:\n"); err != nil {
		return err
	}
	cmds := commands()
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := cmds[name]
		if err := writef(os.Stdout, "  %-24s %s\n", c.name, c.description); err != nil {
			return err
		}
	}
	return nil
}

type listKeysOptions struct {
	Limit int
}

type clearKeysOptions struct {
	DryRun bool
	Yes    bool
}

type checkTopicOptions struct {
	Topic string
}

func runInfraCheck(cmdCtx *commandContext, _ []string) error {
	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, time.Minute)
	defer cancel()

	if err := printConfigSummary(&cmdCtx.Config); err != nil {
		return err
	}

	redisClient, err := connectCache(cmdCtx.Logger, &cmdCtx.Config)
	if errors.Is(err, errCacheNotConfigured) {
		if writeErr := writeln(os.Stdout, "\nCache is not configured; skipping Redis checks."); writeErr != nil {
			return fmt.Errorf("print cache availability: %w", writeErr)
		}
		return nil
	}
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := redisClient.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("redis close failed", "error", closeErr)
		}
	}()

	return printKeyCounts(ctx, redisClient)
}

func printConfigSummary(cfg *config.AppConfig) error {
	if err := writef(os.Stdout, "\nConfiguration\n"); err != nil {
		return fmt.Errorf("print config header: %w", err)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if err := writeln(w, "Setting\tValue"); err != nil {
		return fmt.Errorf("write config table header: %w", err)
	}
	if err := writef(w, "HTTP Addr\t%s\n", cfg.HTTP.Addr); err != nil {
		return fmt.Errorf("write http addr: %w", err)
	}
	if err := writef(w, "Backend Configured\t%t\n", cfg.Backend.IsConfigured()); err != nil {
		return fmt.Errorf("write backend configured: %w", err)
	}
	if err := writef(w, "Mail Configured\t%t\n", cfg.Mail.IsComplete()); err != nil {
		return fmt.Errorf("write mail configured: %w", err)
	}
	if err := writef(w, "Cache Enabled\t%t\n", cfg.Cache.Enabled); err != nil {
		return fmt.Errorf("write cache enabled: %w", err)
	}
	if err := writef(w, "Monitor Auto-Start\t%t\n", cfg.Monitor.AutoStart); err != nil {
		return fmt.Errorf("write monitor auto-start: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush config table: %w", err)
	}
	return nil
}

func printKeyCounts(ctx context.Context, client redis.UniversalClient) error {
	if err := writef(os.Stdout, "\nRedis Key Families\n"); err != nil {
		return fmt.Errorf("print key family header: %w", err)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if err := writeln(w, "Family\tPattern\tKeys"); err != nil {
		return fmt.Errorf("write key family table header: %w", err)
	}
	for _, space := range []keySpace{researchKeySpace, intakeKeySpace} {
		total, err := countKeys(ctx, client, space.pattern)
		if err != nil {
			return err
		}
		if err := writef(w, "%s\t%s\t%d\n", space.name, space.pattern, total); err != nil {
			return fmt.Errorf("write key family row %q: %w", space.name, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush key family table: %w", err)
	}
	return nil
}

func countKeys(ctx context.Context, client redis.UniversalClient, pattern string) (int, error) {
	iter := client.Scan(ctx, 0, pattern, 100).Iterator()
	total := 0
	for iter.Next(ctx) {
		total++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan: %w", err)
	}
	return total, nil
}

func runListResearchCache(cmdCtx *commandContext, args []string) error {
	return runListKeys(cmdCtx, "list-research-cache", researchKeySpace, args)
}

func runListIntakeDedupe(cmdCtx *commandContext, args []string) error {
	return runListKeys(cmdCtx, "list-intake-dedupe", intakeKeySpace, args)
}

func runListKeys(cmdCtx *commandContext, cmdName string, space keySpace, args []string) error {
	opts, err := parseListKeysFlags(cmdName, args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, 2*time.Minute)
	defer cancel()

	redisClient, err := connectCache(cmdCtx.Logger, &cmdCtx.Config)
	if errors.Is(err, errCacheNotConfigured) {
		if writeErr := writeln(os.Stderr, "Cache is not configured; set CACHE_REDIS_ADDR"); writeErr != nil {
			return fmt.Errorf("print cache availability: %w", writeErr)
		}
		return nil
	}
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := redisClient.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("redis close failed", "error", closeErr)
		}
	}()

	cmdCtx.Logger.Info("scanning redis", "pattern", space.pattern)

	iter := redisClient.Scan(ctx, 0, space.pattern, 100).Iterator()
	if headerErr := writef(os.Stdout, "\nKeys matching %s\n", space.pattern); headerErr != nil {
		return fmt.Errorf("print key list header: %w", headerErr)
	}

	total, iterErr := writeKeysWithTTL(keyScanInput{
		Ctx:    ctx,
		Iter:   iter,
		Client: redisClient,
		Logger: cmdCtx.Logger,
		Limit:  opts.Limit,
	})
	if iterErr != nil {
		return iterErr
	}

	if total == 0 {
		if nonePrintErr := writeln(os.Stdout, "(no keys found)"); nonePrintErr != nil {
			return fmt.Errorf("print key list none: %w", nonePrintErr)
		}
		return nil
	}

	if totalPrintErr := writef(os.Stdout, "\nTotal keys: %d\n", total); totalPrintErr != nil {
		return fmt.Errorf("print key list total: %w", totalPrintErr)
	}
	if opts.Limit > 0 && total > opts.Limit {
		if morePrintErr := writef(
			os.Stdout,
			"Showing first %d keys; raise --limit to view more.\n",
			opts.Limit,
		); morePrintErr != nil {
			return fmt.Errorf("print key list more notice: %w", morePrintErr)
		}
	}
	return nil
}

type keyScanInput struct {
	Ctx    context.Context
	Iter   *redis.ScanIterator
	Client redis.UniversalClient
	Logger *slog.Logger
	Limit  int
}

// writeKeysWithTTL prints up to Limit keys with their TTLs and returns the
// total number of matches, which keeps counting past the print limit.
func writeKeysWithTTL(input keyScanInput) (int, error) {
	if input.Iter == nil {
		return 0, errors.New("redis scan: nil iterator")
	}

	printer := cacheKeyPrinter{
		ctx:    input.Ctx,
		client: input.Client,
		logger: input.Logger,
	}

	total := 0
	for input.Iter.Next(input.Ctx) {
		key := input.Iter.Val()
		total++

		if input.Limit > 0 && total > input.Limit {
			continue
		}
		if err := printer.print(key); err != nil {
			return 0, err
		}
	}

	if err := input.Iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan: %w", err)
	}

	return total, nil
}

type cacheKeyPrinter struct {
	ctx    context.Context
	client redis.UniversalClient
	logger *slog.Logger
}

func (p *cacheKeyPrinter) print(key string) error {
	if p == nil {
		return errors.New("cache key printer: nil receiver")
	}

	ttl, ttlErr := p.client.TTL(p.ctx, key).Result()
	if ttlErr != nil {
		if p.logger != nil {
			p.logger.ErrorContext(p.ctx, "failed to fetch TTL", "key", key, "error", ttlErr)
		}
		if ttlPrintErr := writef(os.Stdout, "  %s (TTL: error: %v)\n", key, ttlErr); ttlPrintErr != nil {
			return fmt.Errorf("print key ttl error: %w", ttlPrintErr)
		}
		return nil
	}

	if ttlPrintErr := writef(os.Stdout, "  %s (TTL: %s)\n", key, renderTTL(ttl)); ttlPrintErr != nil {
		return fmt.Errorf("print key ttl: %w", ttlPrintErr)
	}
	return nil
}

func runClearResearchCache(cmdCtx *commandContext, args []string) error {
	return runClearKeys(cmdCtx, "clear-research-cache", researchKeySpace, args)
}

func runClearIntakeDedupe(cmdCtx *commandContext, args []string) error {
	return runClearKeys(cmdCtx, "clear-intake-dedupe", intakeKeySpace, args)
}

func runClearKeys(cmdCtx *commandContext, cmdName string, space keySpace, args []string) error {
	opts, err := parseClearKeysFlags(cmdName, args)
	if err != nil {
		return err
	}
	if confirmErr := confirmClearKeys(space, opts); confirmErr != nil {
		return confirmErr
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, 2*time.Minute)
	defer cancel()

	redisClient, err := connectCache(cmdCtx.Logger, &cmdCtx.Config)
	if errors.Is(err, errCacheNotConfigured) {
		if writeErr := writeln(os.Stderr, "Cache is not configured; set CACHE_REDIS_ADDR"); writeErr != nil {
			return fmt.Errorf("print cache availability: %w", writeErr)
		}
		return nil
	}
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := redisClient.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("redis close failed", "error", closeErr)
		}
	}()

	req := &keyDeleteRequest{
		Ctx:      ctx,
		Logger:   cmdCtx.Logger,
		Redis:    redisClient,
		Space:    space,
		Options:  opts,
		BatchCap: 1000,
	}
	stats, err := deleteKeysByPattern(req)
	if err != nil {
		return err
	}

	if stats.total == 0 {
		if writeErr := writef(os.Stdout, "No %s keys found in Redis\n", space.name); writeErr != nil {
			return fmt.Errorf("print clear summary: %w", writeErr)
		}
		return nil
	}

	if opts.DryRun {
		return printClearDryRun(stats)
	}

	return printClearSummary(space, stats)
}

func printClearDryRun(stats keyDeleteStats) error {
	if err := writef(os.Stdout, "Dry-run: would delete %d/%d keys\n", stats.deleted, stats.total); err != nil {
		return fmt.Errorf("print clear dry run: %w", err)
	}
	return nil
}

func printClearSummary(space keySpace, stats keyDeleteStats) error {
	if err := writef(os.Stdout, "Processed %d %s keys\n", stats.total, space.name); err != nil {
		return fmt.Errorf("print clear processed: %w", err)
	}
	if err := writef(os.Stdout, "Deleted %d/%d keys\n", stats.deleted, stats.total); err != nil {
		return fmt.Errorf("print clear deleted: %w", err)
	}
	if stats.failures == 0 {
		return nil
	}

	if err := writef(os.Stdout, "Failed batches: %d\n", stats.failures); err != nil {
		return fmt.Errorf("print clear failures: %w", err)
	}
	return nil
}

type keyDeleteRequest struct {
	Ctx      context.Context
	Logger   *slog.Logger
	Redis    redis.UniversalClient
	Space    keySpace
	Options  clearKeysOptions
	BatchCap int
}

type keyDeleteStats struct {
	total    int
	deleted  int64
	failures int
}

func flushDeleteBatch(req *keyDeleteRequest, batch []string, stats *keyDeleteStats) {
	if len(batch) == 0 {
		return
	}
	if req.Options.DryRun {
		stats.deleted += int64(len(batch))
		if req.Logger != nil {
			req.Logger.Info("dry-run skipping delete", "count", len(batch))
		}
		return
	}
	n, delErr := req.Redis.Del(req.Ctx, batch...).Result()
	if delErr != nil {
		stats.failures++
		if req.Logger != nil {
			req.Logger.Error(
				"failed to delete keys",
				"pattern",
				req.Space.pattern,
				"count",
				len(batch),
				"error",
				delErr,
			)
		}
		if err := writef(os.Stdout, "Failed to delete %d keys: %v\n", len(batch), delErr); err != nil &&
			req.Logger != nil {
			req.Logger.Error("stdout write for delete failure failed", "error", err)
		}
		return
	}
	stats.deleted += n
}

func deleteKeysByPattern(req *keyDeleteRequest) (keyDeleteStats, error) {
	batchCap := req.BatchCap
	if batchCap <= 0 {
		batchCap = 1000
	}

	if req.Logger != nil {
		req.Logger.Info("scanning redis", "pattern", req.Space.pattern, "dry_run", req.Options.DryRun)
	}

	iter := req.Redis.Scan(req.Ctx, 0, req.Space.pattern, 100).Iterator()
	batch := make([]string, 0, batchCap)

	stats := keyDeleteStats{}
	for iter.Next(req.Ctx) {
		stats.total++
		batch = append(batch, iter.Val())

		if len(batch) == batchCap {
			flushDeleteBatch(req, batch, &stats)
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return stats, fmt.Errorf("redis scan: %w", err)
	}

	flushDeleteBatch(req, batch, &stats)
	return stats, nil
}

func runCheckTopic(cmdCtx *commandContext, args []string) error {
	opts, err := parseCheckTopicFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, time.Minute)
	defer cancel()

	// No backend is wired in, so only the structural and keyword layers run.
	guardrail := service.NewGuardrailService(service.GuardrailServiceOptions{
		Logger: cmdCtx.Logger,
	})
	verdict := guardrail.Check(ctx, opts.Topic)

	return printTopicCheckResults(&printTopicCheckRequest{
		Topic:   opts.Topic,
		Verdict: verdict,
	})
}

type printTopicCheckRequest struct {
	Topic   string
	Verdict model.SafetyVerdict
}

func printTopicCheckResults(req *printTopicCheckRequest) error {
	if err := writef(os.Stdout, "\nGuardrail Check\n"); err != nil {
		return fmt.Errorf("write check header: %w", err)
	}
	if err := writef(os.Stdout, "Topic: %s\n\n", req.Topic); err != nil {
		return fmt.Errorf("write check topic: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if err := writeln(w, "Field\tValue"); err != nil {
		return fmt.Errorf("write check table header: %w", err)
	}
	verdict := "admitted"
	if !req.Verdict.Safe {
		verdict = "blocked"
	}
	if err := writef(w, "Verdict\t%s\n", verdict); err != nil {
		return fmt.Errorf("write check verdict: %w", err)
	}
	if req.Verdict.Reason != "" {
		if err := writef(w, "Reason\t%s\n", req.Verdict.Reason); err != nil {
			return fmt.Errorf("write check reason: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush check table: %w", err)
	}

	if !req.Verdict.Safe {
		if err := writeln(
			os.Stdout,
			"\nThe topic would be rejected before any pipeline stage runs.",
		); err != nil {
			return fmt.Errorf("write check banner: %w", err)
		}
	}
	return nil
}

func parseListKeysFlags(name string, args []string) (listKeysOptions, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts listKeysOptions
	fs.IntVar(&opts.Limit, "limit", 50, "Maximum keys to display (0 for unlimited)")

	if err := fs.Parse(args); err != nil {
		return listKeysOptions{}, err
	}

	if opts.Limit < 0 {
		return listKeysOptions{}, errors.New("--limit must be >= 0")
	}

	return opts, nil
}

func parseClearKeysFlags(name string, args []string) (clearKeysOptions, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts clearKeysOptions
	fs.BoolVar(&opts.DryRun, "dry-run", false, "Print actions without executing")
	fs.BoolVar(&opts.Yes, "yes", false, "Skip confirmation prompt")

	if err := fs.Parse(args); err != nil {
		return clearKeysOptions{}, err
	}

	return opts, nil
}

func parseCheckTopicFlags(args []string) (checkTopicOptions, error) {
	fs := flag.NewFlagSet("check-topic", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts checkTopicOptions
	fs.StringVar(&opts.Topic, "topic", "", "Topic to screen (required)")

	if err := fs.Parse(args); err != nil {
		return checkTopicOptions{}, err
	}

	opts.Topic = strings.TrimSpace(opts.Topic)
	if opts.Topic == "" {
		return checkTopicOptions{}, errors.New("--topic is required")
	}

	return opts, nil
}

func confirmClearKeys(space keySpace, opts clearKeysOptions) error {
	if opts.DryRun || opts.Yes {
		return nil
	}

	if err := writef(
		os.Stdout,
		"About to delete every %s key matching %q.\n",
		space.name,
		space.pattern,
	); err != nil {
		return fmt.Errorf("print confirmation intro: %w", err)
	}
	if err := write(os.Stdout, "Continue? [y/N]: "); err != nil {
		return fmt.Errorf("print confirmation prompt: %w", err)
	}
	reader := bufio.NewReader(os.Stdin)
	resp, err := reader.ReadString('\n')
	if err != nil {
		if writeErr := writef(os.Stdout, "\nFailed to read confirmation input: %v\n", err); writeErr != nil {
			return fmt.Errorf("aborted by user: report write failed: %w", writeErr)
		}
		return errors.New("aborted by user")
	}
	resp = strings.ToLower(strings.TrimSpace(resp))
	if resp == "y" || resp == "yes" {
		return nil
	}
	return errors.New("aborted by user")
}

func renderTTL(d time.Duration) string {
	switch {
	case d == -1*time.Second:
		return "no expiry"
	case d == -2*time.Second:
		return "key missing"
	default:
		return d.String()
	}
}

func write(w io.Writer, args ...any) error {
	_, err := fmt.Fprint(w, args...)
	return err
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

func writeln(w io.Writer, args ...any) error {
	if len(args) == 0 {
		_, err := fmt.Fprintln(w)
		return err
	}
	_, err := fmt.Fprintln(w, args...)
	return err
}
