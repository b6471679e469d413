package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/barekit/vitrine/pkg/assistant"
	"github.com/barekit/vitrine/pkg/config"
	"github.com/barekit/vitrine/pkg/knowledge"
	"github.com/barekit/vitrine/pkg/llm"
	"github.com/barekit/vitrine/pkg/memory"
	"github.com/barekit/vitrine/pkg/profile"
	"github.com/barekit/vitrine/pkg/scheduler"
	"github.com/barekit/vitrine/pkg/server"
	"gorm.io/gorm"
)

func closeApp(a *app) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		a.logger.Warn("shutdown incomplete", "error", err)
	}
}

func runServe(ctx context.Context, configPath, addr string, withSchedule bool) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer closeApp(a)

	asst, err := a.assistant()
	if err != nil {
		return err
	}
	if err := asst.EnsureSeeded(ctx); err != nil {
		a.logger.Warn("content index not seeded; retrying on first question", "error", err)
	}

	health := server.NewHealth(version)
	health.RegisterCheck(config.IndexContent, server.CountChecker(a.content.Count))
	health.RegisterCheck(config.IndexAesthetic, server.CountChecker(a.aesthetic.Count))
	health.RegisterCheck(config.IndexVisual, server.CountChecker(a.visual.Count))
	if a.catalogDB != nil {
		health.RegisterCheck("catalog", server.PingChecker(pingDB(a.catalogDB)))
	}

	sessions, err := memory.NewFactory(ctx, a.cfg.Sessions.Memory())
	if err != nil {
		return fmt.Errorf("sessions: %w", err)
	}
	if c, ok := sessions.(interface{ Close(context.Context) error }); ok {
		a.closers = append(a.closers, c.Close)
	}

	if withSchedule {
		sched, err := a.scheduler(ctx)
		if err != nil {
			return err
		}
		defer stopScheduler(a, sched)
	}

	if addr == "" {
		addr = a.cfg.Server.Addr
	}
	srv := server.New(asst,
		server.WithSessions(sessions, a.cfg.Sessions.HistoryLimit),
		server.WithCache(a.cache),
		server.WithHealth(health),
		server.WithLogger(a.logger),
	)
	return srv.ListenAndServe(ctx, addr, a.cfg.Server.ShutdownTimeout)
}

func pingDB(db *gorm.DB) func(context.Context) error {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}

func runAsk(ctx context.Context, configPath string, args []string, asJSON bool) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer closeApp(a)

	asst, err := a.assistant()
	if err != nil {
		return err
	}

	if len(args) > 0 {
		ans, err := asst.Answer(ctx, nil, strings.Join(args, " "))
		if err != nil {
			return err
		}
		return printAnswer(os.Stdout, ans, asJSON)
	}

	fmt.Println("Ask about RAK Porcelain. Empty line or Ctrl-D quits.")
	var history []llm.Message
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			break
		}

		ans, err := asst.Answer(ctx, memory.Recent(history, a.cfg.Sessions.HistoryLimit), query)
		if err != nil {
			var aerr *assistant.Error
			if errors.As(err, &aerr) {
				fmt.Fprintln(os.Stderr, aerr.Message)
				continue
			}
			return err
		}
		if err := printAnswer(os.Stdout, ans, asJSON); err != nil {
			return err
		}
		history = append(history,
			llm.Message{Role: llm.RoleUser, Content: query},
			llm.Message{Role: llm.RoleAssistant, Content: ans.Message},
		)
	}
	return scanner.Err()
}

func printAnswer(w io.Writer, ans *assistant.Answer, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(ans)
	}
	fmt.Fprintln(w, ans.Message)
	if len(ans.Sources) > 0 {
		fmt.Fprintln(w, "\nSources:")
		for _, s := range ans.Sources {
			fmt.Fprintf(w, "  %s\n", s)
		}
	}
	if len(ans.Products) > 0 {
		fmt.Fprintln(w, "\nProducts:")
		for _, p := range ans.Products {
			fmt.Fprintf(w, "  %s (%s) %s\n", p.Name, p.Code, p.ProductURL)
		}
	}
	if ans.Cached {
		fmt.Fprintln(w, "\n(cached)")
	}
	fmt.Fprintln(w)
	return nil
}

func runImage(ctx context.Context, configPath, imageURL string) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer closeApp(a)

	asst, err := a.assistant()
	if err != nil {
		return err
	}
	match, err := asst.MatchImage(ctx, imageURL)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(match)
}

func runSeed(ctx context.Context, configPath string) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer closeApp(a)

	asst, err := a.assistant()
	if err != nil {
		return err
	}
	if err := asst.EnsureSeeded(ctx); err != nil {
		return err
	}
	n, err := a.content.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Content index holds %d documents\n", n)
	return nil
}

func runIngest(ctx context.Context, configPath string, files []string, pageURL, title string) error {
	if pageURL != "" && len(files) > 1 {
		return errors.New("--url applies to a single file")
	}

	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer closeApp(a)

	kb := knowledge.NewKnowledgeBase(a.embedder, a.content)
	total := 0
	for _, path := range files {
		text, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		base := knowledge.ChunkMetadata{URL: pageURL, Title: title}
		if base.URL == "" {
			base.URL = path
		}
		if base.Title == "" {
			base.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}

		docs := a.chunker.Documents(base, string(text))
		if len(docs) == 0 {
			a.logger.Warn("no content to ingest", "file", path)
			continue
		}
		if err := kb.Ingest(ctx, docs); err != nil {
			return fmt.Errorf("ingest %s: %w", path, err)
		}
		a.logger.Info("ingested file", "file", path, "chunks", len(docs))
		total += len(docs)
	}
	fmt.Printf("Ingested %d chunks from %d files\n", total, len(files))
	return nil
}

func runIndex(ctx context.Context, configPath, target string, limit int) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer closeApp(a)

	b, err := a.builder()
	if err != nil {
		return err
	}
	s := a.cfg.Scheduler
	pick := func(configured int) int {
		if limit > 0 {
			return limit
		}
		return configured
	}

	var steps []func() (profile.Report, error)
	if target == "content" || target == "all" {
		steps = append(steps, func() (profile.Report, error) { return b.SyncContent(ctx, pick(s.ContentLimit)) })
	}
	if target == "aesthetic" || target == "all" {
		steps = append(steps, func() (profile.Report, error) { return b.BuildAesthetic(ctx, pick(s.AestheticLimit)) })
	}
	if target == "visual" || target == "all" {
		steps = append(steps, func() (profile.Report, error) { return b.BuildVisual(ctx, pick(s.VisualLimit)) })
	}
	if len(steps) == 0 {
		return fmt.Errorf("unknown index %q: want content, aesthetic, visual or all", target)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tPRODUCTS\tINDEXED\tSKIPPED\tFAILED\tDURATION")
	var errs []error
	for _, step := range steps {
		r, err := step()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\n", r.Index, r.Products, r.Indexed, r.Skipped, r.Failed, r.Duration.Round(time.Millisecond))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return a.cache.Clear(ctx)
}

// scheduler registers the nightly refresh and starts it. With RunOnStart
// the first refresh begins immediately in the background.
func (a *app) scheduler(ctx context.Context) (*scheduler.Scheduler, error) {
	b, err := a.builder()
	if err != nil {
		return nil, err
	}
	spec, err := a.cfg.Scheduler.CronSpec()
	if err != nil {
		return nil, err
	}

	s := a.cfg.Scheduler
	sched := scheduler.New(scheduler.WithLogger(a.logger))
	job := scheduler.NightlyJob(b, scheduler.NightlyConfig{
		ContentLimit:   s.ContentLimit,
		AestheticLimit: s.AestheticLimit,
		VisualLimit:    s.VisualLimit,
		AfterSync:      a.cache.Clear,
		Logger:         a.logger,
	})
	if err := sched.Add(spec, job); err != nil {
		return nil, err
	}
	sched.Start()

	if s.RunOnStart {
		go func() {
			_ = sched.RunNow(ctx, scheduler.NightlyJobName)
		}()
	}
	return sched, nil
}

func stopScheduler(a *app, sched *scheduler.Scheduler) {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := sched.Stop(ctx); err != nil {
		a.logger.Warn("scheduler did not stop cleanly", "error", err)
	}
}

func runSchedule(ctx context.Context, configPath string) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer closeApp(a)

	sched, err := a.scheduler(ctx)
	if err != nil {
		return err
	}
	for _, st := range sched.Status() {
		a.logger.Info("next run", "job", st.Name, "at", st.NextRun)
	}

	<-ctx.Done()
	stopScheduler(a, sched)
	return nil
}

func runCacheStats(ctx context.Context, configPath string) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer closeApp(a)

	stats, err := a.cache.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%d of %d entries\n", stats.Size, stats.MaxSize)
	if len(stats.Entries) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "QUERY\tHITS\tAGE")
	for _, e := range stats.Entries {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", e.Query, e.Hits, e.Age.Round(time.Second))
	}
	return tw.Flush()
}

func runCacheClear(ctx context.Context, configPath string) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer closeApp(a)

	if err := a.cache.Clear(ctx); err != nil {
		return err
	}
	fmt.Println("Cache cleared")
	return nil
}

func runAnalytics(ctx context.Context, configPath string, since time.Duration) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer closeApp(a)

	if a.analytics == nil {
		return errors.New("analytics is disabled; set analytics.enabled")
	}
	sum, err := a.analytics.Summarize(ctx, time.Now().Add(-since))
	if err != nil {
		return err
	}
	fmt.Printf("Turns:        %d\n", sum.Events)
	fmt.Printf("Failures:     %d\n", sum.Failures)
	fmt.Printf("Cached:       %d\n", sum.Cached)
	fmt.Printf("Avg latency:  %.0f ms\n", sum.AvgLatencyMs)
	fmt.Printf("Tokens used:  %d\n", sum.TokensUsed)
	return nil
}
