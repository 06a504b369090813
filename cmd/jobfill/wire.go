package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/tbxark/jobfill/artifact"
	"github.com/tbxark/jobfill/browser"
	"github.com/tbxark/jobfill/config"
	"github.com/tbxark/jobfill/feedback"
	"github.com/tbxark/jobfill/feedback/httpchannel"
	"github.com/tbxark/jobfill/instruction"
	"github.com/tbxark/jobfill/internal/sqlitedb"
	"github.com/tbxark/jobfill/mapper"
	"github.com/tbxark/jobfill/profile"
	"github.com/tbxark/jobfill/telemetry"
	"github.com/tbxark/jobfill/workflow"
)

// closers runs cleanup in reverse order.
type closers []func() error

func (c *closers) add(fn func() error) {
	*c = append(*c, fn)
}

func (c closers) Close() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		errs = append(errs, c[i]())
	}
	return errors.Join(errs...)
}

type profileStore interface {
	profile.Store
	profile.Importer
}

func openProfileStore(cfg *config.Config, cl *closers) (profileStore, error) {
	switch cfg.Profile.Driver {
	case "memory":
		return profile.NewMemoryStore(), nil
	case "sqlite":
		db, err := openDB(cfg.Profile.Path, cl)
		if err != nil {
			return nil, err
		}
		return profile.NewSQLiteStore(db)
	default:
		return profile.NewFileStore(cfg.Profile.Path), nil
	}
}

func openDB(path string, cl *closers) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	db, err := sqlitedb.Open(path)
	if err != nil {
		return nil, err
	}
	cl.add(db.Close)
	return db, nil
}

func newChatModel(ctx context.Context, cfg *config.Config) (model.ToolCallingChatModel, error) {
	temperature := float32(0)
	cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		BaseURL:     cfg.LLM.BaseURL,
		Temperature: &temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("init chat model: %w", err)
	}
	return cm, nil
}

func newSink(cfg *config.Config, cl *closers) (artifact.Sink, error) {
	var sinks []artifact.Sink
	if cfg.Artifacts.Dir != "" {
		sinks = append(sinks, artifact.FileSink{Dir: cfg.Artifacts.Dir})
	}
	if cfg.Artifacts.SQLite != "" {
		db, err := openDB(cfg.Artifacts.SQLite, cl)
		if err != nil {
			return nil, err
		}
		s, err := artifact.NewSQLiteSink(db)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 0 {
		return artifact.Discard{}, nil
	}
	return artifact.MultiSink(sinks...), nil
}

func newChannel(cfg *config.Config, cl *closers) (feedback.Channel, error) {
	if cfg.Feedback.Channel != "http" {
		return feedback.NewTerminalChannel(os.Stdin, os.Stderr), nil
	}
	ch := httpchannel.New(httpchannel.Config{})
	srv := &http.Server{Addr: cfg.Feedback.Listen, Handler: ch.Handler()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("feedback server stopped", "addr", cfg.Feedback.Listen, "error", err)
		}
	}()
	cl.add(func() error { return srv.Shutdown(context.Background()) })
	slog.Info("feedback questions served over http", "addr", cfg.Feedback.Listen)
	return ch, nil
}

// newOrchestrator wires every collaborator from cfg.
func newOrchestrator(ctx context.Context, cfg *config.Config, submit bool, cl *closers) (*workflow.Orchestrator, error) {
	store, err := openProfileStore(cfg, cl)
	if err != nil {
		return nil, err
	}

	var chatModel model.ToolCallingChatModel
	if cfg.NeedsModel() {
		if chatModel, err = newChatModel(ctx, cfg); err != nil {
			return nil, err
		}
	}

	mapperOpts := []mapper.Option{
		mapper.WithMinConfidence(cfg.Mapper.MinConfidence),
		mapper.WithPartialCap(cfg.Mapper.PartialCap),
	}
	if cfg.Mapper.ModelFallback {
		suggester, err := mapper.NewToolBasedSuggester(chatModel, mapper.WithCacheSize(cfg.Mapper.CacheSize))
		if err != nil {
			return nil, err
		}
		mapperOpts = append(mapperOpts, mapper.WithSuggester(suggester))
	}

	channel, err := newChannel(cfg, cl)
	if err != nil {
		return nil, err
	}
	resolverOpts := []feedback.Option{
		feedback.WithTimeout(cfg.Feedback.Timeout),
		feedback.WithPathPrefix(cfg.Feedback.PathPrefix),
	}
	if cfg.Feedback.ModelPrompts {
		var promptOpts []feedback.PrompterOption
		if cfg.Feedback.Lang != "" {
			promptOpts = append(promptOpts, feedback.WithPromptLang(cfg.Feedback.Lang))
		}
		resolverOpts = append(resolverOpts, feedback.WithPrompter(feedback.NewFailbackPrompter(
			feedback.NewToolBasedPrompter(chatModel, promptOpts...),
			feedback.LocalPrompter{},
		)))
	}
	resolver, err := feedback.NewResolver(channel, resolverOpts...)
	if err != nil {
		return nil, err
	}

	sink, err := newSink(cfg, cl)
	if err != nil {
		return nil, err
	}

	b := browser.New(browser.Config{
		RemoteURL:         cfg.Browser.Remote,
		Headless:          *cfg.Browser.Headless,
		Stealth:           *cfg.Browser.Stealth,
		NavigationTimeout: cfg.Browser.NavigationTimeout,
		ElementTimeout:    cfg.Browser.ElementTimeout,
	})
	cl.add(b.Close)

	return workflow.New(workflow.Deps{
		Extractor: b,
		Profiles:  store,
		Mapper:    mapper.New(mapperOpts...),
		Generator: instruction.New(),
		Executor:  b,
		Resolver:  resolver,
		Observer:  telemetry.Multi(telemetry.SlogObserver{}, telemetry.CallbackObserver{Type: "jobfill"}),
		Sink:      sink,
	}, workflow.Options{
		MaxFeedbackRounds: cfg.Feedback.MaxRounds,
		ExtractTimeout:    cfg.Timeouts.Extract,
		ProfileTimeout:    cfg.Timeouts.Profile,
		FillTimeout:       cfg.Timeouts.Fill,
		Submit:            submit || cfg.Browser.Submit,
		ScreenshotDir:     cfg.Browser.ScreenshotDir,
	})
}
