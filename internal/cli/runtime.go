package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/drok-bot/drok/internal/agent"
	"github.com/drok-bot/drok/internal/bus"
	"github.com/drok-bot/drok/internal/channels"
	"github.com/drok-bot/drok/internal/config"
	"github.com/drok-bot/drok/internal/content"
	"github.com/drok-bot/drok/internal/history"
	"github.com/drok-bot/drok/internal/metrics"
	"github.com/drok-bot/drok/internal/provider"
	"github.com/drok-bot/drok/internal/provider/middleware"
	"github.com/drok-bot/drok/internal/timeline"
	"github.com/drok-bot/drok/internal/tools"
	"github.com/drok-bot/drok/internal/traces"
)

const referenceCacheSize = 256

// runtime is the assembled bot: everything a gateway or chat session runs.
type runtime struct {
	cfg      *config.Config
	bus      *bus.MessageBus
	metrics  *metrics.Metrics
	timeline *timeline.Service
	traces   *traces.Publisher
	chain    *middleware.Chain
	usage    *middleware.UsageLogger
	history  *history.Store
	tools    *tools.Registry
	loop     *agent.Loop

	attachments *content.FetcherMux
	messages    *content.MessageFetcherMux
	channels    []channels.Channel
	loopDone    chan struct{}
}

// newGeminiProvider builds the production provider from the model section.
func newGeminiProvider(ctx context.Context, cfg config.ModelConfig) (provider.Provider, error) {
	prov, err := provider.NewGeminiProvider(ctx, provider.GeminiOptions{
		APIKey:  cfg.APIKey,
		Model:   cfg.Name,
		BaseURL: cfg.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini provider: %w", err)
	}
	return prov, nil
}

// newRuntime wires the agent stack around prov. Channels are added
// separately so the console and the gateway can pick their own.
func newRuntime(cfg *config.Config, prov provider.Provider) (*runtime, error) {
	m, err := metrics.New(nil)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	tl, err := timeline.NewService(cfg.Timeline.Path)
	if err != nil {
		return nil, fmt.Errorf("timeline: %w", err)
	}

	chain := middleware.NewChain(prov, cfg.Timeouts.Provider())
	usage := middleware.NewUsageLogger()
	chain.Use(usage, middleware.NewMentionGuard(nil))
	chain.OnComplete = func(meta *middleware.RequestMeta, err error) {
		result := "ok"
		if err != nil {
			result = provider.KindOf(err).String()
		}
		m.ProviderCall(meta.Purpose, result, meta.Elapsed)
	}

	store := history.New(history.Options{
		Capacity: cfg.History.Capacity,
		OnEvict: func(key string, dropped int) {
			m.HistoryEvicted(dropped)
		},
	})

	registry := tools.NewRegistry()
	registry.Register(tools.NewImageTool(chain, cfg.Model.ImageModel))
	registry.Register(tools.NewSearchTool(chain, cfg.Model.SearchModel))

	attachments := content.NewFetcherMux(content.NewHTTPFetcher(cfg.Timeouts.Attachment()))
	messages := content.NewMessageFetcherMux()
	cached, err := content.NewCachedMessageFetcher(messages, referenceCacheSize)
	if err != nil {
		tl.Close()
		return nil, fmt.Errorf("reference cache: %w", err)
	}
	formatter := content.NewFormatter(content.FormatterOptions{
		BotName:           cfg.Bot.Name,
		Attachments:       attachments,
		Messages:          cached,
		AttachmentTimeout: cfg.Timeouts.Attachment(),
		ReferenceTimeout:  cfg.Timeouts.Reference(),
	})

	pub := traces.NewPublisher(traces.Options{
		Brokers: cfg.Traces.Brokers,
		Topic:   cfg.Traces.Topic,
		Source:  cfg.Bot.Name,
	})

	instruction := cfg.Bot.SystemInstruction
	if instruction == "" {
		instruction = agent.DefaultInstruction(cfg.Bot.Name)
	}

	msgBus := bus.NewMessageBus()
	loop := agent.NewLoop(agent.LoopOptions{
		Bus:               msgBus,
		Provider:          chain,
		History:           store,
		Tools:             registry,
		Formatter:         formatter,
		Journal:           tl,
		Traces:            pub,
		Metrics:           m,
		Model:             cfg.Model.Name,
		SystemInstruction: instruction,
		MaxIterations:     cfg.Agent.MaxIterations,
		MaxTokens:         cfg.Model.MaxTokens,
		Temperature:       cfg.Model.Temperature,
		RequireMention:    cfg.Agent.RequireMention,
	})

	return &runtime{
		cfg:         cfg,
		bus:         msgBus,
		metrics:     m,
		timeline:    tl,
		traces:      pub,
		chain:       chain,
		usage:       usage,
		history:     store,
		tools:       registry,
		loop:        loop,
		attachments: attachments,
		messages:    messages,
	}, nil
}

// addChannel registers ch and its fetchers. Platforms that serve their own
// attachments or referenced messages get routed to them.
func (r *runtime) addChannel(ch channels.Channel) {
	if f, ok := ch.(content.Fetcher); ok {
		r.attachments.Handle(ch.Name(), f)
	}
	if f, ok := ch.(content.MessageFetcher); ok {
		r.messages.Handle(ch.Name(), f)
	}
	r.channels = append(r.channels, ch)
}

// start launches the channels, the outbound dispatcher and the loop.
func (r *runtime) start(ctx context.Context) error {
	for _, ch := range r.channels {
		if err := ch.Start(ctx); err != nil {
			return fmt.Errorf("start %s: %w", ch.Name(), err)
		}
		slog.Info("Channel started", "channel", ch.Name())
	}
	go r.bus.DispatchOutbound(ctx)
	r.loopDone = make(chan struct{})
	go func() {
		defer close(r.loopDone)
		if err := r.loop.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Agent loop stopped", "error", err)
		}
	}()
	return nil
}

// close stops the channels and releases the sinks. The caller cancels the
// start context first; in-flight runs finish before the journal closes.
func (r *runtime) close() {
	for _, ch := range r.channels {
		if err := ch.Stop(); err != nil {
			slog.Warn("Channel stop failed", "channel", ch.Name(), "error", err)
		}
	}
	if r.loopDone != nil {
		<-r.loopDone
	}
	r.loop.Wait()
	if err := r.traces.Close(); err != nil {
		slog.Warn("Trace publisher close failed", "error", err)
	}
	if err := r.timeline.Close(); err != nil {
		slog.Warn("Timeline close failed", "error", err)
	}
}
