package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/roundtable/internal/agent"
	"github.com/soyeahso/roundtable/internal/config"
	"github.com/soyeahso/roundtable/internal/hooks"
	"github.com/soyeahso/roundtable/internal/llm"
	"github.com/soyeahso/roundtable/internal/logging"
	"github.com/soyeahso/roundtable/internal/orchestrator"
	"github.com/soyeahso/roundtable/internal/policy"
	"github.com/soyeahso/roundtable/internal/session"
	"github.com/soyeahso/roundtable/internal/store"
	"github.com/soyeahso/roundtable/internal/tools"
	"github.com/soyeahso/roundtable/internal/window"
)

// runtime holds everything a process needs to serve exchanges.
type runtime struct {
	cfg      config.Config
	sessions *session.Registry
	hooks    *hooks.Manager
	logs     *store.LogStore // nil with the memory store
	tools    *tools.Registry
	graph    *policy.Graph
	profiles []agent.Profile

	db       *store.DB
	metadata *tools.Metadata
	log      *logging.Logger
}

// buildRuntime wires providers, tools, policy and persistence into a
// session registry.
func buildRuntime(ctx context.Context, cfg config.Config, paths config.Paths, log *logging.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, log: log}

	profiles, err := agent.Profiles(cfg.Agents)
	if err != nil {
		return nil, err
	}
	rt.profiles = profiles

	rt.graph, err = policy.FromConfig(cfg.Policy.Transitions)
	if err != nil {
		return nil, err
	}
	guard, err := policy.LoadToolGuard(ctx, cfg.Policy.ToolPolicy, log)
	if err != nil {
		return nil, err
	}

	newClient, err := clientFactory(cfg.Provider, log)
	if err != nil {
		return nil, err
	}

	csvPath := cfg.Tools.MetadataCSV
	if csvPath == "" {
		csvPath = paths.Metadata
	}
	rt.metadata, err = tools.OpenMetadata(csvPath, log)
	if err != nil {
		return nil, err
	}
	rt.tools = tools.NewRegistry(log)
	tools.RegisterDefaults(rt.tools, rt.metadata, tools.NewDQClient(cfg.Tools.DQ, log), cfg.Tools.SQLRowLimit)

	rt.hooks = hooks.NewManager(log)
	if err := rt.hooks.RegisterCommands(hookCommands(cfg.Hooks)); err != nil {
		rt.Close()
		return nil, err
	}

	if cfg.Session.Store == "sqlite" {
		if err := paths.EnsureDirs(); err != nil {
			rt.Close()
			return nil, err
		}
		rt.db, err = store.Open(paths.Database, log)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("opening database: %w", err)
		}
		rt.logs = store.NewLogStore(rt.db)
		log.Info().Str("path", paths.Database).Msg("using SQLite session store")
	} else {
		log.Info().Msg("using in-memory session store")
	}

	ocfg := orchestratorConfig(cfg.Orchestrator)
	panelCfg := agent.PanelConfig{
		MaxTokens:       cfg.Provider.MaxTokens,
		Temperature:     cfg.Provider.Temperature,
		MaxContextChars: cfg.Provider.MaxContextChars,
	}

	factory := func(id string) (*orchestrator.Orchestrator, error) {
		panel, err := agent.NewPanel(newClient(), profiles, rt.tools, panelCfg, log)
		if err != nil {
			return nil, err
		}
		var opts []orchestrator.Option
		if rt.logs != nil {
			msgs, err := rt.logs.Load(context.Background(), id)
			if err != nil {
				return nil, fmt.Errorf("loading session %s: %w", id, err)
			}
			w := window.Restore(msgs, log, window.WithSink(rt.logs.Sink(id)), window.WithSize(ocfg.WindowSize))
			opts = append(opts, orchestrator.WithWindow(w))
		}
		return orchestrator.New(id, orchestrator.Deps{
			Roster:   panel.Roster(),
			Graph:    rt.graph,
			Provider: panel,
			Tools:    rt.tools,
			Guard:    guard,
		}, ocfg, log, opts...)
	}

	opts := []session.Option{
		session.WithHooks(rt.hooks),
		session.WithIdleTimeout(time.Duration(cfg.Session.IdleMinutes) * time.Minute),
		session.WithMaxSessions(cfg.Session.MaxSessions),
	}
	if rt.logs != nil {
		opts = append(opts, session.WithStore(rt.logs))
	}
	rt.sessions = session.NewRegistry(factory, log, opts...)
	return rt, nil
}

// clientFactory returns a constructor for per-session completion clients.
// The scripted provider gets a fresh script per session so every session
// replays the demo from the start; hosted providers share one failover
// client.
func clientFactory(pc config.ProviderConfig, log *logging.Logger) (func() llm.Client, error) {
	scripted := func() llm.Client {
		return llm.NewScriptedClient(config.ProviderScripted, agent.SQLDemoScript(), llm.WithLoop())
	}
	if pc.Name == config.ProviderScripted {
		return scripted, nil
	}

	reg := llm.NewRegistryFromConfig(pc, log)
	for _, fb := range pc.Fallbacks {
		if config.NormalizeProvider(fb) == config.ProviderScripted {
			reg.Register(config.ProviderScripted, scripted())
			reg.Alias(agent.DemoModel, config.ProviderScripted)
		}
	}
	if len(reg.List()) == 0 {
		return nil, errors.New("no LLM provider available: set an API key or use provider.name=scripted")
	}
	log.Info().Strs("providers", reg.List()).Msg("LLM providers available")

	fallbacks := make([]string, 0, len(pc.Fallbacks))
	for _, fb := range pc.Fallbacks {
		fallbacks = append(fallbacks, config.NormalizeProvider(fb))
	}
	shared := agent.NewFailoverClient(reg, pc.Name, fallbacks, log)
	return func() llm.Client { return shared }, nil
}

func orchestratorConfig(c config.OrchestratorConfig) orchestrator.Config {
	out := orchestrator.Config{
		MaxRounds:          c.MaxRounds,
		RoundChatMaxRounds: c.RoundChatMaxRounds,
		WindowSize:         c.WindowSize,
		CallTimeout:        time.Duration(c.CallTimeoutSeconds) * time.Second,
		BusyPolicy:         orchestrator.BusyPolicy(c.BusyPolicy),
	}
	if c.RetryBudget != nil {
		out.RetryBudget = *c.RetryBudget
	}
	if c.RepromptBudget != nil {
		out.RepromptBudget = *c.RepromptBudget
	}
	return out
}

func hookCommands(h config.HooksConfig) map[string][]hooks.Command {
	out := map[string][]hooks.Command{}
	for event, entries := range h.ByEvent() {
		for _, e := range entries {
			out[event] = append(out[event], hooks.Command{
				Command: e.Command,
				Timeout: time.Duration(e.Timeout) * time.Millisecond,
			})
		}
	}
	return out
}

// Close releases the database and the metadata catalog.
func (rt *runtime) Close() {
	rt.hooks.Wait()
	if rt.metadata != nil {
		if err := rt.metadata.Close(); err != nil {
			rt.log.Warn().Err(err).Msg("closing metadata")
		}
	}
	if rt.db != nil {
		if err := rt.db.Close(); err != nil {
			rt.log.Warn().Err(err).Msg("closing database")
		}
	}
}
