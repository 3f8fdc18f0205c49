// Command aide runs the assistant core with a terminal chat transport:
// stdin lines are user messages, replies go to stdout. The real chat
// transport (Telegram or similar) plugs in through the same interfaces.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/scrypster/aide/internal/agent"
	"github.com/scrypster/aide/internal/archive"
	"github.com/scrypster/aide/internal/backup"
	"github.com/scrypster/aide/internal/config"
	"github.com/scrypster/aide/internal/llm"
	"github.com/scrypster/aide/internal/notify"
	"github.com/scrypster/aide/internal/spend"
	"github.com/scrypster/aide/internal/status"
	"github.com/scrypster/aide/internal/storage"
	"github.com/scrypster/aide/internal/storage/postgres"
	"github.com/scrypster/aide/internal/storage/sqlite"
	"github.com/scrypster/aide/internal/tools"
	"github.com/scrypster/aide/internal/turn"
	"github.com/scrypster/aide/pkg/types"
)

// fullStore is what both storage backends provide.
type fullStore interface {
	storage.ChunkStore
	storage.ConversationStore
	storage.SettingsStore
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("ERROR: aide: %v", err)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	persona, err := config.LoadPersona(cfg.Agent.PersonaPath)
	if err != nil {
		return err
	}

	store, dbPath, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Model clients.
	chatModel, err := llm.NewChatModel(chatProviderConfig(cfg))
	if err != nil {
		return err
	}
	summarizerGen, err := llm.NewTextGenerator(summarizerProviderConfig(cfg))
	if err != nil {
		return err
	}
	embedder, err := llm.NewEmbeddingGenerator(embeddingProviderConfig(cfg), cfg.LLM.OllamaEmbeddingModel)
	if err != nil {
		return err
	}

	transport := &consoleTransport{}

	archiver := archive.NewArchiver(store, archive.NewLLMSummarizer(summarizerGen), archive.DefaultConfig())
	if embedder != nil {
		archiver.SetEmbedder(embedder)
	}
	archiver.SetSlowNotifier(func(message string) {
		if err := transport.SendText(ctx, message); err != nil {
			log.Printf("WARNING: aide: failed to send archive notice: %v", err)
		}
	})

	tracker := spend.NewTracker(store, spend.Limits{
		PerTurnUSD: cfg.Limits.PerTurnUSD,
		DailyUSD:   cfg.Limits.DailyUSD,
		MonthlyUSD: cfg.Limits.MonthlyUSD,
	})

	executor := tools.NewArchiveExecutor(archiver)
	policy, err := buildPolicy(persona, executor)
	if err != nil {
		return err
	}

	engine := agent.NewEngine(chatModel, executor, tracker, policy)
	engine.SetMaxRounds(cfg.Agent.MaxRounds)

	coordinator := turn.NewCoordinator(turn.Deps{
		Conversation: store,
		Settings:     store,
		Archiver:     archiver,
		Engine:       engine,
		Executor:     executor,
		Tracker:      tracker,
		Transport:    transport,
		Persona:      persona,
		Agent:        cfg.Agent,
	})
	if err := coordinator.Start(ctx); err != nil {
		return err
	}

	// Status surface.
	var statusServer *status.Server
	if cfg.Status.Enabled {
		statusServer = status.NewServer(cfg.Status, func(ctx context.Context) (status.Snapshot, error) {
			snapshot, err := tracker.Snapshot(ctx)
			if err != nil {
				return status.Snapshot{}, err
			}
			chunks, err := archiver.AllChunks(ctx)
			if err != nil {
				return status.Snapshot{}, err
			}
			return status.Snapshot{
				Busy:       coordinator.Busy(),
				Messages:   coordinator.MessageCount(),
				ChunkTotal: len(chunks),
				Spend:      snapshot,
			}, nil
		})
		statusServer.Start()
		coordinator.SetEventHook(statusServer.Publish)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			statusServer.Stop(shutdownCtx)
		}()
	}

	// Cross-process triggers: reminder and mail daemons drop files into
	// the inbox directory.
	watcher := notify.NewInboxWatcher(cfg.Storage.DataPath, func(kind, text string) {
		trig := turn.Trigger{
			Kind: triggerKind(kind),
			Message: types.Message{
				Role:      types.RoleUser,
				Content:   text,
				Timestamp: time.Now(),
			},
		}
		go func() {
			if err := coordinator.Submit(ctx, trig); err != nil {
				log.Printf("ERROR: aide: trigger %s failed: %v", kind, err)
			}
		}()
	})
	if err := watcher.Start(); err != nil {
		return fmt.Errorf("failed to start inbox watcher: %w", err)
	}
	defer watcher.Stop()

	// Periodic archive backups (sqlite engine only).
	if cfg.Backup.BackupEnabled && dbPath != "" {
		interval, err := time.ParseDuration(cfg.Backup.BackupInterval)
		if err != nil {
			log.Printf("WARNING: aide: invalid backup interval %q, using 24h", cfg.Backup.BackupInterval)
			interval = 24 * time.Hour
		}
		backupService := backup.NewService(backup.Config{
			DBPath:    dbPath,
			BackupDir: cfg.Backup.BackupPath,
			Interval:  interval,
			Keep:      cfg.Backup.BackupRetention,
		})
		backupService.Start()
		defer backupService.Stop()
	}

	log.Printf("aide: ready (%s chat, %s storage)", cfg.LLM.ChatProvider, cfg.Storage.StorageEngine)
	return repl(ctx, coordinator)
}

// repl reads user messages from stdin until EOF or signal.
func repl(ctx context.Context, coordinator *turn.Coordinator) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			coordinator.Cancel()
			return nil
		case line, ok := <-lines:
			if !ok {
				coordinator.Cancel()
				return nil
			}
			if line == "" {
				continue
			}
			trig := turn.Trigger{
				Kind: turn.TriggerUser,
				Message: types.Message{
					Role:      types.RoleUser,
					Content:   line,
					Timestamp: time.Now(),
				},
			}
			if err := coordinator.Submit(ctx, trig); err != nil {
				log.Printf("ERROR: aide: turn failed: %v", err)
			}
		}
	}
}

// openStore opens the configured storage backend. The returned path is
// the sqlite database file, empty for postgres.
func openStore(cfg *config.Config) (fullStore, string, error) {
	switch cfg.Storage.StorageEngine {
	case "sqlite":
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o700); err != nil {
			return nil, "", fmt.Errorf("failed to create data directory: %w", err)
		}
		dbPath := filepath.Join(cfg.Storage.DataPath, "aide.db")
		store, err := sqlite.NewStore(dbPath)
		if err != nil {
			return nil, "", err
		}
		return store, dbPath, nil
	case "postgres":
		store, err := postgres.NewStore(cfg.Storage.PostgresURL)
		if err != nil {
			return nil, "", err
		}
		return store, "", nil
	default:
		return nil, "", fmt.Errorf("unsupported storage engine: %q", cfg.Storage.StorageEngine)
	}
}

// buildPolicy merges the built-in archive tools with the persona's
// declared tool set.
func buildPolicy(persona *config.Persona, executor *tools.ArchiveExecutor) (agent.Policy, error) {
	policy := agent.Policy{
		Tools:        executor.Specs(),
		GatedTools:   persona.GatedTools,
		UnlockTool:   persona.UnlockTool,
		ProjectTools: persona.ProjectTools,
	}
	for _, tool := range persona.Tools {
		schema, err := tool.SchemaJSON()
		if err != nil {
			return agent.Policy{}, err
		}
		policy.Tools = append(policy.Tools, llm.ToolSpec{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	return policy, nil
}

func triggerKind(kind string) turn.TriggerKind {
	switch kind {
	case "reminder":
		return turn.TriggerReminder
	case "mail":
		return turn.TriggerMail
	case "document":
		return turn.TriggerDocument
	default:
		return turn.TriggerReminder
	}
}

func chatProviderConfig(cfg *config.Config) llm.ProviderConfig {
	pc := llm.ProviderConfig{
		Provider:          cfg.LLM.ChatProvider,
		RequestsPerMinute: cfg.LLM.RequestsPerMinute,
	}
	switch cfg.LLM.ChatProvider {
	case "anthropic":
		pc.APIKey = cfg.LLM.AnthropicAPIKey
		pc.Model = cfg.LLM.AnthropicModel
	case "openai":
		pc.APIKey = cfg.LLM.OpenAIAPIKey
		pc.Model = cfg.LLM.OpenAIModel
	}
	return pc
}

func summarizerProviderConfig(cfg *config.Config) llm.ProviderConfig {
	switch cfg.LLM.SummarizerProvider {
	case "anthropic":
		return llm.ProviderConfig{Provider: "anthropic", APIKey: cfg.LLM.AnthropicAPIKey, Model: cfg.LLM.AnthropicModel}
	case "openai":
		return llm.ProviderConfig{Provider: "openai", APIKey: cfg.LLM.OpenAIAPIKey, Model: cfg.LLM.OpenAIModel}
	default:
		return llm.ProviderConfig{Provider: "ollama", BaseURL: cfg.LLM.OllamaURL, Model: cfg.LLM.OllamaModel}
	}
}

func embeddingProviderConfig(cfg *config.Config) llm.ProviderConfig {
	switch cfg.LLM.EmbeddingProvider {
	case "openai":
		return llm.ProviderConfig{Provider: "openai", APIKey: cfg.LLM.OpenAIAPIKey}
	case "none":
		return llm.ProviderConfig{Provider: "anthropic"} // yields no embedder
	default:
		return llm.ProviderConfig{Provider: "ollama", BaseURL: cfg.LLM.OllamaURL}
	}
}

// consoleTransport prints replies to stdout.
type consoleTransport struct{}

func (consoleTransport) SendText(_ context.Context, text string) error {
	_, err := fmt.Fprintf(os.Stdout, "aide> %s\n", text)
	return err
}

func (consoleTransport) SendPhoto(_ context.Context, filename string) error {
	_, err := fmt.Fprintf(os.Stdout, "aide> [photo: %s]\n", filename)
	return err
}

func (consoleTransport) SendDocument(_ context.Context, filename string) error {
	_, err := fmt.Fprintf(os.Stdout, "aide> [document: %s]\n", filename)
	return err
}
