package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/IntakePipe/internal/flow"
	"github.com/BTreeMap/IntakePipe/internal/genai"
	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/session"
	"github.com/BTreeMap/IntakePipe/internal/stage"
	"github.com/BTreeMap/IntakePipe/internal/store"
	"github.com/BTreeMap/IntakePipe/internal/ui"
	"github.com/BTreeMap/IntakePipe/internal/util"
	"github.com/BTreeMap/IntakePipe/internal/validation"
)

// Default configuration constants
const (
	// DefaultDataFile is the default flat JSON data file
	DefaultDataFile = "data/user_data.json"
	// DefaultWidgetConfigFile is the default widget configuration file
	DefaultWidgetConfigFile = "data/widget_config.json"
	// DefaultPromptsDir is the default directory holding prompt templates
	DefaultPromptsDir = "prompts"
	// DefaultTestTurnLimit bounds automated test-mode conversations
	DefaultTestTurnLimit = 20
)

// Exit phrases ending the interactive loop.
var exitPhrases = map[string]bool{"quit": true, "exit": true, "çıkış": true}

func main() {
	// Load environment configuration first so the log level can come from it
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Initialize structured logger
	initializeLogger(*flags.debug)

	// Build the storage backend
	st, err := buildStore(flags)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Load widget configuration (absent file just means no widgets)
	widgets := loadWidgetConfig(*flags.widgetConfig)

	// Load test responses when test mode is on
	testResponses := map[string]string{}
	if *flags.testMode {
		testResponses = loadTestResponses(*flags.testResponses)
	}

	// Wire the modules
	coordinator := stage.NewCoordinator(stage.Config{
		TestMode:      *flags.testMode,
		TestResponses: testResponses,
	})
	validator := validation.New(st)
	tools := flow.NewIntakeTools(validator, st, coordinator, widgets)
	prompts := flow.LoadPrompts(*flags.promptsDir)

	client, err := genai.NewClient(buildGenAIOptions(flags)...)
	if err != nil {
		slog.Error("Failed to initialize GenAI client", "error", err)
		os.Exit(1)
	}

	record, err := st.LoadRecord()
	if err != nil {
		slog.Error("Failed to load the data file", "error", err,
			"hint", "seed the data file with the fields to collect before starting")
		os.Exit(1)
	}
	ledger := session.NewLedger(record.Snapshot())

	terminal := ui.NewTerminal(os.Stdin, os.Stdout)
	var widgetUI flow.WidgetUI
	if !*flags.coreOnly {
		widgetUI = terminal
	}

	orchestrator := flow.NewOrchestrator(client, st, tools, coordinator, ledger, prompts, widgetUI, flow.Config{})

	// Ctrl-C cancels between turns; the session still gets dumped
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping IntakePipe", "test_mode", *flags.testMode, "core_only", *flags.coreOnly)
	runConversation(ctx, orchestrator, terminal, *flags.testMode)

	if err := orchestrator.Finalize(ctx); err != nil {
		slog.Error("Failed to dump session", "error", err)
		os.Exit(1)
	}
	printSummary(terminal, orchestrator.Session())
	slog.Info("IntakePipe exited successfully")
}

// runConversation drives the interactive (or scripted) loop until the record
// completes, the user quits, or the context is cancelled.
func runConversation(ctx context.Context, orchestrator *flow.Orchestrator, terminal *ui.Terminal, testMode bool) {
	greeting, err := orchestrator.Greet(ctx)
	if err != nil {
		slog.Error("Failed to generate greeting", "error", err)
		return
	}
	terminal.PrintAssistant(greeting)

	for turn := 0; ; turn++ {
		if ctx.Err() != nil {
			terminal.PrintNotice("Interrupted, saving session.")
			return
		}
		if testMode && turn >= DefaultTestTurnLimit {
			slog.Warn("runConversation: test turn limit reached", "limit", DefaultTestTurnLimit)
			return
		}

		input, ok := nextInput(orchestrator, terminal, testMode, turn)
		if !ok {
			return
		}
		if input == "" {
			continue
		}
		if exitPhrases[strings.ToLower(input)] {
			terminal.PrintNotice("Goodbye!")
			return
		}

		reply, done, err := orchestrator.ProcessUserInput(ctx, input)
		if err != nil {
			slog.Error("runConversation: turn failed", "error", err)
			terminal.PrintNotice(fmt.Sprintf("Something went wrong: %v", err))
			return
		}
		terminal.PrintAssistant(reply)
		if done {
			terminal.PrintNotice("All fields collected. Thanks!")
			return
		}
	}
}

// nextInput returns the next user input: the scripted answer in test mode
// when one is armed, otherwise a line from the terminal. The first scripted
// turn kicks off with a greeting since no question has been asked yet.
func nextInput(orchestrator *flow.Orchestrator, terminal *ui.Terminal, testMode bool, turn int) (string, bool) {
	if testMode {
		if turn == 0 {
			terminal.PrintNotice("You (scripted): Hello")
			return "Hello", true
		}
		if answer, ok := orchestrator.PendingTestResponse(); ok {
			terminal.PrintNotice(fmt.Sprintf("You (scripted): %s", answer))
			return answer, true
		}
		// No scripted answer left; automated runs stop here
		slog.Info("nextInput: no scripted response available, ending test run")
		return "", false
	}
	return terminal.ReadUserInput()
}

// printSummary prints the end-of-run session overview.
func printSummary(terminal *ui.Terminal, sess models.Session) {
	aiBlocks := 0
	actions := 0
	for _, b := range sess.Blocks {
		if b.Type == models.BlockTypeAIInteraction {
			aiBlocks++
			if b.Response != nil {
				actions += len(b.Response.Actions)
			}
		}
	}
	terminal.PrintNotice(fmt.Sprintf("Session %s saved: %d blocks (%d AI turns, %d tool calls).",
		sess.ID, len(sess.Blocks), aiBlocks, actions))
}

// Config holds environment configuration
type Config struct {
	DataFile     string
	DbDriver     string
	DatabaseDSN  string
	SessionDir   string
	OpenAIKey    string
	Model        string
	PromptsDir   string
	WidgetConfig string
	Debug        bool
}

// Flags holds command line flag values
type Flags struct {
	dataFile      *string
	dbDriver      *string
	dbDSN         *string
	sessionDir    *string
	openaiKey     *string
	model         *string
	promptsDir    *string
	widgetConfig  *string
	testResponses *string
	debug         *bool
	testMode      *bool
	coreOnly      *bool
}

// initializeLogger sets up structured logging
func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	return Config{
		DataFile:     util.GetEnv("INTAKEPIPE_DATA_FILE", DefaultDataFile),
		DbDriver:     os.Getenv("INTAKEPIPE_DB_DRIVER"),
		DatabaseDSN:  os.Getenv("DATABASE_URL"),
		SessionDir:   os.Getenv("INTAKEPIPE_SESSION_DIR"),
		OpenAIKey:    os.Getenv("OPENAI_API_KEY"),
		Model:        os.Getenv("OPENAI_MODEL"),
		PromptsDir:   util.GetEnv("INTAKEPIPE_PROMPTS_DIR", DefaultPromptsDir),
		WidgetConfig: util.GetEnv("INTAKEPIPE_WIDGET_CONFIG", DefaultWidgetConfigFile),
		Debug:        util.ParseBoolEnv("INTAKEPIPE_DEBUG", false),
	}
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		dataFile:      flag.String("data-file", config.DataFile, "flat JSON data file to collect into (overrides $INTAKEPIPE_DATA_FILE)"),
		dbDriver:      flag.String("db-driver", config.DbDriver, "store backend: empty for JSON file, 'sqlite3' or 'postgres' (overrides $INTAKEPIPE_DB_DRIVER)"),
		dbDSN:         flag.String("db-dsn", config.DatabaseDSN, "database DSN for the sqlite3/postgres store (overrides $DATABASE_URL)"),
		sessionDir:    flag.String("session-dir", config.SessionDir, "directory for session dump files (overrides $INTAKEPIPE_SESSION_DIR)"),
		openaiKey:     flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		model:         flag.String("model", config.Model, "chat completion model (overrides $OPENAI_MODEL)"),
		promptsDir:    flag.String("prompts-dir", config.PromptsDir, "directory holding prompt template files (overrides $INTAKEPIPE_PROMPTS_DIR)"),
		widgetConfig:  flag.String("widget-config", config.WidgetConfig, "widget configuration JSON file (overrides $INTAKEPIPE_WIDGET_CONFIG)"),
		testResponses: flag.String("test-responses", "", "JSON file with scripted per-field answers for test mode"),
		debug:         flag.Bool("debug", config.Debug, "enable debug logging (overrides $INTAKEPIPE_DEBUG)"),
		testMode:      flag.Bool("test", false, "run with scripted answers instead of keyboard input"),
		coreOnly:      flag.Bool("core-only", false, "run without the interactive widget presenter"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"dataFile", *flags.dataFile,
		"dbDriver", *flags.dbDriver,
		"dbDSN_set", *flags.dbDSN != "",
		"sessionDir", *flags.sessionDir,
		"openaiKeySet", *flags.openaiKey != "",
		"model", *flags.model,
		"promptsDir", *flags.promptsDir,
		"widgetConfig", *flags.widgetConfig,
		"testMode", *flags.testMode,
		"coreOnly", *flags.coreOnly)

	return flags
}

// buildStore constructs the storage backend selected by the db-driver flag.
func buildStore(flags Flags) (store.Store, error) {
	switch *flags.dbDriver {
	case "":
		opts := []store.Option{store.WithJSONPath(*flags.dataFile)}
		if *flags.sessionDir != "" {
			opts = append(opts, store.WithSessionDir(*flags.sessionDir))
		}
		return store.NewJSONStore(opts...)
	case "sqlite3", "sqlite":
		return store.NewSQLiteStore(store.WithDSN(*flags.dbDSN))
	case "postgres":
		return store.NewPostgresStore(store.WithDSN(*flags.dbDSN))
	default:
		return nil, fmt.Errorf("unknown db driver %q", *flags.dbDriver)
	}
}

// buildGenAIOptions constructs GenAI client configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var opts []genai.Option
	if *flags.openaiKey != "" {
		opts = append(opts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.model != "" {
		opts = append(opts, genai.WithModel(*flags.model))
	}
	return opts
}

// loadWidgetConfig reads the widget configuration file. A missing or broken
// file disables widgets rather than aborting the run.
func loadWidgetConfig(path string) *models.WidgetConfig {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("loadWidgetConfig: widgets disabled", "file", path, "error", err)
		return &models.WidgetConfig{}
	}
	var cfg models.WidgetConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		slog.Warn("loadWidgetConfig: invalid widget config, widgets disabled", "file", path, "error", err)
		return &models.WidgetConfig{}
	}
	slog.Info("loadWidgetConfig: widget config loaded", "file", path, "fields", len(cfg.WidgetFields))
	return &cfg
}

// defaultTestResponses answer the stock field set when no script file is
// given.
var defaultTestResponses = map[string]string{
	"age":    "25",
	"height": "175 cm",
	"weight": "70 kg",
	"gender": "male",
}

// loadTestResponses reads scripted answers from a JSON file, falling back to
// the built-in defaults.
func loadTestResponses(path string) map[string]string {
	if path == "" {
		return defaultTestResponses
	}
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("loadTestResponses: using built-in defaults", "file", path, "error", err)
		return defaultTestResponses
	}
	var responses map[string]string
	if err := json.Unmarshal(data, &responses); err != nil {
		slog.Warn("loadTestResponses: invalid script file, using built-in defaults", "file", path, "error", err)
		return defaultTestResponses
	}
	normalized := make(map[string]string, len(responses))
	for k, v := range responses {
		normalized[strings.ToLower(k)] = v
	}
	return normalized
}
