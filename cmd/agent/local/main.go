package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"nutritionagent"
	"nutritionagent/cmd/agent/setup"
	"nutritionagent/foodstore"
	"nutritionagent/session"
	"nutritionagent/tools/storage"
)

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("SETUP: Failed to load .env", "error", err)
	}

	cfg, err := setup.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to decode: %s", err)
	}

	otelShutdown, err := nutritionagent.InitOtel(ctx)
	if err != nil {
		slog.Error("SETUP: Failed to initialize OpenTelemetry", "error", err)
		return
	}
	defer func() {
		if err := otelShutdown(ctx); err != nil {
			slog.Error("SETUP: Failed to shutdown OpenTelemetry", "error", err)
		}
	}()

	logger, cleanup, err := newTurnLogger(cfg.Agent.LLMBackend)
	if err != nil {
		slog.Error("SETUP: Failed to create turn logger", "error", err)
		return
	}
	defer func() {
		if err := cleanup(); err != nil {
			slog.Error("SETUP: Failed to flush turn log", "error", err)
		}
	}()

	var store session.Store = session.NewMemoryStore()
	if cfg.Agent.SessionDBPath != "" {
		sqlite, err := session.NewSQLiteStore(cfg.Agent.SessionDBPath)
		if err != nil {
			slog.Error("SETUP: Failed to open session store", "error", err)
			return
		}
		defer sqlite.Close()
		store = sqlite
	}

	coord, err := setup.NewCoordinator(ctx, cfg, setup.Deps{
		Meals:  storage.NewFileMealState(cfg.Agent.MealsPath),
		Store:  store,
		Logger: logger,
	})
	if err != nil {
		slog.Error("SETUP: Failed to build coordinator", "error", err)
		return
	}

	var foods *foodstore.Client
	if cfg.Agent.FoodStoreURL != "" {
		foods = foodstore.NewClient(cfg.Agent.FoodStoreURL, http.DefaultClient)
	}

	userID := argOr(1, "local-user")
	sessionID := ""

	fmt.Println("Tell me what you ate. \"/image <path>\" sends a photo, \"/reset\" starts over, \"/quit\" exits.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			break
		}
		if line == "/reset" {
			if err := coord.EndSession(ctx, sessionID); err != nil {
				slog.Error("RESULT: Failed to end session", "error", err)
			}
			sessionID = ""
			fmt.Println("Started a new conversation.")
			continue
		}

		msg, err := message(line)
		if err != nil {
			fmt.Println("error:", err)
			continue
		}

		resp, err := coord.Run(ctx, nutritionagent.TurnRequest{UserID: userID, SessionID: sessionID, NewMessage: msg})
		if err != nil {
			slog.Error("RESULT: Turn failed", "error", err, "retryable", nutritionagent.IsRetryable(err))
			fmt.Println("error:", err)
			continue
		}
		sessionID = resp.SessionID

		if cfg.Agent.DebugDump {
			nutritionagent.Dump(resp)
		}
		printJSON(resp)

		if foods != nil && resp.Result != nil && resp.Status != nutritionagent.StatusNoMatchingMeal {
			saved, err := foods.Persist(ctx, userID, *resp.Result)
			if err != nil {
				slog.Error("RESULT: Failed to persist result", "error", err)
				continue
			}
			printJSON(saved)
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Error("RESULT: Failed to read input", "error", err)
	}
}

func message(line string) (nutritionagent.Message, error) {
	path, ok := strings.CutPrefix(line, "/image ")
	if !ok {
		return nutritionagent.Message{Text: line}, nil
	}
	data, err := os.ReadFile(strings.TrimSpace(path))
	if err != nil {
		return nutritionagent.Message{}, fmt.Errorf("failed to read image: %w", err)
	}
	return nutritionagent.Message{Image: &nutritionagent.Image{
		MIMEType: http.DetectContentType(data),
		Data:     data,
	}}, nil
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		slog.Error("RESULT: Failed to encode output", "error", err)
		return
	}
	fmt.Println(string(b))
}

func argOr(i int, def string) string {
	if len(os.Args) > i {
		return os.Args[i]
	}
	return def
}

func newTurnLogger(backend string) (nutritionagent.TurnLogger, func() error, error) {
	logFilePath := nutritionagent.NewTurnLogFilePath(backend)
	if err := os.MkdirAll(filepath.Dir(logFilePath), 0o755); err != nil {
		return nil, func() error { return err }, fmt.Errorf("failed to create log directory: %w", err)
	}
	logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, func() error { return err }, fmt.Errorf("failed to open log file: %w", err)
	}

	logger := nutritionagent.NewFileTurnLogger(logFile)
	cleanup := func() error {
		return errors.Join(logger.Flush(), logFile.Close())
	}
	return logger, cleanup, nil
}
