package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joeshaw/envdecode"

	"nutritionagent"
	"nutritionagent/cmd/agent/setup"
	"nutritionagent/foodstore"
	"nutritionagent/session"
	"nutritionagent/tools/storage"
)

type Results struct {
	nutritionagent.TurnResponse
	Persisted *foodstore.Result `json:"persisted,omitempty"`
}

func main() {
	ctx := context.Background()

	cfg, err := setup.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to decode: %s", err)
	}

	var artifacts nutritionagent.ArtifactsConfig
	if err := envdecode.Decode(&artifacts); err != nil {
		log.Fatalf("Failed to decode: %s", err)
	}

	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatalf("Failed to load AWS config: %s", err)
	}
	meals := storage.NewS3MealState(s3.NewFromConfig(awsCfg), artifacts.S3Bucket, artifacts.MealsS3Key)
	slog.Info("SETUP: S3 meal state initialized", "bucket", artifacts.S3Bucket, "key", artifacts.MealsS3Key)

	// Sessions live as long as the execution environment unless SESSION_DB_PATH points at shared storage.
	var store session.Store = session.NewMemoryStore()
	if cfg.Agent.SessionDBPath != "" {
		sqlite, err := session.NewSQLiteStore(cfg.Agent.SessionDBPath)
		if err != nil {
			log.Fatalf("Failed to open session store: %s", err)
		}
		store = sqlite
	}

	otelShutdown, err := nutritionagent.InitOtel(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize OpenTelemetry: %s", err)
	}

	httpClient := &http.Client{Timeout: 15 * time.Second}
	coord, err := setup.NewCoordinator(ctx, cfg, setup.Deps{
		Meals:      meals,
		Store:      store,
		Logger:     nutritionagent.NewStdoutTurnLogger(),
		HTTPClient: httpClient,
	})
	if err != nil {
		log.Fatalf("Failed to build coordinator: %s", err)
	}

	var foods *foodstore.Client
	if cfg.Agent.FoodStoreURL != "" {
		foods = foodstore.NewClient(cfg.Agent.FoodStoreURL, httpClient)
	}

	fn := func(ctx context.Context, req nutritionagent.TurnRequest) (Results, error) {
		defer func() {
			// Flush telemetry before the environment freezes.
			if err := otelShutdown(ctx); err != nil {
				slog.Error("SETUP: Failed to flush OpenTelemetry", "error", err)
			}
		}()

		resp, err := coord.Run(ctx, req)
		if err != nil {
			slog.Error("RESULT: Error handling turn", "error", err, "retryable", nutritionagent.IsRetryable(err))
			return Results{}, err
		}

		out := Results{TurnResponse: resp}
		if foods != nil && resp.Result != nil && resp.Status != nutritionagent.StatusNoMatchingMeal {
			saved, err := foods.Persist(ctx, req.UserID, *resp.Result)
			if err != nil {
				slog.Error("RESULT: Failed to persist result", "error", err)
				return out, nil
			}
			out.Persisted = &saved
		}
		return out, nil
	}

	lambda.Start(fn)
}
