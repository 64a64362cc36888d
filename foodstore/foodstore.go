// Package foodstore persists final results to the food-store API.
package foodstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"nutritionagent"
)

type doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Client struct {
	baseURL    string
	httpClient doer
}

func NewClient(baseURL string, httpClient doer) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// ItemError is a record the store did not accept. Err wraps nutritionagent.ErrValidation when
// the store rejected the record's shape.
type ItemError struct {
	FoodID string              `json:"food_id,omitempty"`
	ID     string              `json:"id,omitempty"`
	Name   string              `json:"name,omitempty"`
	Fields map[string][]string `json:"fields,omitempty"`
	Err    error               `json:"-"`
}

func (e ItemError) Error() string {
	return fmt.Sprintf("%s: %v", e.Name, e.Err)
}

func (e ItemError) Unwrap() error {
	return e.Err
}

type Result struct {
	Saved   []nutritionagent.NutritionRecord `json:"saved"`
	Deleted []string                         `json:"deleted,omitempty"`
	Errors  []ItemError                      `json:"errors,omitempty"`
}

type foodPayload struct {
	UserID string `json:"user_id"`
	nutritionagent.NutritionRecord
}

// Persist writes the result item by item: records without an id are created, records with one
// are patched and removed ids are deleted. A failing item never stops the others; only a done
// context ends the call early.
func (c *Client) Persist(ctx context.Context, userID string, result nutritionagent.FinalResult) (Result, error) {
	var out Result

	for _, rec := range result.Foods {
		if err := ctx.Err(); err != nil {
			return out, nutritionagent.NewTurnError(nutritionagent.KindPersistence, nutritionagent.StageDone, err)
		}
		method, path := http.MethodPost, "/foods/"
		if rec.ID != "" {
			method, path = http.MethodPatch, "/foods/"+url.PathEscape(rec.ID)+"/"
		}

		saved, ierr := c.send(ctx, method, path, foodPayload{UserID: userID, NutritionRecord: rec})
		if ierr != nil {
			ierr.FoodID, ierr.ID, ierr.Name = rec.FoodID, rec.ID, rec.Name
			slog.Warn("FOODSTORE: Record not saved", "name", rec.Name, "method", method, "error", ierr.Err)
			out.Errors = append(out.Errors, *ierr)
			continue
		}
		if saved.Name == "" {
			saved = rec
		}
		if saved.FoodID == "" {
			saved.FoodID = rec.FoodID
		}
		out.Saved = append(out.Saved, saved)
	}

	for _, id := range result.Removed {
		if err := ctx.Err(); err != nil {
			return out, nutritionagent.NewTurnError(nutritionagent.KindPersistence, nutritionagent.StageDone, err)
		}
		if _, ierr := c.send(ctx, http.MethodDelete, "/foods/"+url.PathEscape(id)+"/", nil); ierr != nil {
			ierr.ID = id
			slog.Warn("FOODSTORE: Record not deleted", "id", id, "error", ierr.Err)
			out.Errors = append(out.Errors, *ierr)
			continue
		}
		out.Deleted = append(out.Deleted, id)
	}

	slog.Info("FOODSTORE: Persisted result",
		"user_id", userID,
		"saved", len(out.Saved),
		"deleted", len(out.Deleted),
		"errors", len(out.Errors),
	)
	return out, nil
}

func (c *Client) send(ctx context.Context, method, path string, body any) (nutritionagent.NutritionRecord, *ItemError) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nutritionagent.NutritionRecord{}, &ItemError{Err: fmt.Errorf("failed to encode record: %w", err)}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nutritionagent.NutritionRecord{}, &ItemError{Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nutritionagent.NutritionRecord{}, &ItemError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nutritionagent.NutritionRecord{}, &ItemError{Err: fmt.Errorf("failed to read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		fields := map[string][]string{}
		_ = json.Unmarshal(data, &fields)
		return nutritionagent.NutritionRecord{}, &ItemError{
			Fields: fields,
			Err:    fmt.Errorf("%w: %s", nutritionagent.ErrValidation, strings.TrimSpace(string(data))),
		}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nutritionagent.NutritionRecord{}, &ItemError{Err: fmt.Errorf("failed to %s record: %s", strings.ToLower(method), resp.Status)}
	}

	if method == http.MethodDelete || len(bytes.TrimSpace(data)) == 0 {
		return nutritionagent.NutritionRecord{}, nil
	}
	var saved nutritionagent.NutritionRecord
	if err := json.Unmarshal(data, &saved); err != nil {
		return nutritionagent.NutritionRecord{}, &ItemError{Err: fmt.Errorf("failed to decode stored record: %w", err)}
	}
	return saved, nil
}
