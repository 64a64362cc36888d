package foodstore_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"nutritionagent"
	"nutritionagent/foodstore"

	should "github.com/stretchr/testify/assert"
	must "github.com/stretchr/testify/require"
)

type mockDoer struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   []string
	doFunc   func(req *http.Request) (*http.Response, error)
}

func (m *mockDoer) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	body := ""
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		body = string(b)
	}
	m.bodies = append(m.bodies, body)
	m.mu.Unlock()
	return m.doFunc(req)
}

func respond(status int, body string) (*http.Response, error) {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(bytes.NewBufferString(body)),
	}, nil
}

var eatenAt = nutritionagent.NewTimestamp(time.Date(2025, 9, 28, 8, 0, 0, 0, time.UTC))

func TestNewClient(t *testing.T) {
	client := foodstore.NewClient("http://localhost:8000/api/", &mockDoer{})
	must.NotNil(t, client, "expected non-nil client")
}

func TestPersist_CreatesNewRecords(t *testing.T) {
	doer := &mockDoer{doFunc: func(req *http.Request) (*http.Response, error) {
		return respond(http.StatusCreated, `{"id":"101","name":"apple","eaten_at":"2025-09-28T08:00:00","serving_size":2,"calories":190,"others":{}}`)
	}}
	client := foodstore.NewClient("http://localhost:8000/api/", doer)

	result := nutritionagent.FinalResult{
		Status: nutritionagent.StatusCompleted,
		Foods:  []nutritionagent.NutritionRecord{{FoodID: "food-1", Name: "apple", EatenAt: eatenAt, ServingSize: 2, Calories: 190, Others: map[string]float64{}}},
	}
	out, err := client.Persist(context.Background(), "u1", result)
	must.NoError(t, err)

	must.Len(t, doer.requests, 1)
	should.Equal(t, http.MethodPost, doer.requests[0].Method)
	should.Equal(t, "http://localhost:8000/api/foods/", doer.requests[0].URL.String())
	should.Equal(t, "application/json", doer.requests[0].Header.Get("Content-Type"))

	var sent map[string]any
	must.NoError(t, json.Unmarshal([]byte(doer.bodies[0]), &sent))
	should.Equal(t, "u1", sent["user_id"])
	should.Equal(t, "apple", sent["name"])
	should.Equal(t, "2025-09-28T08:00:00", sent["eaten_at"])

	must.Len(t, out.Saved, 1)
	should.Equal(t, "101", out.Saved[0].ID)
	should.Equal(t, "food-1", out.Saved[0].FoodID)
	should.Empty(t, out.Errors)
}

func TestPersist_UpdatesAndDeletes(t *testing.T) {
	doer := &mockDoer{doFunc: func(req *http.Request) (*http.Response, error) {
		switch req.Method {
		case http.MethodPatch:
			return respond(http.StatusOK, "")
		case http.MethodDelete:
			return respond(http.StatusNoContent, "")
		}
		return respond(http.StatusCreated, `{"id":"102","name":"cookie","others":{}}`)
	}}
	client := foodstore.NewClient("http://localhost:8000/api", doer)

	result := nutritionagent.FinalResult{
		Status: nutritionagent.StatusUpdated,
		Foods: []nutritionagent.NutritionRecord{
			{ID: "rec-1", Name: "quinoa", Calories: 222, Others: map[string]float64{}},
			{FoodID: "food-2", Name: "cookie", Calories: 100, Others: map[string]float64{}},
		},
		Removed: []string{"rec-3"},
	}
	out, err := client.Persist(context.Background(), "u1", result)
	must.NoError(t, err)

	must.Len(t, doer.requests, 3)
	should.Equal(t, http.MethodPatch, doer.requests[0].Method)
	should.Equal(t, "/api/foods/rec-1/", doer.requests[0].URL.Path)
	should.Equal(t, http.MethodPost, doer.requests[1].Method)
	should.Equal(t, http.MethodDelete, doer.requests[2].Method)
	should.Equal(t, "/api/foods/rec-3/", doer.requests[2].URL.Path)

	must.Len(t, out.Saved, 2)
	should.Equal(t, "quinoa", out.Saved[0].Name)
	should.Equal(t, "rec-1", out.Saved[0].ID)
	should.Equal(t, "102", out.Saved[1].ID)
	should.Equal(t, []string{"rec-3"}, out.Deleted)
}

func TestPersist_ReportsItemErrors(t *testing.T) {
	doer := &mockDoer{}
	// Do records the body before calling doFunc, so route on the last recorded body.
	doer.doFunc = func(req *http.Request) (*http.Response, error) {
		if req.Method == http.MethodDelete {
			return nil, errors.New("network error")
		}
		doer.mu.Lock()
		body := doer.bodies[len(doer.bodies)-1]
		doer.mu.Unlock()
		if bytes.Contains([]byte(body), []byte(`"name":"mystery stew"`)) {
			return respond(http.StatusBadRequest, `{"calories":["A valid number is required."]}`)
		}
		return respond(http.StatusCreated, `{"id":"201","name":"apple","others":{}}`)
	}
	client := foodstore.NewClient("http://localhost:8000/api", doer)

	result := nutritionagent.FinalResult{
		Foods: []nutritionagent.NutritionRecord{
			{FoodID: "food-1", Name: "apple", Others: map[string]float64{}},
			{FoodID: "food-2", Name: "mystery stew", Degraded: true, Others: map[string]float64{}},
		},
		Removed: []string{"rec-9"},
	}
	out, err := client.Persist(context.Background(), "u1", result)
	must.NoError(t, err)

	must.Len(t, out.Saved, 1)
	should.Equal(t, "apple", out.Saved[0].Name)
	should.Empty(t, out.Deleted)

	must.Len(t, out.Errors, 2)
	invalid := out.Errors[0]
	should.Equal(t, "food-2", invalid.FoodID)
	should.Equal(t, "mystery stew", invalid.Name)
	should.ErrorIs(t, invalid, nutritionagent.ErrValidation)
	should.Equal(t, []string{"A valid number is required."}, invalid.Fields["calories"])

	transport := out.Errors[1]
	should.Equal(t, "rec-9", transport.ID)
	should.NotErrorIs(t, transport, nutritionagent.ErrValidation)
	should.ErrorContains(t, transport, "network error")
}

func TestPersist_ServerError(t *testing.T) {
	doer := &mockDoer{doFunc: func(req *http.Request) (*http.Response, error) {
		return respond(http.StatusInternalServerError, "boom")
	}}
	client := foodstore.NewClient("http://localhost:8000/api", doer)

	out, err := client.Persist(context.Background(), "u1", nutritionagent.FinalResult{
		Foods: []nutritionagent.NutritionRecord{{Name: "apple", Others: map[string]float64{}}},
	})
	must.NoError(t, err)
	should.Empty(t, out.Saved)
	must.Len(t, out.Errors, 1)
	should.ErrorContains(t, out.Errors[0], "failed to post record")
}

func TestPersist_CanceledContext(t *testing.T) {
	doer := &mockDoer{doFunc: func(req *http.Request) (*http.Response, error) {
		return respond(http.StatusCreated, `{"id":"1","name":"apple","others":{}}`)
	}}
	client := foodstore.NewClient("http://localhost:8000/api", doer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Persist(ctx, "u1", nutritionagent.FinalResult{
		Foods: []nutritionagent.NutritionRecord{{Name: "apple", Others: map[string]float64{}}},
	})
	should.ErrorIs(t, err, context.Canceled)
	var te *nutritionagent.TurnError
	must.ErrorAs(t, err, &te)
	should.Equal(t, nutritionagent.KindPersistence, te.Kind)
	should.Empty(t, doer.requests)
}
