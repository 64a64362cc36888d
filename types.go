package nutritionagent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Classifier decides which intent a turn carries.
type Classifier interface {
	Classify(ctx context.Context, in Input, state ConversationState) (Intent, error)
}

// Parser turns raw input into food candidates and clarification questions.
type Parser interface {
	Parse(ctx context.Context, in Input, intent Intent, state ConversationState) (ParsedFoods, error)
}

// Describer converts an image into a textual food description.
type Describer interface {
	Describe(ctx context.Context, img Image) (string, error)
}

// MealFinder resolves natural-language references such as "my lunch yesterday" to stored records.
type MealFinder interface {
	Find(ctx context.Context, reference, userID string, contextDate time.Time) (MealLookup, error)
}

type MealLookup struct {
	Found bool              `json:"found"`
	Items []NutritionRecord `json:"items"`
}

// Input is the user message as seen by the classifier and parser.
type Input struct {
	Text      string    `json:"text"`
	FromImage bool      `json:"from_image,omitempty"`
	Now       time.Time `json:"now"`
}

type IntentType string

const (
	IntentNewMeal            IntentType = "new_meal"
	IntentUpdateMeal         IntentType = "update_meal"
	IntentAnswerQuestion     IntentType = "answer_question"
	IntentNeedsClarification IntentType = "needs_clarification"
)

var IntentTypes = []IntentType{IntentNewMeal, IntentUpdateMeal, IntentAnswerQuestion, IntentNeedsClarification}

func (t IntentType) Valid() bool {
	for _, it := range IntentTypes {
		if t == it {
			return true
		}
	}
	return false
}

type Intent struct {
	Type      IntentType `json:"type"`
	Reasoning string     `json:"reasoning"`
}

type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionSlider         QuestionType = "slider"
)

// MaxQuestionOptions caps the options offered by a multiple choice question.
const MaxQuestionOptions = 3

type ClarificationQuestion struct {
	FoodID      string       `json:"food_id"`
	Dimension   string       `json:"dimension,omitempty"`
	Question    string       `json:"question"`
	Type        QuestionType `json:"type"`
	Options     []string     `json:"options,omitempty"`
	SliderValue int          `json:"slider_value,omitempty"`
}

type Operation string

const (
	OpAdd    Operation = "add"
	OpChange Operation = "change"
	OpRemove Operation = "remove"
)

// Fields an update operation can touch.
const (
	FieldName     = "name"
	FieldQuantity = "quantity"
	FieldMealType = "meal_type"
	FieldEatenAt  = "eaten_at"
)

type FoodCandidate struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	MealType    string    `json:"meal_type,omitempty"`
	Quantity    float64   `json:"quantity"`
	Unit        string    `json:"unit"`
	EatenAt     Timestamp `json:"eaten_at"`
	Ambiguous   bool      `json:"ambiguous"`

	// Set only for candidates inside an update batch.
	Op       Operation `json:"op,omitempty"`
	TargetID string    `json:"target_id,omitempty"`
	Touched  []string  `json:"touched,omitempty"`
}

// NeedsResolution reports whether the candidate has to go through a nutrition lookup.
// Removals and changes that keep the food name reuse the stored nutrition.
func (c FoodCandidate) NeedsResolution() bool {
	switch c.Op {
	case OpRemove:
		return false
	case OpChange:
		return c.Touches(FieldName)
	default:
		return true
	}
}

func (c FoodCandidate) Touches(field string) bool {
	for _, f := range c.Touched {
		if f == field {
			return true
		}
	}
	return false
}

// UpdateBatch tags a ParsedFoods as a set of operations against a stored meal.
type UpdateBatch struct {
	Reference string            `json:"reference"`
	Found     bool              `json:"found"`
	Items     []NutritionRecord `json:"items,omitempty"`
}

type ParsedFoods struct {
	Foods     []FoodCandidate         `json:"foods"`
	Questions []ClarificationQuestion `json:"questions"`
	Update    *UpdateBatch            `json:"update,omitempty"`
}

func (p ParsedFoods) Resolved() []FoodCandidate {
	var out []FoodCandidate
	for _, f := range p.Foods {
		if !f.Ambiguous {
			out = append(out, f)
		}
	}
	return out
}

func (p ParsedFoods) Pending() []FoodCandidate {
	var out []FoodCandidate
	for _, f := range p.Foods {
		if f.Ambiguous {
			out = append(out, f)
		}
	}
	return out
}

// QuestionsFor returns the open questions attached to a candidate, in order.
func (p ParsedFoods) QuestionsFor(foodID string) []ClarificationQuestion {
	var out []ClarificationQuestion
	for _, q := range p.Questions {
		if q.FoodID == foodID {
			out = append(out, q)
		}
	}
	return out
}

// Validate enforces the parser output contract. Questions and ambiguous candidates must come together.
func (p ParsedFoods) Validate() error {
	seen := make(map[string]bool, len(p.Foods))
	ambiguous := 0
	for _, f := range p.Foods {
		if f.ID == "" {
			return fmt.Errorf("%w: candidate %q has no id", ErrParse, f.Name)
		}
		if seen[f.ID] {
			return fmt.Errorf("%w: duplicate candidate id %q", ErrParse, f.ID)
		}
		seen[f.ID] = true
		if strings.TrimSpace(f.Name) == "" && f.Op != OpRemove {
			return fmt.Errorf("%w: candidate %q has no name", ErrParse, f.ID)
		}
		if f.Quantity <= 0 {
			return fmt.Errorf("%w: candidate %q has non-positive quantity %v", ErrParse, f.ID, f.Quantity)
		}
		if f.Ambiguous {
			ambiguous++
		}
	}

	if len(p.Questions) == 0 && ambiguous > 0 {
		return fmt.Errorf("%w: %d ambiguous candidates without questions", ErrParse, ambiguous)
	}
	if len(p.Questions) > 0 && ambiguous == 0 {
		return fmt.Errorf("%w: questions present but no ambiguous candidate", ErrParse)
	}

	for _, q := range p.Questions {
		if !seen[q.FoodID] {
			return fmt.Errorf("%w: question %q refers to unknown candidate %q", ErrParse, q.Question, q.FoodID)
		}
		switch q.Type {
		case QuestionMultipleChoice:
			if len(q.Options) == 0 || len(q.Options) > MaxQuestionOptions {
				return fmt.Errorf("%w: question %q has %d options", ErrParse, q.Question, len(q.Options))
			}
		case QuestionSlider:
		default:
			return fmt.Errorf("%w: question %q has unknown type %q", ErrParse, q.Question, q.Type)
		}
	}
	return nil
}

func (p ParsedFoods) Clone() ParsedFoods {
	out := ParsedFoods{
		Foods:     make([]FoodCandidate, len(p.Foods)),
		Questions: make([]ClarificationQuestion, len(p.Questions)),
	}
	for i, f := range p.Foods {
		f.Touched = append([]string(nil), f.Touched...)
		out.Foods[i] = f
	}
	for i, q := range p.Questions {
		q.Options = append([]string(nil), q.Options...)
		out.Questions[i] = q
	}
	if p.Update != nil {
		u := *p.Update
		u.Items = make([]NutritionRecord, len(p.Update.Items))
		for i, r := range p.Update.Items {
			u.Items[i] = r.Clone()
		}
		out.Update = &u
	}
	return out
}

type NutritionRecord struct {
	ID                  string             `json:"id,omitempty"`
	FoodID              string             `json:"food_id,omitempty"`
	Name                string             `json:"name"`
	EatenAt             Timestamp          `json:"eaten_at"`
	MealType            string             `json:"meal_type,omitempty"`
	ServingSize         float64            `json:"serving_size"`
	Calories            float64            `json:"calories"`
	ProteinGrams        float64            `json:"protein_g"`
	CarbsGrams          float64            `json:"carbs_g"`
	TransFatGrams       float64            `json:"trans_fat_g"`
	SaturatedFatGrams   float64            `json:"saturated_fat_g"`
	UnsaturatedFatGrams float64            `json:"unsaturated_fat_g"`
	Others              map[string]float64 `json:"others"`
	Source              string             `json:"source,omitempty"`
	Degraded            bool               `json:"degraded,omitempty"`
}

func (r NutritionRecord) Clone() NutritionRecord {
	others := make(map[string]float64, len(r.Others))
	for k, v := range r.Others {
		others[k] = v
	}
	r.Others = others
	return r
}

// ConversationState is the session-scoped memory threaded through every stage of a turn.
type ConversationState struct {
	SessionID        string       `json:"session_id"`
	UserID           string       `json:"user_id"`
	QuestionsPending bool         `json:"questions_pending"`
	LastParsedFoods  *ParsedFoods `json:"last_parsed_foods,omitempty"`
	UserMemory       []string     `json:"user_memory,omitempty"`
	LastIntent       *Intent      `json:"last_intent,omitempty"`
	Version          int64        `json:"version"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

func (s ConversationState) Clone() ConversationState {
	out := s
	out.UserMemory = append([]string(nil), s.UserMemory...)
	if s.LastParsedFoods != nil {
		pf := s.LastParsedFoods.Clone()
		out.LastParsedFoods = &pf
	}
	if s.LastIntent != nil {
		in := *s.LastIntent
		out.LastIntent = &in
	}
	return out
}

type Status string

const (
	StatusQuestionsPending Status = "questions_pending"
	StatusCompleted        Status = "completed"
	StatusUpdated          Status = "updated"
	StatusNoMatchingMeal   Status = "no_matching_meal"
)

type Totals struct {
	Calories            float64 `json:"calories"`
	ProteinGrams        float64 `json:"protein_g"`
	CarbsGrams          float64 `json:"carbs_g"`
	TransFatGrams       float64 `json:"trans_fat_g"`
	SaturatedFatGrams   float64 `json:"saturated_fat_g"`
	UnsaturatedFatGrams float64 `json:"unsaturated_fat_g"`
}

type FinalResult struct {
	Status  Status            `json:"status"`
	Intent  IntentType        `json:"intent"`
	Foods   []NutritionRecord `json:"foods"`
	Removed []string          `json:"removed,omitempty"`
	Totals  *Totals           `json:"totals,omitempty"`
	Message string            `json:"message,omitempty"`
}

type Image struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

type Message struct {
	Text  string `json:"text,omitempty"`
	Image *Image `json:"image,omitempty"`
}

type TurnRequest struct {
	UserID     string   `json:"user_id"`
	SessionID  string   `json:"session_id"`
	NewMessage Message  `json:"new_message"`
	UserMemory []string `json:"user_memory,omitempty"`
}

type TurnResponse struct {
	SessionID string                  `json:"session_id"`
	Status    Status                  `json:"status"`
	Questions []ClarificationQuestion `json:"questions,omitempty"`
	Resolved  []FoodCandidate         `json:"resolved,omitempty"`
	Result    *FinalResult            `json:"result,omitempty"`
}

// TimestampLayout is the second-precision wire format for eaten_at values.
const TimestampLayout = "2006-01-02T15:04:05"

// Timestamp is a time truncated to seconds that marshals without a zone suffix.
type Timestamp struct {
	time.Time
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.Truncate(time.Second)}
}

func (t Timestamp) String() string {
	return t.Format(TimestampLayout)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(TimestampLayout))
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := ParseTimestamp(s, time.Local)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTimestamp accepts the wire layout as well as RFC 3339.
func ParseTimestamp(s string, loc *time.Location) (Timestamp, error) {
	if ts, err := time.ParseInLocation(TimestampLayout, s, loc); err == nil {
		return NewTimestamp(ts), nil
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Timestamp{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return NewTimestamp(ts), nil
}
