package analysis

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"classlens/errors"
	"classlens/models"
)

// Framework describes one educational-discourse analyzer. The engine treats
// the analyzer itself as opaque: text in, scored result out.
type Framework struct {
	ID          string
	Name        string
	Description string
	// Urgency ranks this framework's recommendations when merged across
	// frameworks (higher first).
	Urgency int
	// Related lists framework ids whose scores are expected to move
	// together; used during insight synthesis.
	Related []string
	Prompt  string
}

// Invoker executes one framework over one transcript.
type Invoker interface {
	Invoke(ctx context.Context, framework Framework, text string) (*models.AnalysisResult, error)
}

// Registry holds the available frameworks and the invoker that runs them.
type Registry struct {
	frameworks map[string]Framework
	order      []string
	invoker    Invoker
}

func NewRegistry(invoker Invoker, frameworks ...Framework) *Registry {
	r := &Registry{
		frameworks: make(map[string]Framework, len(frameworks)),
		invoker:    invoker,
	}
	for _, f := range frameworks {
		r.frameworks[f.ID] = f
		r.order = append(r.order, f.ID)
	}
	return r
}

func (r *Registry) Get(id string) (Framework, bool) {
	f, ok := r.frameworks[id]
	return f, ok
}

func (r *Registry) List() []models.FrameworkInfo {
	out := make([]models.FrameworkInfo, 0, len(r.order))
	for _, id := range r.order {
		f := r.frameworks[id]
		out = append(out, models.FrameworkInfo{ID: f.ID, Name: f.Name, Description: f.Description})
	}
	return out
}

func (r *Registry) KnownIDs() map[string]struct{} {
	out := make(map[string]struct{}, len(r.frameworks))
	for id := range r.frameworks {
		out[id] = struct{}{}
	}
	return out
}

func (r *Registry) Related(a, b string) bool {
	fa, ok := r.frameworks[a]
	if !ok {
		return false
	}
	for _, id := range fa.Related {
		if id == b {
			return true
		}
	}
	fb, ok := r.frameworks[b]
	if !ok {
		return false
	}
	for _, id := range fb.Related {
		if id == a {
			return true
		}
	}
	return false
}

// DefaultFrameworks is the built-in analyzer set.
func DefaultFrameworks() []Framework {
	return []Framework{
		{
			ID:          "cbil",
			Name:        "Cognitive Level of Instruction",
			Description: "Classifies teacher utterances by the cognitive demand they place on students",
			Urgency:     4,
			Related:     []string{"qta"},
			Prompt: "Rate the cognitive demand of the instruction in this lesson transcript. " +
				"Score the distribution of recall, comprehension, application and analysis level discourse.",
		},
		{
			ID:          "qta",
			Name:        "Questioning Technique Analysis",
			Description: "Evaluates the openness, distribution and follow-up depth of teacher questions",
			Urgency:     5,
			Related:     []string{"cbil", "waittime"},
			Prompt: "Analyze the questioning techniques in this lesson transcript: open versus closed " +
				"questions, probing follow-ups, and how questions are distributed across students.",
		},
		{
			ID:          "sei",
			Name:        "Student Engagement Indicators",
			Description: "Scores verbal participation balance and student-initiated talk",
			Urgency:     3,
			Related:     []string{"waittime"},
			Prompt: "Score the student engagement signals in this lesson transcript: share of student " +
				"talk, student-initiated questions, and peer-to-peer exchanges.",
		},
		{
			ID:          "waittime",
			Name:        "Wait-Time Analysis",
			Description: "Estimates think-time allowed after questions before the teacher resumes",
			Urgency:     2,
			Related:     []string{"qta"},
			Prompt: "Estimate the wait time the teacher allows after asking questions in this lesson " +
				"transcript and score whether students get adequate think time.",
		},
		{
			ID:          "feedback",
			Name:        "Feedback Quality",
			Description: "Rates the specificity and growth orientation of teacher feedback",
			Urgency:     4,
			Related:     []string{"sei"},
			Prompt: "Rate the quality of teacher feedback in this lesson transcript: specificity, " +
				"task focus, and whether it pushes thinking forward versus bare praise.",
		},
	}
}

// llmInvoker runs frameworks through a chat model that must answer with a
// strict JSON document. Calls are paced by a shared limiter.
type llmInvoker struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
}

func NewLLMInvoker(client *openai.Client, model string, invokesPerMinute int) Invoker {
	return &llmInvoker{
		client:  client,
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(invokesPerMinute)/60, 1),
	}
}

type llmVerdict struct {
	Score           float64            `json:"score"`
	Dimensions      map[string]float64 `json:"dimensions"`
	Summary         string             `json:"summary"`
	Recommendations []string           `json:"recommendations"`
}

func (inv *llmInvoker) Invoke(ctx context.Context, framework Framework, text string) (*models.AnalysisResult, error) {
	const op = "llmInvoker.Invoke"

	if strings.TrimSpace(text) == "" {
		return nil, errors.FrameworkInvalidInput(op, nil, "Transcript text is empty")
	}

	if err := inv.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := inv.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: inv.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleSystem,
				Content: "You are an educational discourse analyst. Respond with a single JSON object " +
					`{"score": 0-100, "dimensions": {"name": 0-100}, "summary": "...", ` +
					`"recommendations": ["..."]} and nothing else.`,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: framework.Prompt + "\n\nTranscript:\n" + text,
			},
		},
		Temperature: 0.2,
	})
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.FrameworkTimeout(op, err, framework.ID)
		}
		return nil, errors.FrameworkCrashed(op, err, framework.ID)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.FrameworkCrashed(op, nil, framework.ID)
	}

	verdict := llmVerdict{}
	content := stripCodeFence(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &verdict); err != nil {
		return nil, errors.FrameworkCrashed(op, err, framework.ID)
	}

	return &models.AnalysisResult{
		ID:              uuid.New().String(),
		FrameworkID:     framework.ID,
		Score:           clampScore(verdict.Score),
		Dimensions:      verdict.Dimensions,
		Summary:         verdict.Summary,
		Recommendations: verdict.Recommendations,
		Urgency:         framework.Urgency,
		CreatedAt:       time.Now().UTC(),
	}, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
