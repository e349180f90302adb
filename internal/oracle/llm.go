package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/fentz26/regent/internal/models"
	"github.com/fentz26/regent/internal/tools"
)

// Supported model providers.
const (
	ProviderGroq      = "groq"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// DefaultModel is the default Groq chat model.
const DefaultModel = "llama-3.3-70b-versatile"

const groqBaseURL = "https://api.groq.com/openai/v1"

// Tool output longer than this is cut before it reaches the reflection
// prompt, keeping prompt size bounded regardless of what a tool returns.
const promptResultLimit = 2000

// ModelConfig selects and parameterizes the chat model backing the oracle.
type ModelConfig struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
}

// NewModel builds the chat model for cfg. Groq speaks the OpenAI wire
// protocol, so it rides the openai client with a different base URL.
func NewModel(cfg ModelConfig) (llms.Model, error) {
	provider := cfg.Provider
	if provider == "" {
		provider = ProviderGroq
	}

	switch provider {
	case ProviderGroq:
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("GROQ_API_KEY")
		}
		if key == "" {
			return nil, errors.New("groq API key not set (config api_key_env or GROQ_API_KEY)")
		}
		model := cfg.Model
		if model == "" {
			model = DefaultModel
		}
		base := cfg.BaseURL
		if base == "" {
			base = groqBaseURL
		}
		return openai.New(openai.WithToken(key), openai.WithModel(model), openai.WithBaseURL(base))

	case ProviderOpenAI:
		opts := []openai.Option{}
		if cfg.APIKey != "" {
			opts = append(opts, openai.WithToken(cfg.APIKey))
		}
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)

	case ProviderAnthropic:
		opts := []anthropic.Option{}
		if cfg.APIKey != "" {
			opts = append(opts, anthropic.WithToken(cfg.APIKey))
		}
		if cfg.Model != "" {
			opts = append(opts, anthropic.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		return anthropic.New(opts...)

	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// LLM is an Oracle backed by a langchaingo chat model.
type LLM struct {
	model       llms.Model
	registry    *tools.Registry
	temperature float64
}

// NewLLM creates an LLM oracle that plans against the tools in registry.
func NewLLM(model llms.Model, registry *tools.Registry, temperature float64) *LLM {
	return &LLM{
		model:       model,
		registry:    registry,
		temperature: temperature,
	}
}

// Plan asks the model to decompose query into subtask specs. Specs that
// fail validation are dropped individually; the call fails only when the
// model is unreachable, returns no JSON, or yields nothing usable.
func (l *LLM) Plan(ctx context.Context, query string) ([]models.SubtaskSpec, error) {
	prompt := fmt.Sprintf(planPromptTemplate, l.toolCatalog(), query)

	raw, err := llms.GenerateFromSinglePrompt(ctx, l.model, prompt, llms.WithTemperature(l.temperature))
	if err != nil {
		return nil, &PlanError{Err: fmt.Errorf("model call: %w", err)}
	}

	payload, err := extractJSONArray(raw)
	if err != nil {
		return nil, &PlanError{Err: err}
	}

	var specs []models.SubtaskSpec
	if err := json.Unmarshal([]byte(payload), &specs); err != nil {
		return nil, &PlanError{Err: fmt.Errorf("parsing plan: %w", err)}
	}

	valid := l.validSpecs(specs)
	if len(valid) == 0 {
		return nil, &PlanError{Err: ErrEmptyPlan}
	}

	log.Printf("[oracle] planned %d subtask(s) for query %q", len(valid), truncate(query, 80))
	return valid, nil
}

// Reflect asks the model to judge the executed subtasks against the query.
func (l *LLM) Reflect(ctx context.Context, query string, subtasks []*models.Subtask) (*Verdict, error) {
	prompt := fmt.Sprintf(reflectPromptTemplate, query, renderSubtasks(subtasks))

	raw, err := llms.GenerateFromSinglePrompt(ctx, l.model, prompt, llms.WithTemperature(l.temperature))
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}

	payload, err := extractJSONObject(raw)
	if err != nil {
		return nil, err
	}

	var verdict Verdict
	if err := json.Unmarshal([]byte(payload), &verdict); err != nil {
		return nil, fmt.Errorf("parsing verdict: %w", err)
	}

	// Revised specs are model output and get the same scrub as a plan.
	verdict.Revised = l.validSpecs(verdict.Revised)

	log.Printf("[oracle] verdict complete=%t revised=%d", verdict.Complete, len(verdict.Revised))
	return &verdict, nil
}

// validSpecs drops specs with empty descriptions or unregistered tool
// names. An empty tool name is allowed; the dispatcher routes those by
// description.
func (l *LLM) validSpecs(specs []models.SubtaskSpec) []models.SubtaskSpec {
	valid := make([]models.SubtaskSpec, 0, len(specs))
	for i, spec := range specs {
		spec.Description = strings.TrimSpace(spec.Description)
		spec.Tool = strings.TrimSpace(spec.Tool)
		if spec.Description == "" {
			log.Printf("[oracle] dropping subtask %d: empty description", i+1)
			continue
		}
		if spec.Tool != "" {
			if _, ok := l.registry.Get(spec.Tool); !ok {
				log.Printf("[oracle] dropping subtask %d: unknown tool %q", i+1, spec.Tool)
				continue
			}
		}
		valid = append(valid, spec)
	}
	return valid
}

func (l *LLM) toolCatalog() string {
	var b strings.Builder
	for _, t := range l.registry.List() {
		fmt.Fprintf(&b, "- %q: %s (capabilities: %s)\n", t.Name(), t.Description(), strings.Join(t.CapabilityTags(), ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderSubtasks(subtasks []*models.Subtask) string {
	var b strings.Builder
	for _, st := range subtasks {
		fmt.Fprintf(&b, "- id=%d tool=%q status=%s attempts=%d\n", st.ID, st.Tool, st.Status, st.Attempts)
		fmt.Fprintf(&b, "  description: %s\n", st.Description)
		if st.Result != nil {
			fmt.Fprintf(&b, "  result: %s\n", truncate(st.Result.Content, promptResultLimit))
		}
		if st.LastError != "" {
			fmt.Fprintf(&b, "  error: %s\n", st.LastError)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
