package llm

import (
	"fmt"
	"strings"

	"github.com/forgesight/forgesight/pkg/config"
)

// TaskType classifies a user question for model routing.
type TaskType string

const (
	TaskCodeAnalysis TaskType = "code_analysis"
	TaskAnalytics    TaskType = "analytics"
	TaskPlanning     TaskType = "planning"
	TaskQuickLookup  TaskType = "quick_lookup"
	TaskGeneral      TaskType = "general"
)

// ModelSelection is the routing outcome attached to the streamed trace
// and recorded on the assistant message.
type ModelSelection struct {
	TaskType    TaskType `json:"task_type"`
	Provider    string   `json:"provider"`
	ModelName   string   `json:"model_name"`
	DisplayName string   `json:"display_name"`
	Emoji       string   `json:"emoji"`
	Temperature float64  `json:"temperature"`
	Reason      string   `json:"reason"`
}

// Keyword tables checked in priority order. Matching is a plain
// case-insensitive substring test so classification is deterministic.
var (
	analyticsKeywords = []string{
		"dora", "deployment frequency", "lead time", "change failure",
		"deploy", "metric", "velocity", "throughput", "trend",
		"how many events", "activity over",
	}
	planningKeywords = []string{
		"allocat", "capacity", "workload", "bandwidth", "overload",
		"staff", "resource", "assign", "who is available", "free to take",
		"1:1", "one-on-one",
	}
	codeAnalysisKeywords = []string{
		"commit", "pull request", "repositor", "branch", "merge",
		"code review", "refactor", "codebase", "ci pipeline", "build fail",
	}
	quickLookupKeywords = []string{
		"who is", "what is the email", "which team", "look up", "lookup",
		"show me the", "contact", "what project is",
	}
)

// Classify maps a question to a TaskType using keyword heuristics.
// Pure and deterministic: the same input always yields the same type.
func Classify(query string) TaskType {
	q := strings.ToLower(query)
	for _, kw := range analyticsKeywords {
		if strings.Contains(q, kw) {
			return TaskAnalytics
		}
	}
	for _, kw := range planningKeywords {
		if strings.Contains(q, kw) {
			return TaskPlanning
		}
	}
	for _, kw := range codeAnalysisKeywords {
		if strings.Contains(q, kw) {
			return TaskCodeAnalysis
		}
	}
	for _, kw := range quickLookupKeywords {
		if strings.Contains(q, kw) {
			return TaskQuickLookup
		}
	}
	return TaskGeneral
}

// Router resolves a classified task to the configured model profile and
// its provider client.
type Router struct {
	profiles map[string]config.ModelProfile
	registry *Registry
}

// NewRouter wires the profile table to the provider registry.
func NewRouter(cfg *config.LLMConfig, registry *Registry) *Router {
	return &Router{profiles: cfg.Profiles, registry: registry}
}

// Route classifies the question and returns the selection plus the
// client that serves it. Unknown task types fall back to the general
// profile.
func (r *Router) Route(query string) (ModelSelection, Client, error) {
	taskType := Classify(query)
	return r.Select(taskType)
}

// Select resolves one TaskType to its profile and client.
func (r *Router) Select(taskType TaskType) (ModelSelection, Client, error) {
	profile, ok := r.profiles[string(taskType)]
	if !ok {
		profile, ok = r.profiles[string(TaskGeneral)]
		if !ok {
			return ModelSelection{}, nil, fmt.Errorf("no model profile for task type %q and no general fallback", taskType)
		}
	}
	client, err := r.registry.ForProvider(profile.Provider)
	if err != nil {
		return ModelSelection{}, nil, err
	}
	return ModelSelection{
		TaskType:    taskType,
		Provider:    profile.Provider,
		ModelName:   profile.Model,
		DisplayName: profile.DisplayName,
		Emoji:       profile.Emoji,
		Temperature: profile.Temperature,
		Reason:      profile.Reason,
	}, client, nil
}
