package tools

import (
	"context"
	"encoding/json"

	"github.com/forgesight/forgesight/pkg/actions"
)

// functionInvoker is the hosted-executor surface the action tools use.
type functionInvoker interface {
	Invoke(ctx context.Context, function string, arguments map[string]any) (*actions.InvocationResult, error)
}

type CreateIssueInput struct {
	ProjectKey  string `json:"project_key" validate:"required"`
	Title       string `json:"title" validate:"required"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty" validate:"omitempty,oneof=low medium high critical"`
	Assignee    string `json:"assignee,omitempty"`
}

type UpdateIssueInput struct {
	IssueKey    string `json:"issue_key" validate:"required"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Assignee    string `json:"assignee,omitempty"`
}

type CommentIssueInput struct {
	IssueKey string `json:"issue_key" validate:"required"`
	Body     string `json:"body" validate:"required"`
}

type TransitionIssueInput struct {
	IssueKey string `json:"issue_key" validate:"required"`
	Status   string `json:"status" validate:"required"`
}

type CreatePRInput struct {
	Repository string `json:"repository" validate:"required"`
	Title      string `json:"title" validate:"required"`
	Head       string `json:"head" validate:"required"`
	Base       string `json:"base" validate:"required"`
	Body       string `json:"body,omitempty"`
}

type UpdatePRInput struct {
	Repository string `json:"repository" validate:"required"`
	Number     int    `json:"number" validate:"required,min=1"`
	Title      string `json:"title,omitempty"`
	Body       string `json:"body,omitempty"`
}

type ClosePRInput struct {
	Repository string `json:"repository" validate:"required"`
	Number     int    `json:"number" validate:"required,min=1"`
}

type CreatePageInput struct {
	Space string `json:"space" validate:"required"`
	Title string `json:"title" validate:"required"`
	Body  string `json:"body,omitempty"`
}

type UpdatePageInput struct {
	PageID string `json:"page_id" validate:"required"`
	Title  string `json:"title,omitempty"`
	Body   string `json:"body,omitempty"`
}

type AssignPageInput struct {
	PageID   string `json:"page_id" validate:"required"`
	Assignee string `json:"assignee" validate:"required"`
}

// RegisterActionTools wires the side-effecting tools backed by the
// hosted function executor.
func RegisterActionTools(r *Registry, executor functionInvoker) {
	invoke := func(function string) func(context.Context, map[string]any) (any, error) {
		return func(ctx context.Context, args map[string]any) (any, error) {
			return executor.Invoke(ctx, function, args)
		}
	}

	r.MustRegister(Tool{
		Name:        "create_issue",
		Group:       GroupActions,
		Description: "Create an issue in the tracker.",
		InputSchema: objectSchema(map[string]any{
			"project_key": stringProp("tracker project key"),
			"title":       stringProp("issue title"),
			"description": stringProp("issue body"),
			"priority":    stringProp("low, medium, high, or critical"),
			"assignee":    stringProp("assignee login or email"),
		}, []string{"project_key", "title"}),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in CreateIssueInput
			if err := DecodeArgs(args, &in); err != nil {
				return nil, err
			}
			return invoke(actions.FnIssueCreate)(ctx, asArguments(in))
		},
	})

	r.MustRegister(Tool{
		Name:        "update_issue",
		Group:       GroupActions,
		Description: "Update an issue's title, description, or assignee.",
		InputSchema: objectSchema(map[string]any{
			"issue_key":   stringProp("issue key, e.g. PLAT-42"),
			"title":       stringProp("new title"),
			"description": stringProp("new body"),
			"assignee":    stringProp("new assignee"),
		}, []string{"issue_key"}),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in UpdateIssueInput
			if err := DecodeArgs(args, &in); err != nil {
				return nil, err
			}
			return invoke(actions.FnIssueUpdate)(ctx, asArguments(in))
		},
	})

	r.MustRegister(Tool{
		Name:        "comment_on_issue",
		Group:       GroupActions,
		Description: "Add a comment to an issue.",
		InputSchema: objectSchema(map[string]any{
			"issue_key": stringProp("issue key"),
			"body":      stringProp("comment text"),
		}, []string{"issue_key", "body"}),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in CommentIssueInput
			if err := DecodeArgs(args, &in); err != nil {
				return nil, err
			}
			return invoke(actions.FnIssueComment)(ctx, asArguments(in))
		},
	})

	r.MustRegister(Tool{
		Name:        "transition_issue",
		Group:       GroupActions,
		Description: "Move an issue to a new workflow status.",
		InputSchema: objectSchema(map[string]any{
			"issue_key": stringProp("issue key"),
			"status":    stringProp("target status name"),
		}, []string{"issue_key", "status"}),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in TransitionIssueInput
			if err := DecodeArgs(args, &in); err != nil {
				return nil, err
			}
			return invoke(actions.FnIssueTransition)(ctx, asArguments(in))
		},
	})

	r.MustRegister(Tool{
		Name:        "create_pull_request",
		Group:       GroupActions,
		Description: "Open a pull request on the code host.",
		InputSchema: objectSchema(map[string]any{
			"repository": stringProp("owner/name"),
			"title":      stringProp("PR title"),
			"head":       stringProp("source branch"),
			"base":       stringProp("target branch"),
			"body":       stringProp("PR description"),
		}, []string{"repository", "title", "head", "base"}),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in CreatePRInput
			if err := DecodeArgs(args, &in); err != nil {
				return nil, err
			}
			return invoke(actions.FnPRCreate)(ctx, asArguments(in))
		},
	})

	r.MustRegister(Tool{
		Name:        "update_pull_request",
		Group:       GroupActions,
		Description: "Update a pull request's title or description.",
		InputSchema: objectSchema(map[string]any{
			"repository": stringProp("owner/name"),
			"number":     intProp("PR number"),
			"title":      stringProp("new title"),
			"body":       stringProp("new description"),
		}, []string{"repository", "number"}),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in UpdatePRInput
			if err := DecodeArgs(args, &in); err != nil {
				return nil, err
			}
			return invoke(actions.FnPRUpdate)(ctx, asArguments(in))
		},
	})

	r.MustRegister(Tool{
		Name:        "close_pull_request",
		Group:       GroupActions,
		Description: "Close a pull request without merging.",
		InputSchema: objectSchema(map[string]any{
			"repository": stringProp("owner/name"),
			"number":     intProp("PR number"),
		}, []string{"repository", "number"}),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in ClosePRInput
			if err := DecodeArgs(args, &in); err != nil {
				return nil, err
			}
			return invoke(actions.FnPRClose)(ctx, asArguments(in))
		},
	})

	r.MustRegister(Tool{
		Name:        "create_docs_page",
		Group:       GroupActions,
		Description: "Create a documentation page.",
		InputSchema: objectSchema(map[string]any{
			"space": stringProp("docs space key"),
			"title": stringProp("page title"),
			"body":  stringProp("page content"),
		}, []string{"space", "title"}),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in CreatePageInput
			if err := DecodeArgs(args, &in); err != nil {
				return nil, err
			}
			return invoke(actions.FnDocsCreatePage)(ctx, asArguments(in))
		},
	})

	r.MustRegister(Tool{
		Name:        "update_docs_page",
		Group:       GroupActions,
		Description: "Update a documentation page.",
		InputSchema: objectSchema(map[string]any{
			"page_id": stringProp("page identifier"),
			"title":   stringProp("new title"),
			"body":    stringProp("new content"),
		}, []string{"page_id"}),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in UpdatePageInput
			if err := DecodeArgs(args, &in); err != nil {
				return nil, err
			}
			return invoke(actions.FnDocsUpdatePage)(ctx, asArguments(in))
		},
	})

	r.MustRegister(Tool{
		Name:        "assign_docs_page",
		Group:       GroupActions,
		Description: "Assign a documentation page to an owner.",
		InputSchema: objectSchema(map[string]any{
			"page_id":  stringProp("page identifier"),
			"assignee": stringProp("owner login or email"),
		}, []string{"page_id", "assignee"}),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in AssignPageInput
			if err := DecodeArgs(args, &in); err != nil {
				return nil, err
			}
			return invoke(actions.FnDocsAssign)(ctx, asArguments(in))
		},
	})
}

// asArguments converts a typed input into the executor's generic
// argument map, dropping empty optionals along the way.
func asArguments(in any) map[string]any {
	raw, err := json.Marshal(in)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	for k, v := range out {
		if s, ok := v.(string); ok && s == "" {
			delete(out, k)
		}
	}
	return out
}
