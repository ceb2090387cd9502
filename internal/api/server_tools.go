package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/Berry7028/browserbee/internal/tools"
)

func registerToolHandlers(api huma.API, svc Service) {
	type listToolsOutput struct {
		Body struct {
			Tools []tools.Tool `json:"tools"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-tools", Method: http.MethodGet, Path: "/api/v1/tools", Summary: "List agent tools", Tags: []string{"Tools"}},
		func(ctx context.Context, input *struct{}) (*listToolsOutput, error) {
			out := &listToolsOutput{}
			out.Body.Tools = svc.ListTools()
			return out, nil
		})

	type runToolInput struct {
		Name string `path:"name" doc:"Tool name, e.g. browser_get_title"`
		Body struct {
			Input string `json:"input,omitempty" doc:"Single string argument passed to the tool"`
		} `required:"false"`
	}
	type runToolOutput struct {
		Body struct {
			Name   string `json:"name"`
			Output string `json:"output"`
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "run-tool",
		Method:      http.MethodPost,
		Path:        "/api/v1/tools/{name}",
		Summary:     "Run an agent tool against the active tab",
		Description: "Tool failures are reported in the output text, which starts with \"Error\". Only unknown tool names produce an HTTP error.",
		Tags:        []string{"Tools"},
	}, func(ctx context.Context, input *runToolInput) (*runToolOutput, error) {
		result, err := svc.RunTool(ctx, input.Name, input.Body.Input)
		if err != nil {
			return nil, mapErr(err)
		}
		out := &runToolOutput{}
		out.Body.Name = input.Name
		out.Body.Output = result
		return out, nil
	})
}
