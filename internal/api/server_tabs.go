package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/Berry7028/browserbee/internal/controller"
)

type tabIDInput struct {
	TabID string `path:"tab_id" doc:"Host tab id"`
}

func registerTabHandlers(api huma.API, svc Service) {
	type listTabsOutput struct {
		Body struct {
			Tabs []controller.TabView `json:"tabs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-tabs", Method: http.MethodGet, Path: "/api/v1/tabs", Summary: "List browser tabs with bridge state", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct{}) (*listTabsOutput, error) {
			list, err := svc.ListTabs(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listTabsOutput{}
			out.Body.Tabs = list
			return out, nil
		})

	type tabOutput struct {
		Body controller.TabView
	}
	huma.Register(api, huma.Operation{OperationID: "get-tab", Method: http.MethodGet, Path: "/api/v1/tabs/{tab_id}", Summary: "Get one tab", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabIDInput) (*tabOutput, error) {
			tab, err := svc.GetTab(ctx, input.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &tabOutput{Body: tab}, nil
		})

	type attachOutput struct {
		Body controller.AttachResult
	}
	huma.Register(api, huma.Operation{
		OperationID: "attach-tab",
		Method:      http.MethodPost,
		Path:        "/api/v1/tabs/{tab_id}/attach",
		Summary:     "Attach the bridge to a tab",
		Description: "Injects the page handler and makes the tab the active context. Pages that cannot be scripted return a refusal instead of an error.",
		Tags:        []string{"Tabs"},
	}, func(ctx context.Context, input *tabIDInput) (*attachOutput, error) {
		res, err := svc.AttachTab(ctx, input.TabID)
		if err != nil {
			return nil, mapErr(err)
		}
		return &attachOutput{Body: res}, nil
	})

	huma.Register(api, huma.Operation{OperationID: "activate-tab", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/activate", Summary: "Focus a tab in the browser", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabIDInput) (*tabOutput, error) {
			tab, err := svc.ActivateTab(ctx, input.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &tabOutput{Body: tab}, nil
		})

	type closeOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "close-tab", Method: http.MethodDelete, Path: "/api/v1/tabs/{tab_id}", Summary: "Close a tab", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabIDInput) (*closeOutput, error) {
			if err := svc.CloseTab(ctx, input.TabID); err != nil {
				return nil, mapErr(err)
			}
			out := &closeOutput{}
			out.Body.Status = "closed"
			return out, nil
		})
}
