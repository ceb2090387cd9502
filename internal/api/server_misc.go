package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/Berry7028/browserbee/internal/controller"
)

func registerMiscHandlers(api huma.API, svc Service) {
	type pingOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "ping", Method: http.MethodGet, Path: "/health", Summary: "Liveness check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*pingOutput, error) {
			out := &pingOutput{}
			out.Body.Status = "ok"
			return out, nil
		})

	type healthOutput struct {
		Body controller.HealthResult
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/api/v1/health", Summary: "Bridge health", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			res, err := svc.Health(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &healthOutput{Body: res}, nil
		})

	type resetOutput struct {
		Body struct {
			Success bool `json:"success"`
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "reset",
		Method:      http.MethodPost,
		Path:        "/api/v1/reset",
		Summary:     "Tear down all bridge sessions",
		Description: "Disposes every attached tab's bridge and clears the active context. Tabs stay open.",
		Tags:        []string{"Health"},
	}, func(ctx context.Context, input *struct{}) (*resetOutput, error) {
		out := &resetOutput{}
		out.Body.Success = svc.Reset(ctx)
		return out, nil
	})
}
