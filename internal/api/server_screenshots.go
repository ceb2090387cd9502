package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/Berry7028/browserbee/internal/screenshot"
)

func registerScreenshotHandlers(api huma.API, svc Service) {
	type listOutput struct {
		Body struct {
			Screenshots []screenshot.Meta `json:"screenshots"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-screenshots", Method: http.MethodGet, Path: "/api/v1/screenshots", Summary: "List stored screenshots", Tags: []string{"Screenshots"}},
		func(ctx context.Context, input *struct{}) (*listOutput, error) {
			metas, err := svc.ListScreenshots(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listOutput{}
			out.Body.Screenshots = metas
			if out.Body.Screenshots == nil {
				out.Body.Screenshots = []screenshot.Meta{}
			}
			return out, nil
		})

	type screenshotIDInput struct {
		ScreenshotID string `path:"screenshot_id"`
	}
	type metaOutput struct {
		Body screenshot.Meta
	}
	huma.Register(api, huma.Operation{OperationID: "get-screenshot", Method: http.MethodGet, Path: "/api/v1/screenshots/{screenshot_id}", Summary: "Get screenshot metadata", Tags: []string{"Screenshots"}},
		func(ctx context.Context, input *screenshotIDInput) (*metaOutput, error) {
			meta, err := svc.GetScreenshot(ctx, input.ScreenshotID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &metaOutput{Body: meta}, nil
		})

	type imageOutput struct {
		ContentType string `header:"Content-Type"`
		Body        []byte
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-screenshot-image",
		Method:      http.MethodGet,
		Path:        "/api/v1/screenshots/{screenshot_id}/image",
		Summary:     "Get screenshot image",
		Tags:        []string{"Screenshots"},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Screenshot image",
				Content: map[string]*huma.MediaType{
					"image/jpeg": {Schema: &huma.Schema{Type: "string", Format: "binary"}},
					"image/png":  {Schema: &huma.Schema{Type: "string", Format: "binary"}},
				},
			},
		},
	}, func(ctx context.Context, input *screenshotIDInput) (*imageOutput, error) {
		data, format, err := svc.ReadScreenshotImage(ctx, input.ScreenshotID)
		if err != nil {
			return nil, mapErr(err)
		}
		ct := "image/jpeg"
		if format == "png" {
			ct = "image/png"
		}
		return &imageOutput{ContentType: ct, Body: data}, nil
	})

	type deleteOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "delete-screenshot", Method: http.MethodDelete, Path: "/api/v1/screenshots/{screenshot_id}", Summary: "Delete a screenshot", Tags: []string{"Screenshots"}},
		func(ctx context.Context, input *screenshotIDInput) (*deleteOutput, error) {
			if err := svc.DeleteScreenshot(ctx, input.ScreenshotID); err != nil {
				return nil, mapErr(err)
			}
			out := &deleteOutput{}
			out.Body.Status = "deleted"
			return out, nil
		})
}
