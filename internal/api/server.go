package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Berry7028/browserbee/internal/bridge"
	"github.com/Berry7028/browserbee/internal/controller"
	"github.com/Berry7028/browserbee/internal/host"
	"github.com/Berry7028/browserbee/internal/screenshot"
	"github.com/Berry7028/browserbee/internal/tools"
)

type Service interface {
	ListTabs(ctx context.Context) ([]controller.TabView, error)
	GetTab(ctx context.Context, tabID string) (controller.TabView, error)
	AttachTab(ctx context.Context, tabID string) (controller.AttachResult, error)
	ActivateTab(ctx context.Context, tabID string) (controller.TabView, error)
	CloseTab(ctx context.Context, tabID string) error
	Health(ctx context.Context) (controller.HealthResult, error)
	Reset(ctx context.Context) bool
	ListTools() []tools.Tool
	RunTool(ctx context.Context, name, input string) (string, error)
	ListScreenshots(ctx context.Context) ([]screenshot.Meta, error)
	GetScreenshot(ctx context.Context, id string) (screenshot.Meta, error)
	ReadScreenshotImage(ctx context.Context, id string) ([]byte, string, error)
	DeleteScreenshot(ctx context.Context, id string) error
	Events() *host.Bus
}

var _ Service = (*controller.Service)(nil)

func NewServer(svc Service) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("browserbee API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	router.Get("/api/v1/events", eventsHandler(svc.Events()))

	registerTabHandlers(api, svc)
	registerToolHandlers(api, svc)
	registerScreenshotHandlers(api, svc)
	registerMiscHandlers(api, svc)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *bridge.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case bridge.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case bridge.CodeTabNotFound, bridge.CodeNotFound:
			return huma.Error404NotFound(coded.Message)
		case bridge.CodeNavigationTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case bridge.CodeSizeExceeded:
			return huma.NewError(http.StatusRequestEntityTooLarge, coded.Message)
		case bridge.CodeTransport, bridge.CodeHostUnavailable, bridge.CodeInjectionFailed:
			return huma.Error502BadGateway(bridge.Message(err))
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, bridge.Message(err)))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
