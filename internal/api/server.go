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

	"github.com/dgnsrekt/tab_agent/internal/chat"
	"github.com/dgnsrekt/tab_agent/internal/orchestrator"
	"github.com/dgnsrekt/tab_agent/internal/pins"
	"github.com/dgnsrekt/tab_agent/internal/tabhost"
)

type Service interface {
	SendMessage(ctx context.Context, text, model string, includeActiveTab *bool) (orchestrator.ChatResult, error)
	StopGeneration() bool
	PinCurrentTab(ctx context.Context) (pins.Entry, error)
	Unpin(ctx context.Context, tabID int64) error
	ListPinned(ctx context.Context) ([]orchestrator.PinStatus, error)
	History() []chat.Message
	ClearSession(ctx context.Context) error
	ShareActiveTab(ctx context.Context) (bool, error)
	SetShareActiveTab(ctx context.Context, v bool) error
	OpenTab(ctx context.Context, url string) (tabhost.Tab, error)
	HandleTabUpdated(ctx context.Context, tabID int64, url, title string) error
	HandleTabRemoved(ctx context.Context, tabID int64) error
	Health(ctx context.Context) (int, error)
}

func NewServer(svc Service) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Tab Agent API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})

	registerPinHandlers(api, svc)
	registerChatHandlers(api, svc)
	registerMiscHandlers(api, svc)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *tabhost.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case tabhost.CodeValidation, tabhost.CodeInvalidPinTarget, tabhost.CodeRestrictedURL:
			return huma.Error400BadRequest(coded.Message)
		case tabhost.CodeTabNotFound:
			return huma.Error404NotFound(coded.Message)
		case tabhost.CodePinLimitExceeded:
			return huma.Error409Conflict(coded.Message)
		case tabhost.CodeLoadTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case tabhost.CodeCDPUnavailable, tabhost.CodeGenerationFailed:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
