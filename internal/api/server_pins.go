package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/tab_agent/internal/orchestrator"
)

func registerPinHandlers(api huma.API, svc Service) {
	type pinListOutput struct {
		Body struct {
			Pins []orchestrator.PinStatus `json:"pins"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-pins", Method: http.MethodGet, Path: "/api/v1/pins", Summary: "List pinned tabs with live status", Tags: []string{"Pins"}},
		func(ctx context.Context, input *struct{}) (*pinListOutput, error) {
			statuses, err := svc.ListPinned(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &pinListOutput{}
			out.Body.Pins = statuses
			if out.Body.Pins == nil {
				out.Body.Pins = []orchestrator.PinStatus{}
			}
			return out, nil
		})

	type pinCurrentOutput struct {
		Body struct {
			TabID int64  `json:"tab_id"`
			URL   string `json:"url"`
			Title string `json:"title"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "pin-current-tab", Method: http.MethodPost, Path: "/api/v1/pins/current", Summary: "Pin the browser's active tab", Tags: []string{"Pins"}},
		func(ctx context.Context, input *struct{}) (*pinCurrentOutput, error) {
			entry, err := svc.PinCurrentTab(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &pinCurrentOutput{}
			out.Body.TabID = entry.TabID
			out.Body.URL = entry.URL
			out.Body.Title = entry.Title
			return out, nil
		})

	type unpinInput struct {
		TabID int64 `path:"tab_id"`
	}
	huma.Register(api, huma.Operation{OperationID: "unpin-tab", Method: http.MethodDelete, Path: "/api/v1/pins/{tab_id}", Summary: "Unpin a tab", Tags: []string{"Pins"}},
		func(ctx context.Context, input *unpinInput) (*statusOutput, error) {
			if err := svc.Unpin(ctx, input.TabID); err != nil {
				return nil, mapErr(err)
			}
			return newStatusOutput("unpinned"), nil
		})

	type tabUpdatedInput struct {
		Body struct {
			TabID int64  `json:"tab_id"`
			URL   string `json:"url"`
			Title string `json:"title"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "tab-updated", Method: http.MethodPost, Path: "/api/v1/events/tab-updated", Summary: "Report a tab navigation or title change", Tags: []string{"Events"}},
		func(ctx context.Context, input *tabUpdatedInput) (*statusOutput, error) {
			if err := svc.HandleTabUpdated(ctx, input.Body.TabID, input.Body.URL, input.Body.Title); err != nil {
				return nil, mapErr(err)
			}
			return newStatusOutput("ok"), nil
		})

	type tabRemovedInput struct {
		Body struct {
			TabID int64 `json:"tab_id"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "tab-removed", Method: http.MethodPost, Path: "/api/v1/events/tab-removed", Summary: "Report a closed tab", Tags: []string{"Events"}},
		func(ctx context.Context, input *tabRemovedInput) (*statusOutput, error) {
			if err := svc.HandleTabRemoved(ctx, input.Body.TabID); err != nil {
				return nil, mapErr(err)
			}
			return newStatusOutput("ok"), nil
		})
}
