package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

type statusOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

func newStatusOutput(status string) *statusOutput {
	out := &statusOutput{}
	out.Body.Status = status
	return out
}

func registerMiscHandlers(api huma.API, svc Service) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
			Tabs   int    `json:"tabs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/api/v1/health", Summary: "Health check with browser connectivity", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			tabs, err := svc.Health(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &healthOutput{}
			out.Body.Status = "ok"
			out.Body.Tabs = tabs
			return out, nil
		})

	type shareOutput struct {
		Body struct {
			ShareActiveTab bool `json:"share_active_tab"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "get-share-active-tab", Method: http.MethodGet, Path: "/api/v1/settings/share-active-tab", Summary: "Get the active-tab sharing default", Tags: []string{"Settings"}},
		func(ctx context.Context, input *struct{}) (*shareOutput, error) {
			v, err := svc.ShareActiveTab(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &shareOutput{}
			out.Body.ShareActiveTab = v
			return out, nil
		})

	type setShareInput struct {
		Body struct {
			ShareActiveTab bool `json:"share_active_tab"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "set-share-active-tab", Method: http.MethodPut, Path: "/api/v1/settings/share-active-tab", Summary: "Set the active-tab sharing default", Tags: []string{"Settings"}},
		func(ctx context.Context, input *setShareInput) (*shareOutput, error) {
			if err := svc.SetShareActiveTab(ctx, input.Body.ShareActiveTab); err != nil {
				return nil, mapErr(err)
			}
			out := &shareOutput{}
			out.Body.ShareActiveTab = input.Body.ShareActiveTab
			return out, nil
		})

	type openTabInput struct {
		Body struct {
			URL string `json:"url" doc:"URL to open in a new tab"`
		}
	}
	type openTabOutput struct {
		Body struct {
			TabID int64  `json:"tab_id"`
			URL   string `json:"url"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "open-tab", Method: http.MethodPost, Path: "/api/v1/tabs", Summary: "Open a URL in a new browser tab", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *openTabInput) (*openTabOutput, error) {
			tab, err := svc.OpenTab(ctx, input.Body.URL)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &openTabOutput{}
			out.Body.TabID = tab.ID
			out.Body.URL = tab.URL
			return out, nil
		})
}
