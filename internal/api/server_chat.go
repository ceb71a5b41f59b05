package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/tab_agent/internal/chat"
)

func registerChatHandlers(api huma.API, svc Service) {
	type chatInput struct {
		Body struct {
			Text             string `json:"text" doc:"User message"`
			Model            string `json:"model,omitempty" doc:"Override the configured generation model"`
			IncludeActiveTab *bool  `json:"include_active_tab,omitempty" doc:"Override the persisted active-tab sharing default"`
		}
	}
	type chatOutput struct {
		Body struct {
			Reply   string `json:"reply,omitempty"`
			Aborted bool   `json:"aborted,omitempty"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "send-chat", Method: http.MethodPost, Path: "/api/v1/chat", Summary: "Send a chat message with tab context", Tags: []string{"Chat"}},
		func(ctx context.Context, input *chatInput) (*chatOutput, error) {
			res, err := svc.SendMessage(ctx, input.Body.Text, input.Body.Model, input.Body.IncludeActiveTab)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &chatOutput{}
			out.Body.Reply = res.Reply
			out.Body.Aborted = res.Aborted
			return out, nil
		})

	type stopOutput struct {
		Body struct {
			Stopped bool `json:"stopped"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "stop-chat", Method: http.MethodPost, Path: "/api/v1/chat/stop", Summary: "Cancel the in-flight generation", Tags: []string{"Chat"}},
		func(ctx context.Context, input *struct{}) (*stopOutput, error) {
			out := &stopOutput{}
			out.Body.Stopped = svc.StopGeneration()
			return out, nil
		})

	type historyOutput struct {
		Body struct {
			Messages []chat.Message `json:"messages"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "get-history", Method: http.MethodGet, Path: "/api/v1/history", Summary: "Get the conversation history", Tags: []string{"Chat"}},
		func(ctx context.Context, input *struct{}) (*historyOutput, error) {
			out := &historyOutput{}
			out.Body.Messages = svc.History()
			if out.Body.Messages == nil {
				out.Body.Messages = []chat.Message{}
			}
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "clear-session", Method: http.MethodDelete, Path: "/api/v1/session", Summary: "Clear the conversation and all pins", Tags: []string{"Chat"}},
		func(ctx context.Context, input *struct{}) (*statusOutput, error) {
			if err := svc.ClearSession(ctx); err != nil {
				return nil, mapErr(err)
			}
			return newStatusOutput("cleared"), nil
		})
}
