package http

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

type RunLifecycleInput struct {
	At string `query:"at" required:"false" doc:"Evaluate as of this instant (RFC 3339); defaults to now"`
}

type FailureResponse struct {
	TenantID string `json:"tenantId"`
	Error    string `json:"error"`
}

// RunReportResponse summarises one lifecycle pass.
type RunReportResponse struct {
	At           string            `json:"at" doc:"Instant the tenants were evaluated at"`
	Warned       int               `json:"warned" doc:"Expiry warnings sent"`
	Transitioned int               `json:"transitioned" doc:"Tenants moved into a free phase"`
	Locked       int               `json:"locked" doc:"Tenants locked"`
	Failures     []FailureResponse `json:"failures" doc:"Tenants whose evaluation failed"`
}

type RunLifecycleOutput struct {
	Body RunReportResponse
}

func registerLifecycle(api huma.API, svc Services) {
	huma.Register(api, huma.Operation{
		OperationID: "run-lifecycle",
		Method:      http.MethodPost,
		Path:        "/api/v1/lifecycle/run",
		Summary:     "Evaluate every trial and free tenant once",
		Tags:        []string{"Lifecycle"},
	}, func(ctx context.Context, input *RunLifecycleInput) (*RunLifecycleOutput, error) {
		now := time.Now().UTC()
		if input.At != "" {
			at, err := time.Parse(time.RFC3339Nano, input.At)
			if err != nil {
				return nil, huma.Error422UnprocessableEntity("at must be an RFC 3339 timestamp")
			}
			now = at.UTC()
		}

		report, err := svc.Engine.RunOnce(ctx, now)
		if err != nil {
			return nil, toHumaError(err)
		}

		out := &RunLifecycleOutput{}
		out.Body.At = formatTime(now)
		out.Body.Warned = report.Warned
		out.Body.Transitioned = report.Transitioned
		out.Body.Locked = report.Locked
		out.Body.Failures = make([]FailureResponse, len(report.Failures))
		for i, f := range report.Failures {
			out.Body.Failures[i] = FailureResponse{TenantID: f.TenantID, Error: f.Err.Error()}
		}
		return out, nil
	})
}
