package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/neomorfeo/tenantclock/internal/app"
	"github.com/neomorfeo/tenantclock/internal/domain"
)

// Services are the application services exposed over HTTP.
type Services struct {
	Tenants   *app.TenantService
	Engine    *app.LifecycleEngine
	Authority *app.TokenAuthority
	Logger    *slog.Logger
}

// TenantResponse is the API representation of a tenant.
type TenantResponse struct {
	ID                  string   `json:"id" doc:"Unique identifier"`
	Name                string   `json:"name" doc:"Display name"`
	LifecycleState      string   `json:"lifecycleState" doc:"TRIAL, FREE, LOCKED or ACTIVE"`
	PhaseIndex          int      `json:"phaseIndex" doc:"Index of the current phase in the schedule"`
	PhaseStartAt        string   `json:"phaseStartAt" doc:"Start of the current phase (RFC 3339)"`
	PhaseEndAt          string   `json:"phaseEndAt" doc:"End of the current phase (RFC 3339)"`
	WarningSentForPhase bool     `json:"warningSentForPhase" doc:"Whether the expiry warning for this phase went out"`
	LockedAt            *string  `json:"lockedAt,omitempty" doc:"When the tenant was locked"`
	LockedReason        string   `json:"lockedReason,omitempty" doc:"Why the tenant was locked"`
	OwnerID             string   `json:"ownerId" doc:"Owner user ID"`
	OwnerEmail          string   `json:"ownerEmail,omitempty" doc:"Owner contact address"`
	Version             int64    `json:"version" doc:"Optimistic concurrency version"`
	CreatedAt           string   `json:"createdAt" doc:"Creation timestamp (RFC 3339)"`
	UpdatedAt           string   `json:"updatedAt" doc:"Last update timestamp (RFC 3339)"`
	AvailableEvents     []string `json:"availableEvents" doc:"Lifecycle events the tenant can still take"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func toTenantResponse(t domain.Tenant, available []domain.Event) TenantResponse {
	resp := TenantResponse{
		ID:                  t.ID,
		Name:                t.Name,
		LifecycleState:      string(t.State),
		PhaseIndex:          t.PhaseIndex,
		PhaseStartAt:        formatTime(t.PhaseStartAt),
		PhaseEndAt:          formatTime(t.PhaseEndAt),
		WarningSentForPhase: t.WarningSentForPhase,
		LockedReason:        t.LockedReason,
		OwnerID:             t.OwnerID,
		OwnerEmail:          t.OwnerEmail,
		Version:             t.Version,
		CreatedAt:           formatTime(t.CreatedAt),
		UpdatedAt:           formatTime(t.UpdatedAt),
		AvailableEvents:     make([]string, len(available)),
	}
	for i, e := range available {
		resp.AvailableEvents[i] = string(e)
	}
	if t.LockedAt != nil {
		lockedAt := formatTime(*t.LockedAt)
		resp.LockedAt = &lockedAt
	}
	return resp
}

// --- Create Tenant ---

type CreateTenantInput struct {
	Body struct {
		Name       string `json:"name" minLength:"1" maxLength:"255" doc:"Display name"`
		OwnerID    string `json:"ownerId" minLength:"1" maxLength:"255" doc:"Owner user ID"`
		OwnerEmail string `json:"ownerEmail,omitempty" format:"email" required:"false" doc:"Owner contact address"`
	}
}

type TenantOutput struct {
	Body TenantResponse
}

// --- Get Tenant ---

type TenantIDInput struct {
	ID string `path:"id" doc:"Tenant ID"`
}

// --- List Tenants ---

type ListTenantsInput struct {
	State  string `query:"state" required:"false" enum:"TRIAL,FREE,LOCKED,ACTIVE" doc:"Filter by lifecycle state"`
	Limit  int    `query:"limit" required:"false" default:"50" minimum:"0" doc:"Max results"`
	Offset int    `query:"offset" required:"false" default:"0" minimum:"0" doc:"Pagination offset"`
}

type ListTenantsOutput struct {
	Body []TenantResponse
}

// Register adds all API routes to the Huma API.
func Register(api huma.API, svc Services) {
	if svc.Logger == nil {
		svc.Logger = slog.Default()
	}

	huma.Register(api, huma.Operation{
		OperationID: "create-tenant",
		Method:      http.MethodPost,
		Path:        "/api/v1/tenants",
		Summary:     "Onboard a tenant into its trial",
		Tags:        []string{"Tenants"},
	}, func(ctx context.Context, input *CreateTenantInput) (*TenantOutput, error) {
		tenant, err := svc.Tenants.Onboard(ctx, input.Body.Name, input.Body.OwnerID, input.Body.OwnerEmail)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &TenantOutput{Body: toTenantResponse(tenant, svc.Tenants.AvailableEvents(tenant.State))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-tenant",
		Method:      http.MethodGet,
		Path:        "/api/v1/tenants/{id}",
		Summary:     "Get a tenant by ID",
		Tags:        []string{"Tenants"},
	}, func(ctx context.Context, input *TenantIDInput) (*TenantOutput, error) {
		tenant, err := svc.Tenants.GetByID(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &TenantOutput{Body: toTenantResponse(tenant, svc.Tenants.AvailableEvents(tenant.State))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tenants",
		Method:      http.MethodGet,
		Path:        "/api/v1/tenants",
		Summary:     "List tenants",
		Tags:        []string{"Tenants"},
	}, func(ctx context.Context, input *ListTenantsInput) (*ListTenantsOutput, error) {
		filter := domain.ListFilter{
			Limit:  input.Limit,
			Offset: input.Offset,
		}
		if input.State != "" {
			filter.States = []domain.State{domain.State(input.State)}
		}

		tenants, err := svc.Tenants.List(ctx, filter)
		if err != nil {
			return nil, toHumaError(err)
		}

		resp := make([]TenantResponse, len(tenants))
		for i, t := range tenants {
			resp[i] = toTenantResponse(t, svc.Tenants.AvailableEvents(t.State))
		}
		return &ListTenantsOutput{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "restart-tenant-phase",
		Method:      http.MethodPost,
		Path:        "/api/v1/tenants/{id}/restart-phase",
		Summary:     "Restart the tenant's current phase now",
		Tags:        []string{"Tenants"},
	}, func(ctx context.Context, input *TenantIDInput) (*TenantOutput, error) {
		tenant, err := svc.Tenants.RestartPhase(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &TenantOutput{Body: toTenantResponse(tenant, svc.Tenants.AvailableEvents(tenant.State))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "activate-tenant",
		Method:      http.MethodPost,
		Path:        "/api/v1/tenants/{id}/activate",
		Summary:     "Move a tenant to the paid ACTIVE state",
		Tags:        []string{"Tenants"},
	}, func(ctx context.Context, input *TenantIDInput) (*TenantOutput, error) {
		tenant, err := svc.Tenants.Activate(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &TenantOutput{Body: toTenantResponse(tenant, svc.Tenants.AvailableEvents(tenant.State))}, nil
	})

	registerLifecycle(api, svc)
	registerTokens(api, svc)
}

// toHumaError translates domain errors to Huma HTTP errors.
func toHumaError(err error) error {
	if errors.Is(err, domain.ErrTenantNotFound) {
		return huma.Error404NotFound("tenant not found")
	}
	if errors.Is(err, domain.ErrVersionConflict) {
		return huma.Error409Conflict("tenant was modified concurrently, retry")
	}
	if errors.Is(err, domain.ErrInvalidArgument) {
		return huma.Error422UnprocessableEntity(err.Error())
	}

	var trErr *domain.TransitionError
	if errors.As(err, &trErr) {
		return huma.Error422UnprocessableEntity(trErr.Error())
	}

	var stateErr *domain.InvalidStateError
	if errors.As(err, &stateErr) {
		return huma.Error409Conflict(stateErr.Error())
	}

	var transient *domain.TransientStoreError
	if errors.As(err, &transient) {
		return huma.Error503ServiceUnavailable("store temporarily unavailable")
	}

	return huma.Error500InternalServerError("internal server error")
}
