package http

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/neomorfeo/tenantclock/internal/domain"
)

// invalidLinkMessage is the only thing a caller learns about a rejected token.
const invalidLinkMessage = "invalid or expired link"

// --- Issue Token ---

type IssueTokenInput struct {
	Body struct {
		TenantID   string `json:"tenantId" minLength:"1" doc:"Tenant the token acts on"`
		SubjectID  string `json:"subjectId" minLength:"1" doc:"User the token is issued to"`
		Purpose    string `json:"purpose" enum:"subscription_management,subscription_cancellation" doc:"Action the token authorizes"`
		TTLSeconds int64  `json:"ttlSeconds,omitempty" minimum:"0" maximum:"31536000" required:"false" doc:"Lifetime in seconds (default 72h, at most 365 days)"`
	}
}

// TokenResponse carries a freshly issued token.
type TokenResponse struct {
	Value     string `json:"value" doc:"Opaque URL-safe token"`
	ExpiresAt string `json:"expiresAt" doc:"Expiry instant (RFC 3339)"`
}

type IssueTokenOutput struct {
	Body TokenResponse
}

// --- Consume Token ---

type ConsumeTokenInput struct {
	Body struct {
		Value     string `json:"value" doc:"Token from the link"`
		SubjectID string `json:"subjectId" minLength:"1" doc:"User following the link"`
	}
}

// GrantResponse is what a consumed token authorizes.
type GrantResponse struct {
	TenantID  string `json:"tenantId"`
	SubjectID string `json:"subjectId" doc:"User the token was issued to"`
	Purpose   string `json:"purpose"`
}

type ConsumeTokenOutput struct {
	Body GrantResponse
}

func registerTokens(api huma.API, svc Services) {
	huma.Register(api, huma.Operation{
		OperationID: "issue-token",
		Method:      http.MethodPost,
		Path:        "/api/v1/tokens",
		Summary:     "Issue a single-use token for an emailed link",
		Tags:        []string{"Tokens"},
	}, func(ctx context.Context, input *IssueTokenInput) (*IssueTokenOutput, error) {
		if input.Body.TTLSeconds > int64(domain.MaxTokenTTL/time.Second) {
			return nil, huma.Error422UnprocessableEntity("ttlSeconds exceeds the maximum token lifetime")
		}
		ttl := time.Duration(input.Body.TTLSeconds) * time.Second
		issued, err := svc.Authority.IssueToken(ctx,
			input.Body.TenantID, input.Body.SubjectID, domain.Purpose(input.Body.Purpose), ttl)
		if err != nil {
			return nil, toHumaError(err)
		}

		return &IssueTokenOutput{Body: TokenResponse{
			Value:     issued.Value,
			ExpiresAt: formatTime(issued.ExpiresAt),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "consume-token",
		Method:      http.MethodPost,
		Path:        "/api/v1/tokens/consume",
		Summary:     "Validate and spend a token",
		Tags:        []string{"Tokens"},
	}, func(ctx context.Context, input *ConsumeTokenInput) (*ConsumeTokenOutput, error) {
		grant, err := svc.Authority.ValidateAndConsumeToken(ctx, input.Body.Value, input.Body.SubjectID)
		if err != nil {
			if domain.IsTokenError(err) {
				svc.Logger.InfoContext(ctx, "rejecting token link", "reason", err.Error())
				return nil, huma.Error400BadRequest(invalidLinkMessage)
			}
			return nil, toHumaError(err)
		}

		return &ConsumeTokenOutput{Body: GrantResponse{
			TenantID:  grant.TenantID,
			SubjectID: grant.SubjectID,
			Purpose:   string(grant.Purpose),
		}}, nil
	})
}
