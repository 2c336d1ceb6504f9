package microsoft

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	auth "github.com/microsoft/kiota-authentication-azure-go"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/models/odataerrors"
	"github.com/microsoftgraph/msgraph-sdk-go/users"
	"github.com/pysugar/m365-mail-nexus/internal/domain"
)

var graphScopes = []string{"https://graph.microsoft.com/.default"}

var messageFields = []string{"id", "subject", "from", "receivedDateTime", "isRead", "bodyPreview"}

// staticTokenCredential hands an already acquired access token to the Graph SDK.
type staticTokenCredential struct {
	accessToken string
}

func (c *staticTokenCredential) GetToken(_ context.Context, _ policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{Token: c.accessToken, ExpiresOn: time.Now().Add(time.Hour)}, nil
}

func (c *Client) graphClient(accessToken string) (*msgraphsdk.GraphServiceClient, error) {
	authProvider, err := auth.NewAzureIdentityAuthenticationProviderWithScopes(&staticTokenCredential{accessToken: accessToken}, graphScopes)
	if err != nil {
		return nil, fmt.Errorf("graph auth provider: %w", err)
	}
	adapter, err := msgraphsdk.NewGraphRequestAdapter(authProvider)
	if err != nil {
		return nil, fmt.Errorf("graph request adapter: %w", err)
	}
	if c.graphBaseURL != DefaultGraphBaseURL {
		adapter.SetBaseUrl(c.graphBaseURL)
	}
	return msgraphsdk.NewGraphServiceClient(adapter), nil
}

// UserProfile calls GET /me.
func (c *Client) UserProfile(ctx context.Context, accessToken string) (*domain.UserProfile, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	gc, err := c.graphClient(accessToken)
	if err != nil {
		return nil, err
	}
	me, err := gc.Me().Get(ctx, nil)
	if err != nil {
		return nil, graphError("get profile", err)
	}
	return &domain.UserProfile{
		ID:                deref(me.GetId()),
		DisplayName:       deref(me.GetDisplayName()),
		Mail:              deref(me.GetMail()),
		UserPrincipalName: deref(me.GetUserPrincipalName()),
		JobTitle:          deref(me.GetJobTitle()),
		OfficeLocation:    deref(me.GetOfficeLocation()),
	}, nil
}

// ListMessages calls GET /me/messages with paging and filtering.
func (c *Client) ListMessages(ctx context.Context, accessToken string, q domain.MessageQuery) ([]domain.Message, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	gc, err := c.graphClient(accessToken)
	if err != nil {
		return nil, err
	}

	params := &users.ItemMessagesRequestBuilderGetQueryParameters{
		Select:  messageFields,
		Orderby: []string{domain.DefaultMessageOrder},
	}
	if q.Top > 0 {
		top := int32(q.Top)
		params.Top = &top
	}
	if q.Skip > 0 {
		skip := int32(q.Skip)
		params.Skip = &skip
	}
	if q.Filter != "" {
		params.Filter = &q.Filter
	}
	if q.OrderBy != "" {
		params.Orderby = []string{q.OrderBy}
	}

	res, err := gc.Me().Messages().Get(ctx, &users.ItemMessagesRequestBuilderGetRequestConfiguration{QueryParameters: params})
	if err != nil {
		return nil, graphError("list messages", err)
	}

	out := make([]domain.Message, 0, len(res.GetValue()))
	for _, m := range res.GetValue() {
		out = append(out, toMessage(m))
	}
	return out, nil
}

func toMessage(m models.Messageable) domain.Message {
	msg := domain.Message{
		ID:          deref(m.GetId()),
		Subject:     deref(m.GetSubject()),
		BodyPreview: deref(m.GetBodyPreview()),
		ReceivedAt:  m.GetReceivedDateTime(),
	}
	if r := m.GetIsRead(); r != nil {
		msg.IsRead = *r
	}
	if from := m.GetFrom(); from != nil && from.GetEmailAddress() != nil {
		msg.From = deref(from.GetEmailAddress().GetAddress())
	}
	return msg
}

// graphError keeps the OData code and status of a Graph failure.
func graphError(op string, err error) error {
	var odataErr *odataerrors.ODataError
	if errors.As(err, &odataErr) {
		body := odataErr.Error()
		if mainErr := odataErr.GetErrorEscaped(); mainErr != nil {
			body = fmt.Sprintf("%s: %s", deref(mainErr.GetCode()), deref(mainErr.GetMessage()))
		}
		return fmt.Errorf("%s: %w", op, &HTTPError{StatusCode: odataErr.ResponseStatusCode, Body: body})
	}
	return transportError(op, err)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
