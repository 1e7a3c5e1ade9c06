package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ytakahashi/firetodo/internal/auth"
	"github.com/ytakahashi/firetodo/internal/models"
	"google.golang.org/api/googleapi"
	identitytoolkit "google.golang.org/api/identitytoolkit/v3"
	"google.golang.org/api/option"
)

// APITimeout bounds each identity provider call.
const APITimeout = 10 * time.Second

// IdentityService signs users in against Firebase Authentication through the
// Identity Toolkit relying-party API.
type IdentityService struct {
	svc *identitytoolkit.Service
}

// NewIdentityService creates a client authenticated with the project's web API key.
// Extra options are appended (endpoint and HTTP client overrides in tests).
func NewIdentityService(ctx context.Context, apiKey string, opts ...option.ClientOption) (*IdentityService, error) {
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := identitytoolkit.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity toolkit service: %w", err)
	}
	return &IdentityService{svc: svc}, nil
}

// Register creates an email/password account and sets its display name.
func (s *IdentityService) Register(ctx context.Context, email, password, displayName string) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, APITimeout)
	defer cancel()

	resp, err := s.svc.Relyingparty.SignupNewUser(&identitytoolkit.IdentitytoolkitRelyingpartySignupNewUserRequest{
		Email:    email,
		Password: password,
	}).Context(ctx).Do()
	if err != nil {
		return nil, wrapIdentityError(err)
	}

	user := &models.User{UID: resp.LocalId, Email: resp.Email, DisplayName: resp.DisplayName}
	if user.Email == "" {
		user.Email = email
	}

	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return user, nil
	}

	if _, err := s.svc.Relyingparty.SetAccountInfo(&identitytoolkit.IdentitytoolkitRelyingpartySetAccountInfoRequest{
		IdToken:     resp.IdToken,
		DisplayName: displayName,
	}).Context(ctx).Do(); err != nil {
		return nil, wrapIdentityError(err)
	}
	user.DisplayName = displayName

	return user, nil
}

// Login verifies an email/password pair.
func (s *IdentityService) Login(ctx context.Context, email, password string) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, APITimeout)
	defer cancel()

	resp, err := s.svc.Relyingparty.VerifyPassword(&identitytoolkit.IdentitytoolkitRelyingpartyVerifyPasswordRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}).Context(ctx).Do()
	if err != nil {
		return nil, wrapIdentityError(err)
	}

	return &models.User{UID: resp.LocalId, Email: resp.Email, DisplayName: resp.DisplayName}, nil
}

// SignInWithGoogle federates a Google ID token, creating the account on first use.
func (s *IdentityService) SignInWithGoogle(ctx context.Context, googleIDToken, requestURI string) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, APITimeout)
	defer cancel()

	postBody := url.Values{
		"id_token":   {googleIDToken},
		"providerId": {"google.com"},
	}

	resp, err := s.svc.Relyingparty.VerifyAssertion(&identitytoolkit.IdentitytoolkitRelyingpartyVerifyAssertionRequest{
		PostBody:          postBody.Encode(),
		RequestUri:        requestURI,
		ReturnSecureToken: true,
	}).Context(ctx).Do()
	if err != nil {
		return nil, wrapIdentityError(err)
	}
	if resp.ErrorMessage != "" {
		return nil, wrapIdentityError(errors.New(resp.ErrorMessage))
	}

	return &models.User{UID: resp.LocalId, Email: resp.Email, DisplayName: resp.DisplayName}, nil
}

// providerCodes maps the provider's error messages to auth codes.
var providerCodes = map[string]string{
	"EMAIL_EXISTS":                auth.CodeEmailAlreadyInUse,
	"INVALID_EMAIL":               auth.CodeInvalidEmail,
	"MISSING_EMAIL":               auth.CodeInvalidEmail,
	"OPERATION_NOT_ALLOWED":       auth.CodeOperationNotAllowed,
	"PASSWORD_LOGIN_DISABLED":     auth.CodeOperationNotAllowed,
	"WEAK_PASSWORD":               auth.CodeWeakPassword,
	"MISSING_PASSWORD":            auth.CodeWeakPassword,
	"USER_DISABLED":               auth.CodeUserDisabled,
	"EMAIL_NOT_FOUND":             auth.CodeUserNotFound,
	"USER_NOT_FOUND":              auth.CodeUserNotFound,
	"INVALID_PASSWORD":            auth.CodeWrongPassword,
	"INVALID_LOGIN_CREDENTIALS":   auth.CodeInvalidCredential,
	"INVALID_IDP_RESPONSE":        auth.CodeInvalidCredential,
	"TOO_MANY_ATTEMPTS_TRY_LATER": auth.CodeTooManyRequests,
}

// wrapIdentityError turns a provider failure into an *auth.Error.
func wrapIdentityError(err error) error {
	msg := err.Error()
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		msg = gerr.Message
	}

	// Some messages carry detail after the code, e.g. "WEAK_PASSWORD : Password should be ...".
	key := strings.TrimSpace(strings.SplitN(msg, ":", 2)[0])
	if code, ok := providerCodes[key]; ok {
		return auth.NewError(code, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return auth.NewError(auth.CodeInternal, fmt.Errorf("request timed out: %w", err))
	}
	return auth.NewError(auth.CodeInternal, err)
}
