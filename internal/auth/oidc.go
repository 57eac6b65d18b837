package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/Ramsey-B/trellis/pkg/models"
	"github.com/Ramsey-B/trellis/pkg/tracing"
)

// OIDCVerifier validates tokens against the identity provider's published
// keys (JWKS), issuer and audience. Keys are fetched lazily and cached by the
// underlying provider.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
	resolver *CommunityResolver
	logger   ectologger.Logger
}

func NewOIDCVerifier(ctx context.Context, issuerURL, clientID string, resolver *CommunityResolver, logger ectologger.Logger) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create oidc provider: %w", err)
	}

	return &OIDCVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
		resolver: resolver,
		logger:   logger,
	}, nil
}

func (v *OIDCVerifier) Verify(ctx context.Context, token string) (models.User, error) {
	ctx, span := tracing.StartSpan(ctx, "OIDCVerifier.Verify")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	idToken, err := v.verifier.Verify(ctx, token)
	if err != nil {
		v.logger.WithContext(ctx).WithError(err).Warn("token verification failed")
		return models.User{}, ErrInvalidToken
	}

	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		v.logger.WithContext(ctx).WithError(err).Warn("failed to parse token claims")
		return models.User{}, ErrInvalidToken
	}

	return v.resolver.UserFromClaims(claims)
}
