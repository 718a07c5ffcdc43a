package server

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/option"

	"github.com/orvull/sparkcards/internal/auth"
	"github.com/orvull/sparkcards/internal/config"
	"github.com/orvull/sparkcards/internal/credentials"
	"github.com/orvull/sparkcards/internal/models"
	"github.com/orvull/sparkcards/internal/storage"
	"github.com/orvull/sparkcards/internal/wallet"
)

// Backend is a wallet backend that also manages classes.
type Backend interface {
	Objects
	CreateClass(ctx context.Context, spec models.ClassSpec) (models.CreateOutcome, error)
}

// NewBackend returns the Wallet Objects API client, or the in-memory store
// when WALLET_BACKEND=memory.
func NewBackend(ctx context.Context, cfg config.Config, creds *credentials.Provider) (Backend, error) {
	if cfg.WalletBackend == config.BackendMemory {
		return storage.NewMemory(cfg.Kind()), nil
	}
	opts := []option.ClientOption{
		option.WithHTTPClient(creds.HTTPClient(ctx, credentials.ScopeWalletIssuer, cfg.RemoteTimeout)),
	}
	if cfg.WalletAPIBase != "" {
		opts = append(opts, option.WithEndpoint(cfg.WalletAPIBase))
	}
	client, err := wallet.New(ctx, cfg.Kind(), cfg.RemoteTimeout, opts...)
	if err != nil {
		return nil, fmt.Errorf("wallet client: %w", err)
	}
	return client, nil
}

// NewSigner signs locally with the key file when LocalSigning is set and
// through IAM signJwt otherwise.
func NewSigner(ctx context.Context, cfg config.Config, creds *credentials.Provider) (auth.Signer, error) {
	if cfg.LocalSigning() {
		account := creds.ServiceAccount()
		if account == nil {
			return nil, &models.SigningError{Err: errors.New("local signing needs a service-account key file")}
		}
		email := cfg.SignerEmail
		if email == "" {
			email = account.Email
		}
		signer, err := auth.NewLocalSigner(email, account.PrivateKeyID, account.PrivateKey)
		if err != nil {
			return nil, err
		}
		return signer, nil
	}

	opts := []option.ClientOption{
		option.WithHTTPClient(creds.HTTPClient(ctx, credentials.ScopeCloudPlatform, cfg.RemoteTimeout)),
	}
	if cfg.IAMAPIBase != "" {
		opts = append(opts, option.WithEndpoint(cfg.IAMAPIBase))
	}
	signer, err := auth.NewIAMSigner(ctx, cfg.SignerEmail, cfg.RemoteTimeout, opts...)
	if err != nil {
		return nil, err
	}
	return signer, nil
}

// ClassSpec describes the configured class.
func ClassSpec(cfg config.Config) models.ClassSpec {
	return models.ClassSpec{
		ID:            cfg.ClassID,
		BusinessName:  cfg.BusinessName,
		LogoURI:       cfg.LogoURI,
		BackgroundHex: cfg.BackgroundHex,
	}
}
