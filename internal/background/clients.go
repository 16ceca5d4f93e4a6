package background

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/shotprep/internal/api"
	"github.com/xkilldash9x/shotprep/internal/config"
	"github.com/xkilldash9x/shotprep/internal/screenshot"
	"github.com/xkilldash9x/shotprep/internal/store"
)

// CredentialClients builds API clients from the credentials in the store on
// every call, so a `shotprep login` takes effect without a restart.
type CredentialClients struct {
	kv     store.KV
	cfg    config.APIConfig
	http   *http.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewCredentialClients creates the factory. A nil httpClient uses the api
// package default.
func NewCredentialClients(kv store.KV, cfg config.APIConfig, httpClient *http.Client, logger *zap.Logger) *CredentialClients {
	return &CredentialClients{kv: kv, cfg: cfg, http: httpClient, logger: logger, now: time.Now}
}

// Client returns a client for the stored credentials or api.ErrNoCredentials.
func (c *CredentialClients) Client(ctx context.Context) (*api.Client, error) {
	creds, err := api.LoadCredentials(ctx, c.kv, c.now())
	if err != nil {
		return nil, err
	}
	return api.NewClient(creds, c.cfg, c.http, c.logger)
}

// Screenshot adapts Client to the capture workflow.
func (c *CredentialClients) Screenshot(ctx context.Context) (screenshot.API, error) {
	client, err := c.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Directory adapts Client to the host's site and heatmap lookups.
func (c *CredentialClients) Directory(ctx context.Context) (Directory, error) {
	client, err := c.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// SubmitSnapshot uploads through a freshly built client.
func (c *CredentialClients) SubmitSnapshot(ctx context.Context, siteID, heatmapID int64, snap api.Snapshot) error {
	client, err := c.Client(ctx)
	if err != nil {
		return err
	}
	return client.SubmitSnapshot(ctx, siteID, heatmapID, snap)
}
