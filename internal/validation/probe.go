package validation

import (
	"context"
	"net/http"

	"github.com/mcphub-dev/mcphub/internal/httpauth"
	"github.com/mcphub-dev/mcphub/pkg/models"
)

// probe checks that the upstream base URL is reachable. A HEAD request is
// tried first; servers that reject HEAD get a GET. Any response below 500
// counts as reachable, auth failures included, since reachability is what
// is being established here.
func probe(ctx context.Context, client *http.Client, baseURL string, authType models.AuthenticationType, authCfg map[string]string) error {
	status, err := probeOnce(ctx, client, http.MethodHead, baseURL, authType, authCfg)
	if err == nil && status == http.StatusMethodNotAllowed {
		status, err = probeOnce(ctx, client, http.MethodGet, baseURL, authType, authCfg)
	}
	if err != nil {
		return &ProbeError{URL: baseURL, Err: err}
	}
	if status >= 500 {
		return &ProbeError{URL: baseURL, StatusCode: status}
	}
	return nil
}

func probeOnce(ctx context.Context, client *http.Client, method, url string, authType models.AuthenticationType, authCfg map[string]string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return 0, err
	}
	if err := httpauth.Apply(ctx, req, authType, authCfg); err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
