package approvalflow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// HTTPContextResolver fetches entity attributes from an HTTP endpoint:
// GET {baseURL}/{entityType}/{entityID} returning a JSON object. This is
// the deployment seam for auto-progression when the entity system lives
// in another service.
type HTTPContextResolver struct {
	baseURL string
	client  *http.Client
}

var _ ContextResolver = (*HTTPContextResolver)(nil)

func NewHTTPContextResolver(baseURL string, client *http.Client) *HTTPContextResolver {
	if client == nil {
		client = http.DefaultClient
	}

	return &HTTPContextResolver{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (r *HTTPContextResolver) Resolve(ctx context.Context, entityType string, entityID int64) (map[string]any, error) {
	endpoint := fmt.Sprintf("%s/%s/%d", r.baseURL, url.PathEscape(entityType), entityID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s#%d: %v", ErrDependency, entityType, entityID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: entity %s#%d", ErrNotFound, entityType, entityID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: fetch %s#%d: status %d", ErrDependency, entityType, entityID, resp.StatusCode)
	}

	var entityCtx map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&entityCtx); err != nil {
		return nil, fmt.Errorf("%w: decode %s#%d: %v", ErrDependency, entityType, entityID, err)
	}

	return entityCtx, nil
}
