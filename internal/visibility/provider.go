package visibility

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ProviderOracle looks repositories up against the hosting provider's
// REST API.
type ProviderOracle struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewProviderOracle(baseURL, token string, timeout time.Duration) *ProviderOracle {
	return &ProviderOracle{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

type repoInfoRaw struct {
	Visibility string `json:"visibility"`
	IsPrivate  bool   `json:"private"`
}

func (p *ProviderOracle) Lookup(ctx context.Context, repo string) (Visibility, error) {
	u := fmt.Sprintf("%s/repos/%s", p.baseURL, url.PathEscape(repo))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("provider lookup %s: %w", repo, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", fmt.Errorf("%w: %s", ErrUnknownRepo, repo)
	default:
		return "", fmt.Errorf("provider lookup %s: status %d", repo, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("provider lookup %s: %w", repo, err)
	}

	var raw repoInfoRaw
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", fmt.Errorf("parse repo info for %s: %w", repo, err)
	}

	switch raw.Visibility {
	case "public":
		return Public, nil
	case "internal":
		return Internal, nil
	case "private":
		return Private, nil
	case "":
		// Older providers only report the private flag.
		if raw.IsPrivate {
			return Private, nil
		}
		return Public, nil
	default:
		return "", fmt.Errorf("provider reported unrecognized visibility %q for %s", raw.Visibility, repo)
	}
}
