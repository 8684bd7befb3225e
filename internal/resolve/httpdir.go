package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/velora-auto/trunkline/backend/internal/types"
)

// HTTPDirectory talks to the tenant-management service's directory API
type HTTPDirectory struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

// NewHTTPDirectory creates a directory client
func NewHTTPDirectory(baseURL string, logger zerolog.Logger) *HTTPDirectory {
	return &HTTPDirectory{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
		logger:  logger.With().Str("component", "directory").Logger(),
	}
}

type userRecord struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type buyerRecord struct {
	ID string `json:"id"`
}

// LookupUserByID fetches one platform user
func (d *HTTPDirectory) LookupUserByID(ctx context.Context, tenantID, userID string) (*types.Identity, error) {
	var rec userRecord
	path := fmt.Sprintf("/tenants/%s/users/%s", url.PathEscape(tenantID), url.PathEscape(userID))
	if err := d.get(ctx, path, &rec); err != nil {
		return nil, err
	}
	return &types.Identity{
		Kind:   types.IdentityUser,
		UserID: rec.ID,
		Phone:  rec.Phone,
		Name:   rec.Name,
	}, nil
}

// LookupUserByEmail fetches a platform user by email
func (d *HTTPDirectory) LookupUserByEmail(ctx context.Context, tenantID, email string) (*types.Identity, error) {
	var rec userRecord
	path := fmt.Sprintf("/tenants/%s/users?email=%s", url.PathEscape(tenantID), url.QueryEscape(email))
	if err := d.get(ctx, path, &rec); err != nil {
		return nil, err
	}
	return &types.Identity{
		Kind:   types.IdentityUser,
		UserID: rec.ID,
		Phone:  rec.Phone,
		Name:   rec.Name,
	}, nil
}

// FindBuyerByPhone returns the buyer record matching a caller's number
func (d *HTTPDirectory) FindBuyerByPhone(ctx context.Context, tenantID, phone string) (string, error) {
	var rec buyerRecord
	path := fmt.Sprintf("/tenants/%s/buyers?phone=%s", url.PathEscape(tenantID), url.QueryEscape(phone))
	if err := d.get(ctx, path, &rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}

func (d *HTTPDirectory) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build directory request: %w", err)
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return fmt.Errorf("directory request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode directory response: %w", err)
		}
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("not found")
	default:
		return fmt.Errorf("directory returned %d", resp.StatusCode)
	}
}
