// Package okta implements the Okta Users API adapter: pagination via the
// RFC 5988 Link: rel="next" response header.
package okta

import (
	"encoding/json"
	"context"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/edgemark/conclave/pkg/idp"
)

// Client calls the Okta Users/Groups API.
type Client struct {
	httpClient *http.Client
}

// NewClient creates an Okta client with a 30-second timeout.
func NewClient() *Client {
	return &Client{httpClient: &http.Client{Timeout: 30 * time.Second}}
}

type oktaUser struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Profile struct {
		Email     string `json:"email"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
	} `json:"profile"`
}

type oktaGroup struct {
	ID      string `json:"id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

var linkNextRE = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

func nextLink(header http.Header) string {
	for _, v := range header.Values("Link") {
		if m := linkNextRE.FindStringSubmatch(v); m != nil {
			return m[1]
		}
	}
	return ""
}

// ListUsers lists all active Okta users, following Link: rel="next" pages.
func (c *Client) ListUsers(ctx context.Context, endpoint, accessToken string) ([]idp.User, error) {
	url := endpoint + "/api/v1/users?filter=status+eq+%22ACTIVE%22"

	var users []idp.User
	for url != "" {
		var page []oktaUser
		header, err := c.get(ctx, url, accessToken, &page)
		if err != nil {
			return nil, err
		}
		for _, u := range page {
			users = append(users, idp.User{
				ProviderIdentifier: u.ID,
				Enabled:            u.Status == "ACTIVE",
				DisplayName:        fmt.Sprintf("%s %s", u.Profile.FirstName, u.Profile.LastName),
				Email:              u.Profile.Email,
			})
		}
		url = nextLink(header)
	}
	return users, nil
}

// ListGroups lists all Okta groups.
func (c *Client) ListGroups(ctx context.Context, endpoint, accessToken string) ([]idp.Group, error) {
	url := endpoint + "/api/v1/groups"

	var groups []idp.Group
	for url != "" {
		var page []oktaGroup
		header, err := c.get(ctx, url, accessToken, &page)
		if err != nil {
			return nil, err
		}
		for _, g := range page {
			groups = append(groups, idp.Group{ProviderIdentifier: g.ID, DisplayName: g.Profile.Name})
		}
		url = nextLink(header)
	}
	return groups, nil
}

// ListGroupMembers lists a group's members.
func (c *Client) ListGroupMembers(ctx context.Context, endpoint, accessToken, groupID string) ([]idp.Member, error) {
	url := fmt.Sprintf("%s/api/v1/groups/%s/users", endpoint, groupID)

	var members []idp.Member
	for url != "" {
		var page []oktaUser
		header, err := c.get(ctx, url, accessToken, &page)
		if err != nil {
			return nil, err
		}
		for _, u := range page {
			members = append(members, idp.Member{ProviderIdentifier: u.ID})
		}
		url = nextLink(header)
	}
	return members, nil
}

func (c *Client) get(ctx context.Context, url, accessToken string, out any) (http.Header, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, idp.RetryLater(fmt.Sprintf("building request: %v", err))
	}
	req.Header.Set("Authorization", "SSWS "+accessToken)

	resp, err := c.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		return nil, idp.RetryLater(err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, idp.RetryLater(fmt.Sprintf("decoding response: %v", err))
		}
		return resp.Header, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// 2xx-non-200 is retry_later per spec §4.1.
		return nil, idp.RetryLater(fmt.Sprintf("HTTP %d", resp.StatusCode))
	case resp.StatusCode == http.StatusUnauthorized:
		var body struct {
			ErrorCode    string `json:"errorCode"`
			ErrorSummary string `json:"errorSummary"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return nil, idp.Unauthorized(body.ErrorSummary)
	case resp.StatusCode >= 500:
		return nil, idp.RetryLater(fmt.Sprintf("HTTP %d", resp.StatusCode))
	default:
		var bodyMap map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&bodyMap)
		return nil, idp.Status(resp.StatusCode, fmt.Sprintf("HTTP %d", resp.StatusCode), bodyMap)
	}
}
