// Package workos implements the WorkOS Directory Sync API adapter, used to
// reach JumpCloud (and any other WorkOS-fronted directory) through a single
// API shape. Pagination follows WorkOS's cursor-based "list" envelope.
package workos

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/edgemark/conclave/pkg/idp"
)

// Client calls the WorkOS Directory Sync API.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a WorkOS client with a 30-second timeout.
func NewClient() *Client {
	return &Client{httpClient: &http.Client{Timeout: 30 * time.Second}}
}

type workosUser struct {
	ID    string `json:"id"`
	State string `json:"state"`
	Emails []struct {
		Primary bool   `json:"primary"`
		Value   string `json:"value"`
	} `json:"emails"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type workosGroup struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type workosListMetadata struct {
	After string `json:"after"`
}

type workosUserPage struct {
	Data         []workosUser       `json:"data"`
	ListMetadata workosListMetadata `json:"list_metadata"`
}

type workosGroupPage struct {
	Data         []workosGroup      `json:"data"`
	ListMetadata workosListMetadata `json:"list_metadata"`
}

func primaryEmail(u workosUser) string {
	for _, e := range u.Emails {
		if e.Primary {
			return e.Value
		}
	}
	if len(u.Emails) > 0 {
		return u.Emails[0].Value
	}
	return ""
}

// ListUsers lists all active users in the directory.
func (c *Client) ListUsers(ctx context.Context, endpoint, accessToken string) ([]idp.User, error) {
	var users []idp.User
	after := ""
	for {
		q := url.Values{"limit": {"100"}}
		if after != "" {
			q.Set("after", after)
		}
		var page workosUserPage
		if err := c.get(ctx, endpoint+"/directory_users?"+q.Encode(), accessToken, &page); err != nil {
			return nil, err
		}
		for _, u := range page.Data {
			if u.State != "active" {
				continue
			}
			users = append(users, idp.User{
				ProviderIdentifier: u.ID,
				Enabled:            u.State == "active",
				DisplayName:        fmt.Sprintf("%s %s", u.FirstName, u.LastName),
				Email:              primaryEmail(u),
			})
		}
		if page.ListMetadata.After == "" {
			break
		}
		after = page.ListMetadata.After
	}
	return users, nil
}

// ListGroups lists all groups in the directory.
func (c *Client) ListGroups(ctx context.Context, endpoint, accessToken string) ([]idp.Group, error) {
	var groups []idp.Group
	after := ""
	for {
		q := url.Values{"limit": {"100"}}
		if after != "" {
			q.Set("after", after)
		}
		var page workosGroupPage
		if err := c.get(ctx, endpoint+"/directory_groups?"+q.Encode(), accessToken, &page); err != nil {
			return nil, err
		}
		for _, g := range page.Data {
			groups = append(groups, idp.Group{ProviderIdentifier: g.ID, DisplayName: g.Name})
		}
		if page.ListMetadata.After == "" {
			break
		}
		after = page.ListMetadata.After
	}
	return groups, nil
}

// ListGroupMembers lists a group's members.
func (c *Client) ListGroupMembers(ctx context.Context, endpoint, accessToken, groupID string) ([]idp.Member, error) {
	var members []idp.Member
	after := ""
	for {
		q := url.Values{"limit": {"100"}, "group": {groupID}}
		if after != "" {
			q.Set("after", after)
		}
		var page workosUserPage
		if err := c.get(ctx, endpoint+"/directory_users?"+q.Encode(), accessToken, &page); err != nil {
			return nil, err
		}
		for _, u := range page.Data {
			members = append(members, idp.Member{ProviderIdentifier: u.ID})
		}
		if page.ListMetadata.After == "" {
			break
		}
		after = page.ListMetadata.After
	}
	return members, nil
}

func (c *Client) get(ctx context.Context, reqURL, accessToken string, out any) error {
	req, err := http.NewRequest(http.MethodGet, reqURL, nil)
	if err != nil {
		return idp.RetryLater(fmt.Sprintf("building request: %v", err))
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		return idp.RetryLater(err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		return json.NewDecoder(resp.Body).Decode(out)
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// 2xx-non-200 is retry_later per spec §4.1.
		return idp.RetryLater(fmt.Sprintf("HTTP %d", resp.StatusCode))
	case resp.StatusCode == http.StatusUnauthorized:
		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return idp.Unauthorized(fmt.Sprintf("%v", body["message"]))
	case resp.StatusCode >= 500:
		return idp.RetryLater(fmt.Sprintf("HTTP %d", resp.StatusCode))
	default:
		var bodyMap map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&bodyMap)
		return idp.Status(resp.StatusCode, fmt.Sprintf("HTTP %d", resp.StatusCode), bodyMap)
	}
}
