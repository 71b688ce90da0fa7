// Package entra implements the Microsoft Entra ID (Azure AD) Graph API
// adapter: paginated users, groups, and group members via
// @odata.nextLink-style pagination.
package entra

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/edgemark/conclave/pkg/idp"
)

// Client calls the Microsoft Graph API.
type Client struct {
	httpClient *http.Client
}

// NewClient creates an Entra client with a 30-second timeout and pooled
// connections, per spec §4.1.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

type graphUser struct {
	ID                string `json:"id"`
	AccountEnabled    bool   `json:"accountEnabled"`
	DisplayName       string `json:"displayName"`
	GivenName         string `json:"givenName"`
	Surname           string `json:"surname"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

type graphGroup struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type graphPage[T any] struct {
	Value    []T    `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

// ListUsers lists all enabled users in the tenant, paginating via
// @odata.nextLink, selecting only the fields the planner needs.
func (c *Client) ListUsers(ctx context.Context, endpoint, accessToken string) ([]idp.User, error) {
	url := endpoint + "/v1.0/users?$select=id,accountEnabled,displayName,givenName,surname,mail,userPrincipalName"

	var users []idp.User
	for url != "" {
		var page graphPage[graphUser]
		if err := c.get(ctx, url, accessToken, &page); err != nil {
			return nil, err
		}
		for _, u := range page.Value {
			if !u.AccountEnabled {
				continue
			}
			email := u.UserPrincipalName
			if email == "" {
				email = u.Mail
			}
			users = append(users, idp.User{
				ProviderIdentifier: u.ID,
				Enabled:            u.AccountEnabled,
				DisplayName:        u.DisplayName,
				Email:              email,
			})
		}
		url = page.NextLink
	}
	return users, nil
}

// ListGroups lists all groups in the tenant.
func (c *Client) ListGroups(ctx context.Context, endpoint, accessToken string) ([]idp.Group, error) {
	url := endpoint + "/v1.0/groups?$select=id,displayName"

	var groups []idp.Group
	for url != "" {
		var page graphPage[graphGroup]
		if err := c.get(ctx, url, accessToken, &page); err != nil {
			return nil, err
		}
		for _, g := range page.Value {
			groups = append(groups, idp.Group{ProviderIdentifier: g.ID, DisplayName: g.DisplayName})
		}
		url = page.NextLink
	}
	return groups, nil
}

// ListGroupMembers lists a group's transitive user members, requesting only
// the id and accountEnabled fields and filtering disabled accounts
// client-side per spec §4.1.
func (c *Client) ListGroupMembers(ctx context.Context, endpoint, accessToken, groupID string) ([]idp.Member, error) {
	url := fmt.Sprintf("%s/v1.0/groups/%s/transitiveMembers/microsoft.graph.user?$select=id,accountEnabled", endpoint, groupID)

	var members []idp.Member
	for url != "" {
		var page graphPage[graphUser]
		if err := c.get(ctx, url, accessToken, &page); err != nil {
			return nil, err
		}
		for _, m := range page.Value {
			if !m.AccountEnabled {
				continue
			}
			members = append(members, idp.Member{ProviderIdentifier: m.ID})
		}
		url = page.NextLink
	}
	return members, nil
}

func (c *Client) get(ctx context.Context, url, accessToken string, out any) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
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
		// 2xx-non-200 (e.g. 202/204) is retry_later per spec §4.1.
		return idp.RetryLater(fmt.Sprintf("HTTP %d", resp.StatusCode))
	case resp.StatusCode == http.StatusUnauthorized:
		var body struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
				Inner   struct {
					Code string `json:"code"`
				} `json:"innerError"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return idp.Unauthorized(body.Error.Message)
	case resp.StatusCode >= 500:
		return idp.RetryLater(fmt.Sprintf("HTTP %d", resp.StatusCode))
	default:
		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return idp.Status(resp.StatusCode, fmt.Sprintf("HTTP %d", resp.StatusCode), body)
	}
}
