// Package google implements the Google Workspace Admin SDK Directory API
// adapter: pagination via nextPageToken.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/edgemark/conclave/pkg/idp"
)

// Client calls the Google Workspace Admin SDK Directory API.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a Google Workspace client with a 30-second timeout.
func NewClient() *Client {
	return &Client{httpClient: &http.Client{Timeout: 30 * time.Second}}
}

type googleUser struct {
	ID          string `json:"id"`
	Suspended   bool   `json:"suspended"`
	PrimaryMail string `json:"primaryEmail"`
	Name        struct {
		FullName string `json:"fullName"`
	} `json:"name"`
}

type googleUserPage struct {
	Users         []googleUser `json:"users"`
	NextPageToken string       `json:"nextPageToken"`
}

type googleGroup struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type googleGroupPage struct {
	Groups        []googleGroup `json:"groups"`
	NextPageToken string        `json:"nextPageToken"`
}

type googleMember struct {
	ID string `json:"id"`
}

type googleMemberPage struct {
	Members       []googleMember `json:"members"`
	NextPageToken string         `json:"nextPageToken"`
}

// ListUsers lists all non-suspended users in the customer domain.
func (c *Client) ListUsers(ctx context.Context, endpoint, accessToken string) ([]idp.User, error) {
	var users []idp.User
	pageToken := ""
	for {
		q := url.Values{"customer": {"my_customer"}, "maxResults": {"200"}}
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		var page googleUserPage
		if err := c.get(ctx, endpoint+"/admin/directory/v1/users?"+q.Encode(), accessToken, &page); err != nil {
			return nil, err
		}
		for _, u := range page.Users {
			if u.Suspended {
				continue
			}
			users = append(users, idp.User{
				ProviderIdentifier: u.ID,
				Enabled:            !u.Suspended,
				DisplayName:        u.Name.FullName,
				Email:              u.PrimaryMail,
			})
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}
	return users, nil
}

// ListGroups lists all groups in the customer domain.
func (c *Client) ListGroups(ctx context.Context, endpoint, accessToken string) ([]idp.Group, error) {
	var groups []idp.Group
	pageToken := ""
	for {
		q := url.Values{"customer": {"my_customer"}, "maxResults": {"200"}}
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		var page googleGroupPage
		if err := c.get(ctx, endpoint+"/admin/directory/v1/groups?"+q.Encode(), accessToken, &page); err != nil {
			return nil, err
		}
		for _, g := range page.Groups {
			groups = append(groups, idp.Group{ProviderIdentifier: g.ID, DisplayName: g.Name})
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}
	return groups, nil
}

// ListGroupMembers lists a group's members.
func (c *Client) ListGroupMembers(ctx context.Context, endpoint, accessToken, groupID string) ([]idp.Member, error) {
	var members []idp.Member
	pageToken := ""
	for {
		q := url.Values{"maxResults": {"200"}}
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		var page googleMemberPage
		if err := c.get(ctx, fmt.Sprintf("%s/admin/directory/v1/groups/%s/members?%s", endpoint, groupID, q.Encode()), accessToken, &page); err != nil {
			return nil, err
		}
		for _, m := range page.Members {
			members = append(members, idp.Member{ProviderIdentifier: m.ID})
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
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
		var body struct {
			Error struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
				Errors  []struct {
					Reason string `json:"reason"`
				} `json:"errors"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return idp.Unauthorized(body.Error.Message)
	case resp.StatusCode >= 500:
		return idp.RetryLater(fmt.Sprintf("HTTP %d", resp.StatusCode))
	default:
		var bodyMap map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&bodyMap)
		return idp.Status(resp.StatusCode, fmt.Sprintf("HTTP %d", resp.StatusCode), bodyMap)
	}
}
