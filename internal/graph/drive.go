package graph

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// DefaultSearchLimit caps SearchDrive results when no limit is given.
const DefaultSearchLimit = 50

// User is the signed-in user's profile.
type User struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail,omitempty"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// DriveItem is a file or folder in the user's OneDrive.
type DriveItem struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	WebURL       string `json:"webUrl"`
	Size         int64  `json:"size"`
	IsFolder     bool   `json:"isFolder"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
}

// Me returns the profile of the signed-in user.
func (c *Client) Me(ctx context.Context) (User, error) {
	body, err := c.get(ctx, "/me")
	if err != nil {
		return User{}, fmt.Errorf("fetching profile: %w", err)
	}

	return User{
		ID:                gjson.GetBytes(body, "id").String(),
		DisplayName:       gjson.GetBytes(body, "displayName").String(),
		Mail:              gjson.GetBytes(body, "mail").String(),
		UserPrincipalName: gjson.GetBytes(body, "userPrincipalName").String(),
	}, nil
}

// SearchDrive searches the user's OneDrive, following result pages until
// limit items were collected or no pages remain. A non-positive limit means
// DefaultSearchLimit. Items found before a cancellation or a failing page are
// returned along with the error.
func (c *Client) SearchDrive(ctx context.Context, query string, limit int) ([]DriveItem, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	next := searchPath(query, limit)
	var items []DriveItem

	for next != "" && len(items) < limit {
		if err := ctx.Err(); err != nil {
			return items, err
		}

		body, err := c.get(ctx, next)
		if err != nil {
			return items, fmt.Errorf("searching drive: %w", err)
		}

		gjson.GetBytes(body, "value").ForEach(func(_, v gjson.Result) bool {
			items = append(items, driveItemFrom(v))
			return len(items) < limit
		})

		next = topLevel(body, "@odata.nextLink").String()
		c.logger.DebugContext(ctx, "drive search page", "items", len(items), "more", next != "")
	}

	return items, nil
}

func searchPath(query string, limit int) string {
	// OData string literals escape a quote by doubling it
	q := strings.ReplaceAll(query, "'", "''")
	return fmt.Sprintf("/me/drive/root/search(q='%s')?$expand=thumbnails&$top=%d",
		url.PathEscape(q), min(limit, 200))
}

func driveItemFrom(v gjson.Result) DriveItem {
	return DriveItem{
		ID:           v.Get("id").String(),
		Name:         v.Get("name").String(),
		WebURL:       v.Get("webUrl").String(),
		Size:         v.Get("size").Int(),
		IsFolder:     v.Get("folder").Exists(),
		ThumbnailURL: v.Get("thumbnails.0.medium.url").String(),
	}
}
