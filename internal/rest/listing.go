package rest

import (
	"context"

	"github.com/lotmarket/chatsync/internal/model"
)

// GetListing fetches the current listing detail for the "about this
// listing" card and its availability banner
func (c *Client) GetListing(ctx context.Context, listingId string) (*model.Listing, error) {
	params := map[string]string{"listing_id": listingId}
	var result model.Listing
	if err := c.get(ctx, "/listing/info", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
