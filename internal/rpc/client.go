package rpc

import (
	"context"

	"connectrpc.com/connect"
)

// Client calls a ReceiptParsingService
type Client struct {
	parseImage *connect.Client[ParseImageRequest, ParseImageResponse]
	getStatus  *connect.Client[GetStatusRequest, GetStatusResponse]
}

// NewClient creates a client for the service at baseURL. Extra options
// select the protocol, for example connect.WithGRPC().
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return &Client{
		parseImage: connect.NewClient[ParseImageRequest, ParseImageResponse](httpClient, baseURL+ParseImageProcedure, opts...),
		getStatus:  connect.NewClient[GetStatusRequest, GetStatusResponse](httpClient, baseURL+GetStatusProcedure, opts...),
	}
}

// ParseImage calls ParseImage
func (c *Client) ParseImage(ctx context.Context, req *ParseImageRequest) (*ParseImageResponse, error) {
	resp, err := c.parseImage.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// GetStatus calls GetStatus
func (c *Client) GetStatus(ctx context.Context) (*GetStatusResponse, error) {
	resp, err := c.getStatus.CallUnary(ctx, connect.NewRequest(&GetStatusRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}
