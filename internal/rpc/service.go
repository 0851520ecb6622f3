// Package rpc serves receipt parsing over Connect, gRPC and gRPC-Web
package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"

	"github.com/zombor/receipt-parser/internal/fault"
	"github.com/zombor/receipt-parser/internal/receipt"
	"github.com/zombor/receipt-parser/internal/scanning"
)

// Service and procedure names
const (
	ServiceName         = "receipts.v1.ReceiptParsingService"
	ParseImageProcedure = "/" + ServiceName + "/ParseImage"
	GetStatusProcedure  = "/" + ServiceName + "/GetStatus"
)

const internalFailureMessage = "failed to parse image"

// ReceiptParsingService implements the RPC surface on top of a receipt.Parser
type ReceiptParsingService struct {
	parser  receipt.Parser
	limits  receipt.Limits
	version string
}

// NewReceiptParsingService creates a new ReceiptParsingService
func NewReceiptParsingService(parser receipt.Parser, limits receipt.Limits, version string) *ReceiptParsingService {
	if limits.MaxUploadBytes <= 0 {
		limits.MaxUploadBytes = receipt.DefaultLimits.MaxUploadBytes
	}
	if len(limits.AllowedMIMETypes) == 0 {
		limits.AllowedMIMETypes = receipt.DefaultLimits.AllowedMIMETypes
	}
	return &ReceiptParsingService{parser: parser, limits: limits, version: version}
}

// Handler returns the service mounted on its own mux
func (s *ReceiptParsingService) Handler() http.Handler {
	opts := []connect.HandlerOption{connect.WithCodec(jsonCodec{})}

	mux := http.NewServeMux()
	mux.Handle(ParseImageProcedure, connect.NewUnaryHandler(ParseImageProcedure, s.ParseImage, opts...))
	mux.Handle(GetStatusProcedure, connect.NewUnaryHandler(GetStatusProcedure, s.GetStatus, opts...))
	return mux
}

// ParseImage extracts a receipt from the request image
func (s *ReceiptParsingService) ParseImage(ctx context.Context, req *connect.Request[ParseImageRequest]) (*connect.Response[ParseImageResponse], error) {
	msg := req.Msg

	// Validate required fields
	if len(msg.ImageData) == 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("image_data is required"))
	}
	contentType := receipt.NormalizeContentType(msg.ContentType)
	if !s.limits.Allows(contentType) {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("content type %q is not supported", msg.ContentType))
	}
	if int64(len(msg.ImageData)) > s.limits.MaxUploadBytes {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("image exceeds %d bytes", s.limits.MaxUploadBytes))
	}

	engine := msg.Engine
	if engine == "" {
		engine = scanning.GeminiName
	}

	parsed, err := s.parser.Dispatch(ctx, engine, msg.ImageData, contentType)
	if err != nil {
		return nil, toConnectError(err)
	}

	return connect.NewResponse(&ParseImageResponse{Receipt: receiptFrom(engine, parsed)}), nil
}

// GetStatus reports every provider and the running version
func (s *ReceiptParsingService) GetStatus(ctx context.Context, req *connect.Request[GetStatusRequest]) (*connect.Response[GetStatusResponse], error) {
	return connect.NewResponse(&GetStatusResponse{
		Providers:      statusFrom(s.parser.ProviderStates(ctx)),
		ServiceVersion: s.version,
	}), nil
}

// toConnectError maps a fault to a Connect error code
func toConnectError(err error) *connect.Error {
	fe, ok := fault.As(err)
	if !ok {
		slog.Error("Unexpected error from dispatch", "error", err)
		return connect.NewError(connect.CodeInternal, errors.New(internalFailureMessage))
	}

	switch fe.Kind {
	case fault.NotFound:
		return connect.NewError(connect.CodeNotFound, errors.New(fe.Message))
	case fault.ProviderUnavailable:
		return connect.NewError(connect.CodeUnavailable, errors.New(fe.Message))
	case fault.Decode, fault.Validation:
		return connect.NewError(connect.CodeInvalidArgument, errors.New(fe.Message))
	default:
		return connect.NewError(connect.CodeInternal, errors.New(internalFailureMessage))
	}
}
