package receipt

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/zombor/receipt-parser/internal/fault"
)

// Error codes returned in the error body
const (
	codeUnknownProvider     = "UNKNOWN_PROVIDER"
	codeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	codeDecode              = "DECODE_ERROR"
	codeMalformedResponse   = "MALFORMED_RESPONSE"
	codeValidation          = "VALIDATION_ERROR"
	codeUnsupportedMedia    = "UNSUPPORTED_MEDIA_TYPE"
	codePayloadTooLarge     = "PAYLOAD_TOO_LARGE"
	codeUnauthorized        = "UNAUTHORIZED"
	codeInternal            = "INTERNAL"
)

// multipart headers and boundaries on top of the file itself
const formOverhead = 1 << 20

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// statusFor maps a fault kind to its HTTP status and error code
func statusFor(kind fault.Kind) (int, string) {
	switch kind {
	case fault.NotFound:
		return http.StatusNotFound, codeUnknownProvider
	case fault.ProviderUnavailable:
		return http.StatusServiceUnavailable, codeProviderUnavailable
	case fault.Decode:
		return http.StatusBadRequest, codeDecode
	case fault.MalformedResponse:
		return http.StatusBadGateway, codeMalformedResponse
	case fault.Validation:
		return http.StatusUnprocessableEntity, codeValidation
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes err as an error body
func writeError(w http.ResponseWriter, err error) {
	fe, ok := fault.As(err)
	if !ok {
		fe = fault.New(fault.ExtractionFailed, parseFailedMessage)
	}
	status, code := statusFor(fe.Kind)
	writeJSON(w, status, errorResponse{
		Error: errorBody{Code: code, Message: fe.Message, Details: fe.Details},
	})
}

func writeRequestError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Error: errorBody{Code: code, Message: message},
	})
}

// handleHealth reports that the process is serving
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleVersion reports build information
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.version)
}

// handleListProviders returns the state of every provider
func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.parser.ProviderStates(r.Context()))
}

// handleParse extracts a receipt from an uploaded image
func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")

	if r.ContentLength > s.limits.MaxUploadBytes+formOverhead {
		writeRequestError(w, http.StatusRequestEntityTooLarge, codePayloadTooLarge, "File is too large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.limits.MaxUploadBytes+formOverhead)
	if err := r.ParseMultipartForm(s.limits.MaxUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeRequestError(w, http.StatusRequestEntityTooLarge, codePayloadTooLarge, "File is too large")
			return
		}
		slog.Warn("Error parsing multipart form", "error", err)
		writeRequestError(w, http.StatusBadRequest, codeValidation, "Expected a multipart form with a file field")
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeRequestError(w, http.StatusBadRequest, codeValidation, "No file provided")
		return
	}
	defer f.Close()

	if header.Size > s.limits.MaxUploadBytes {
		writeRequestError(w, http.StatusRequestEntityTooLarge, codePayloadTooLarge, "File is too large")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = contentTypeFromFilename(header.Filename)
	}
	contentType = NormalizeContentType(contentType)
	if !s.limits.Allows(contentType) {
		writeRequestError(w, http.StatusUnsupportedMediaType, codeUnsupportedMedia, "Unsupported content type "+contentType)
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeRequestError(w, http.StatusInternalServerError, codeInternal, "Error reading file")
		return
	}
	if len(data) == 0 {
		writeRequestError(w, http.StatusBadRequest, codeValidation, "File is empty")
		return
	}

	receipt, err := s.parser.Dispatch(r.Context(), provider, data, contentType)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, receipt)
}
