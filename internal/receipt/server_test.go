package receipt

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/receipt-parser/internal/fault"
	"github.com/zombor/receipt-parser/internal/scanning"
)

// mockParser is a mock implementation of Parser
type mockParser struct {
	receipt     *scanning.Receipt
	err         error
	panicWith   any
	states      []scanning.ProviderState
	provider    string
	contentType string
	data        []byte
	calls       int
}

func (m *mockParser) Dispatch(ctx context.Context, provider string, data []byte, contentType string) (*scanning.Receipt, error) {
	m.calls++
	m.provider = provider
	m.contentType = contentType
	m.data = data
	if m.panicWith != nil {
		panic(m.panicWith)
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.receipt, nil
}

func (m *mockParser) ProviderStates(ctx context.Context) []scanning.ProviderState {
	return m.states
}

// uploadBody builds a multipart body with one file part
func uploadBody(field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	part, err := writer.CreatePart(header)
	Expect(err).NotTo(HaveOccurred())
	_, err = part.Write(data)
	Expect(err).NotTo(HaveOccurred())
	Expect(writer.Close()).To(Succeed())
	return body, writer.FormDataContentType()
}

func decodeError(resp *http.Response) errorBody {
	var body errorResponse
	data, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	Expect(json.Unmarshal(data, &body)).To(Succeed())
	return body.Error
}

var _ = Describe("Server", func() {
	var (
		parser      *mockParser
		cfg         ServerConfig
		server      *Server
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		merchant := "Corner Cafe"
		parser = &mockParser{
			receipt: &scanning.Receipt{
				Merchant: &merchant,
				Total:    12.34,
				Items:    []scanning.Item{{Name: "Coffee", Price: 4.5, Qty: 1}},
			},
			states: []scanning.ProviderState{
				{Name: "gemini", Kind: scanning.KindRemote, Available: true, Model: "gemini-2.0-flash-001"},
				{Name: "local", Kind: scanning.KindLocal, Available: false, Reason: "generation engine unavailable: connection refused", Model: "phi3:mini"},
			},
		}
		cfg = ServerConfig{
			Version: Version{Version: "1.2.3", BuildTime: "unknown", GitCommit: "abc123", GitBranch: "main"},
		}
	})

	JustBeforeEach(func() {
		server = NewServerWithMux(parser, cfg, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	upload := func(provider, filename, contentType string, data []byte) *http.Response {
		body, formType := uploadBody("file", filename, contentType, data)
		req, err := http.NewRequest(http.MethodPost, ghttpServer.URL()+"/v1/providers/"+provider+"/parse", body)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", formType)
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(resp.Body.Close)
		return resp
	}

	Describe("handleHealth", func() {
		It("should report ok", func() {
			resp, err := http.Get(ghttpServer.URL() + "/v1/health")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(body).To(MatchJSON(`{"status":"ok"}`))
		})

		It("should set CORS headers", func() {
			resp, err := http.Get(ghttpServer.URL() + "/v1/health")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("handleVersion", func() {
		It("should return the build information", func() {
			resp, err := http.Get(ghttpServer.URL() + "/v1/version")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(body).To(MatchJSON(`{"version":"1.2.3","build_time":"unknown","git_commit":"abc123","git_branch":"main"}`))
		})
	})

	Describe("handleListProviders", func() {
		It("should return every provider state", func() {
			resp, err := http.Get(ghttpServer.URL() + "/v1/providers")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

			var states []scanning.ProviderState
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(json.Unmarshal(body, &states)).To(Succeed())
			Expect(states).To(Equal(parser.states))
		})
	})

	Describe("handleParse", func() {
		When("the upload is a PNG", func() {
			It("should return the receipt", func() {
				resp := upload("gemini", "receipt.png", "image/png", []byte("png bytes"))
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(body).To(MatchJSON(`{"merchant":"Corner Cafe","date":null,"total":12.34,"items":[{"name":"Coffee","price":4.5,"qty":1}]}`))
			})

			It("should dispatch to the provider in the path", func() {
				upload("local", "receipt.png", "image/png", []byte("png bytes"))
				Expect(parser.provider).To(Equal("local"))
				Expect(parser.contentType).To(Equal("image/png"))
				Expect(parser.data).To(Equal([]byte("png bytes")))
			})
		})

		When("the upload has no content type", func() {
			It("should infer it from the filename", func() {
				resp := upload("gemini", "IMG_0001.JPG", "", []byte("jpeg bytes"))
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(parser.contentType).To(Equal("image/jpeg"))
			})
		})

		When("the content type has parameters", func() {
			It("should strip them", func() {
				resp := upload("gemini", "receipt", "Image/JPEG; charset=binary", []byte("jpeg bytes"))
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(parser.contentType).To(Equal("image/jpeg"))
			})
		})

		When("the content type is not allowed", func() {
			It("should return unsupported media type", func() {
				resp := upload("gemini", "receipt.gif", "image/gif", []byte("gif bytes"))
				Expect(resp.StatusCode).To(Equal(http.StatusUnsupportedMediaType))
				Expect(decodeError(resp).Code).To(Equal("UNSUPPORTED_MEDIA_TYPE"))
				Expect(parser.calls).To(Equal(0))
			})
		})

		When("HEIC is allowed by configuration", func() {
			BeforeEach(func() {
				cfg.Limits.AllowedMIMETypes = []string{"image/jpeg", "image/png", "image/heic"}
			})

			It("should accept it", func() {
				resp := upload("gemini", "IMG_0001.HEIC", "", []byte("heic bytes"))
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(parser.contentType).To(Equal("image/heic"))
			})
		})

		When("the form has no file field", func() {
			It("should return a validation error", func() {
				body, formType := uploadBody("image", "receipt.png", "image/png", []byte("png bytes"))
				resp, err := http.Post(ghttpServer.URL()+"/v1/providers/gemini/parse", formType, body)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decodeError(resp).Code).To(Equal("VALIDATION_ERROR"))
			})
		})

		When("the body is not a form", func() {
			It("should return a validation error", func() {
				resp, err := http.Post(ghttpServer.URL()+"/v1/providers/gemini/parse", "image/png", bytes.NewReader([]byte("png")))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decodeError(resp).Code).To(Equal("VALIDATION_ERROR"))
			})
		})

		When("the file is too large", func() {
			BeforeEach(func() {
				cfg.Limits.MaxUploadBytes = 1024
			})

			It("should return payload too large", func() {
				resp := upload("gemini", "receipt.png", "image/png", bytes.Repeat([]byte{1}, 2048))
				Expect(resp.StatusCode).To(Equal(http.StatusRequestEntityTooLarge))
				Expect(decodeError(resp).Code).To(Equal("PAYLOAD_TOO_LARGE"))
				Expect(parser.calls).To(Equal(0))
			})
		})

		DescribeTable("mapping dispatch errors",
			func(err error, status int, code string) {
				parser.err = err
				resp := upload("gemini", "receipt.png", "image/png", []byte("png bytes"))
				Expect(resp.StatusCode).To(Equal(status))
				Expect(decodeError(resp).Code).To(Equal(code))
			},
			Entry("unknown provider", fault.New(fault.NotFound, "unknown provider"), http.StatusNotFound, "UNKNOWN_PROVIDER"),
			Entry("unavailable provider", fault.New(fault.ProviderUnavailable, "not ready"), http.StatusServiceUnavailable, "PROVIDER_UNAVAILABLE"),
			Entry("undecodable image", fault.New(fault.Decode, "bad image"), http.StatusBadRequest, "DECODE_ERROR"),
			Entry("malformed model output", fault.New(fault.MalformedResponse, "not json"), http.StatusBadGateway, "MALFORMED_RESPONSE"),
			Entry("invalid receipt", fault.New(fault.Validation, "negative total"), http.StatusUnprocessableEntity, "VALIDATION_ERROR"),
			Entry("extraction failure", fault.New(fault.ExtractionFailed, "failed to parse receipt"), http.StatusInternalServerError, "INTERNAL"),
			Entry("untyped error", errors.New("boom"), http.StatusInternalServerError, "INTERNAL"),
		)

		When("the provider is unavailable", func() {
			BeforeEach(func() {
				parser.err = fault.New(fault.ProviderUnavailable, "provider \"local\" unavailable").
					WithDetail("reason", "generation engine unavailable")
			})

			It("should include the details", func() {
				resp := upload("local", "receipt.png", "image/png", []byte("png bytes"))
				Expect(decodeError(resp).Details).To(HaveKeyWithValue("reason", "generation engine unavailable"))
			})
		})

		When("an untyped error carries internal details", func() {
			BeforeEach(func() {
				parser.err = errors.New("dial tcp 10.0.0.3:11434: connection refused")
			})

			It("should not leak them", func() {
				resp := upload("local", "receipt.png", "image/png", []byte("png bytes"))
				Expect(decodeError(resp).Message).To(Equal("failed to parse receipt"))
			})
		})

		When("the handler panics", func() {
			BeforeEach(func() {
				parser.panicWith = "index out of range"
			})

			It("should return a JSON internal error", func() {
				resp := upload("gemini", "receipt.png", "image/png", []byte("png bytes"))
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
				Expect(decodeError(resp).Code).To(Equal("INTERNAL"))
			})
		})

		When("the method is wrong", func() {
			It("should return method not allowed", func() {
				resp, err := http.Get(ghttpServer.URL() + "/v1/providers/gemini/parse")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusMethodNotAllowed))
			})
		})
	})

	Describe("CORS", func() {
		It("should answer preflight requests", func() {
			req, err := http.NewRequest(http.MethodOptions, ghttpServer.URL()+"/v1/providers/gemini/parse", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("POST"))
		})
	})

	Describe("authentication", func() {
		BeforeEach(func() {
			cfg.Auth = BasicAuth{Username: "admin", Password: "secret"}
		})

		When("no credentials are sent", func() {
			It("should return unauthorized", func() {
				resp, err := http.Get(ghttpServer.URL() + "/v1/providers")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
			})
		})

		When("the credentials are wrong", func() {
			It("should return unauthorized", func() {
				req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/v1/providers", nil)
				Expect(err).NotTo(HaveOccurred())
				req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("admin:wrong")))
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			})
		})

		DescribeTable("rejecting near-miss credentials",
			func(username, password string) {
				req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/v1/providers", nil)
				Expect(err).NotTo(HaveOccurred())
				req.SetBasicAuth(username, password)
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			},
			Entry("same length password", "admin", "secreT"),
			Entry("password prefix", "admin", "secre"),
			Entry("password with extra text", "admin", "secret!"),
			Entry("wrong user with the right password", "root", "secret"),
			Entry("empty user", "", "secret"),
		)

		When("the password contains a colon", func() {
			BeforeEach(func() {
				cfg.Auth = BasicAuth{Username: "admin", Password: "se:cret"}
			})

			It("should accept it", func() {
				req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/v1/providers", nil)
				Expect(err).NotTo(HaveOccurred())
				req.SetBasicAuth("admin", "se:cret")
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
			})
		})

		When("the credentials are right", func() {
			It("should return the providers", func() {
				req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/v1/providers", nil)
				Expect(err).NotTo(HaveOccurred())
				req.SetBasicAuth("admin", "secret")
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
			})
		})

		It("should leave the health check open", func() {
			resp, err := http.Get(ghttpServer.URL() + "/v1/health")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})
})
