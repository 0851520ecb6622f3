package scanning

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Ollama", func() {
	var (
		server *ghttp.Server
		engine *Ollama
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		var err error
		engine, err = NewOllama(server.URL(), "phi3:mini", DefaultGenerationOptions, 30*time.Minute)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("NewOllama", func() {
		It("should require a model", func() {
			_, err := NewOllama(server.URL(), "", DefaultGenerationOptions, 0)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Check", func() {
		It("should accept an http daemon url", func() {
			Expect(engine.Check(context.Background())).To(Succeed())
		})

		It("should not contact the daemon", func() {
			server.Close()
			Expect(engine.Check(context.Background())).To(Succeed())
		})

		It("should reject a url without a host", func() {
			engine, err := NewOllama("http://", "phi3:mini", DefaultGenerationOptions, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(engine.Check(context.Background())).To(MatchError(ContainSubstring("no host")))
		})

		It("should reject a url that is not http", func() {
			engine, err := NewOllama("unix:///var/run/ollama.sock", "phi3:mini", DefaultGenerationOptions, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(engine.Check(context.Background())).To(MatchError(ContainSubstring("http or https")))
		})
	})

	Describe("Load and Generate", func() {
		var (
			generateRequest map[string]any
			generator       Generator
			loadErr         error
		)

		When("the model is installed", func() {
			BeforeEach(func() {
				server.AppendHandlers(
					ghttp.CombineHandlers(
						ghttp.VerifyRequest(http.MethodPost, "/api/show"),
						ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{"modelfile": "FROM phi3"}),
					),
					ghttp.CombineHandlers(
						ghttp.VerifyRequest(http.MethodPost, "/api/generate"),
						ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{"model": "phi3:mini", "done": true}),
					),
					ghttp.CombineHandlers(
						ghttp.VerifyRequest(http.MethodPost, "/api/generate"),
						func(w http.ResponseWriter, r *http.Request) {
							body, err := io.ReadAll(r.Body)
							Expect(err).NotTo(HaveOccurred())
							Expect(json.Unmarshal(body, &generateRequest)).To(Succeed())
						},
						ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
							"model":    "phi3:mini",
							"response": ` {"total": 12.34, "items": []} `,
							"done":     true,
						}),
					),
				)
			})

			JustBeforeEach(func() {
				generator, loadErr = engine.Load(context.Background())
			})

			It("should load the model", func() {
				Expect(loadErr).NotTo(HaveOccurred())
				Expect(generator).NotTo(BeNil())
			})

			It("should return the trimmed completion", func() {
				text, err := generator.Generate(context.Background(), "prompt")
				Expect(err).NotTo(HaveOccurred())
				Expect(text).To(Equal(`{"total": 12.34, "items": []}`))
			})

			It("should ask for JSON with bounded sampling", func() {
				_, err := generator.Generate(context.Background(), "prompt")
				Expect(err).NotTo(HaveOccurred())
				Expect(generateRequest).To(HaveKeyWithValue("format", "json"))
				Expect(generateRequest).To(HaveKeyWithValue("prompt", "prompt"))
				Expect(generateRequest["options"]).To(HaveKeyWithValue("temperature", BeNumerically("~", 0.1)))
				Expect(generateRequest["options"]).To(HaveKeyWithValue("num_predict", BeNumerically("==", 512)))
				Expect(generateRequest["options"]).To(HaveKeyWithValue("top_k", BeNumerically("==", 40)))
			})
		})

		When("the model is not installed", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodPost, "/api/show"),
					ghttp.RespondWithJSONEncoded(http.StatusNotFound, map[string]any{"error": "model 'phi3:mini' not found"}),
				))
			})

			It("should return an error", func() {
				_, err := engine.Load(context.Background())
				Expect(err).To(MatchError(ContainSubstring("not present")))
			})
		})
	})
})
