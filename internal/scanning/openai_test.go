package scanning

import (
	"context"
	"encoding/json"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

func decodeJSONBody(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func chatCompletion(content string) map[string]any {
	return map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"model":  "gpt-4o",
		"choices": []map[string]any{
			{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			},
		},
	}
}

var _ = Describe("OpenAI", func() {
	var (
		server *ghttp.Server
		client *OpenAI
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		var err error
		client, err = NewOpenAI("test-key", server.URL()+"/v1", "gpt-4o")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	It("requires an api key", func() {
		_, err := NewOpenAI("", "", "")
		Expect(err).To(HaveOccurred())
	})

	Describe("Classify", func() {
		var (
			role   Role
			answer string
			err    error
		)

		BeforeEach(func() {
			role = RoleSystem
		})

		JustBeforeEach(func() {
			answer, err = client.Classify(context.Background(), role, "Return the total.", `{"total_amount":"12.50"}`)
		})

		When("the model answers", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodPost, "/v1/chat/completions"),
					ghttp.VerifyHeaderKV("Authorization", "Bearer test-key"),
					func(w http.ResponseWriter, r *http.Request) {
						var req struct {
							Model    string `json:"model"`
							Messages []struct {
								Role    string `json:"role"`
								Content string `json:"content"`
							} `json:"messages"`
						}
						Expect(decodeJSONBody(r, &req)).To(Succeed())
						Expect(req.Model).To(Equal("gpt-4o"))
						Expect(req.Messages).To(HaveLen(2))
						Expect(req.Messages[0].Role).To(Equal("system"))
						Expect(req.Messages[0].Content).To(Equal("Return the total."))
					},
					ghttp.RespondWithJSONEncoded(http.StatusOK, chatCompletion(" $12.50 ")),
				))
			})

			It("should return the trimmed answer", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(answer).To(Equal("$12.50"))
			})
		})

		When("the instruction is sent as a user turn", func() {
			BeforeEach(func() {
				role = RoleUser
				server.AppendHandlers(ghttp.CombineHandlers(
					func(w http.ResponseWriter, r *http.Request) {
						var req struct {
							Messages []struct {
								Role string `json:"role"`
							} `json:"messages"`
						}
						Expect(decodeJSONBody(r, &req)).To(Succeed())
						Expect(req.Messages[0].Role).To(Equal("user"))
					},
					ghttp.RespondWithJSONEncoded(http.StatusOK, chatCompletion("12.50")),
				))
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})
		})

		When("the response has no choices", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
					"id":      "chatcmpl-1",
					"choices": []any{},
				}))
			})

			It("returns an error", func() {
				Expect(err).To(MatchError(ContainSubstring("no choices")))
			})
		})

		When("the API rejects the request", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusUnauthorized, map[string]any{
					"error": map[string]string{"message": "bad key", "type": "invalid_request_error"},
				}))
			})

			It("returns an error", func() {
				Expect(err).To(MatchError(ContainSubstring("calling openai")))
			})
		})
	})

	Describe("Extract", func() {
		var (
			doc *Document
			err error
		)

		JustBeforeEach(func() {
			path := writeTestImage(GinkgoT().TempDir(), "receipt.png", encodePNG)
			doc, err = client.Extract(context.Background(), path)
		})

		When("the model returns a document", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodPost, "/v1/chat/completions"),
					ghttp.RespondWithJSONEncoded(http.StatusOK, chatCompletion(`{"merchant": "Cafe", "total_amount": "4.20"}`)),
				))
			})

			It("should parse the document", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(doc.Merchant).To(Equal("Cafe"))
				Expect(doc.TotalAmount).To(Equal("4.20"))
			})
		})

		When("the model returns prose", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, chatCompletion("I cannot read this receipt.")))
			})

			It("returns a parse error that is not an input failure", func() {
				Expect(err).To(MatchError(ContainSubstring("parsing receipt document")))
				Expect(err).NotTo(MatchError(ErrUnreadableImage))
			})
		})
	})
})
