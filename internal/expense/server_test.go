package expense

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/zombor/expense-tracker/internal/metrics"
	"github.com/zombor/expense-tracker/internal/scanning"
)

// headerAuth trusts the X-User header
type headerAuth struct{}

func (headerAuth) UserID(r *http.Request) (string, error) {
	if id := r.Header.Get("X-User"); id != "" {
		return id, nil
	}
	return "", errors.New("no user")
}

func multipartUpload(field, filename string, data []byte) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(field, filename)
	Expect(err).NotTo(HaveOccurred())
	_, err = part.Write(data)
	Expect(err).NotTo(HaveOccurred())
	Expect(writer.Close()).To(Succeed())
	return body, writer.FormDataContentType()
}

var _ = Describe("Server", func() {
	var (
		store       *mockStore
		extractor   *mockExtractor
		classifier  *mockClassifier
		reg         *prometheus.Registry
		timeout     time.Duration
		server      *Server
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		store = newMockStore()
		extractor = &mockExtractor{doc: &scanning.Document{Merchant: "Trader Joe's", TotalAmount: "12.50"}}
		classifier = newMockClassifier()
		reg = prometheus.NewRegistry()
		timeout = 5 * time.Second
	})

	JustBeforeEach(func() {
		artifacts, err := NewArtifactStore(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
		service := NewService(store, extractor, classifier, artifacts, Options{Metrics: metrics.NewPipeline(reg)})
		server = NewServerWithMux(service, ServerConfig{
			Auth:            headerAuth{},
			Metrics:         promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			PipelineTimeout: timeout,
		}, http.NewServeMux())

		ghttpServer = ghttp.NewServer()
		for _, method := range []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"} {
			ghttpServer.RouteToHandler(method, regexp.MustCompile(`^/`), server.ServeHTTP)
		}
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	do := func(method, path, user string, body io.Reader, contentType string) *http.Response {
		req, err := http.NewRequest(method, ghttpServer.URL()+path, body)
		Expect(err).NotTo(HaveOccurred())
		if user != "" {
			req.Header.Set("X-User", user)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decodeError := func(resp *http.Response) string {
		defer resp.Body.Close()
		var body map[string]string
		Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
		return body["error"]
	}

	Describe("GET /health", func() {
		It("should not require auth", func() {
			resp := do("GET", "/health", "", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("OPTIONS preflight", func() {
		It("should answer with CORS headers", func() {
			resp := do("OPTIONS", "/api/scan-receipt", "", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("PUT"))
		})
	})

	Describe("POST /api/scan-receipt", func() {
		var (
			resp *http.Response
			user string
			data []byte
		)

		BeforeEach(func() {
			user = "user-1"
			data = []byte("image bytes")
		})

		JustBeforeEach(func() {
			body, contentType := multipartUpload("file", "receipt.png", data)
			resp = do("POST", "/api/scan-receipt", user, body, contentType)
		})

		When("the pipeline succeeds", func() {
			It("should return 201 with the expense", func() {
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

				var expense Expense
				Expect(json.NewDecoder(resp.Body).Decode(&expense)).To(Succeed())
				Expect(expense.UserID).To(Equal("user-1"))
				Expect(expense.Category).To(Equal(CategoryFood))
				Expect(expense.BusinessName).To(Equal("Trader Joe's"))
				Expect(expense.Amount.Equal(decimal.RequireFromString("12.50"))).To(BeTrue())
			})

			It("should show up in the metrics", func() {
				resp.Body.Close()
				metricsResp := do("GET", "/metrics", "", nil, "")
				defer metricsResp.Body.Close()
				body, err := io.ReadAll(metricsResp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(body)).To(ContainSubstring(`expense_tracker_pipeline_runs_total{outcome="success"} 1`))
			})
		})

		When("no user is authenticated", func() {
			BeforeEach(func() {
				user = ""
			})

			It("should return 401", func() {
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				Expect(extractor.calls).To(BeZero())
			})
		})

		When("the upload is empty", func() {
			BeforeEach(func() {
				data = []byte{}
			})

			It("should return 422", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
				Expect(decodeError(resp)).To(ContainSubstring("invalid receipt input"))
			})
		})

		When("the classifier fails", func() {
			BeforeEach(func() {
				classifier.errs[categoryInstruction] = errors.New("timeout")
			})

			It("should return 502", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
				Expect(decodeError(resp)).To(ContainSubstring("category"))
			})
		})

		When("the pipeline runs past its deadline", func() {
			BeforeEach(func() {
				classifier.hang = true
				timeout = 50 * time.Millisecond
			})

			It("should return 504", func() {
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusGatewayTimeout))
			})
		})

		When("the price cannot be parsed", func() {
			BeforeEach(func() {
				classifier.answers[priceInstruction] = "about twelve"
			})

			It("should return 502", func() {
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
			})
		})

		When("the store fails", func() {
			BeforeEach(func() {
				store.insertErr = errors.New("disk full")
			})

			It("should return 500", func() {
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			})
		})
	})

	When("the form has no file field", func() {
		It("should return 400", func() {
			body, contentType := multipartUpload("other", "receipt.png", []byte("x"))
			resp := do("POST", "/api/scan-receipt", "user-1", body, contentType)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(decodeError(resp)).To(ContainSubstring("No file"))
		})
	})

	Describe("GET /api/expenses", func() {
		It("should return an empty array when there are none", func() {
			resp := do("GET", "/api/expenses", "user-1", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(strings.TrimSpace(string(body))).To(Equal("[]"))
		})

		It("should only list the caller's expenses", func() {
			store.Insert(context.Background(), &Expense{UserID: "user-1", Amount: decimal.NewFromInt(1), Category: CategoryFood})
			store.Insert(context.Background(), &Expense{UserID: "user-2", Amount: decimal.NewFromInt(2), Category: CategoryFood})

			resp := do("GET", "/api/expenses", "user-1", nil, "")
			defer resp.Body.Close()
			var expenses []*Expense
			Expect(json.NewDecoder(resp.Body).Decode(&expenses)).To(Succeed())
			Expect(expenses).To(HaveLen(1))
			Expect(expenses[0].UserID).To(Equal("user-1"))
		})
	})

	Describe("PUT /api/expenses/{id}", func() {
		BeforeEach(func() {
			store.Insert(context.Background(), &Expense{UserID: "user-1", Amount: decimal.NewFromInt(1), Category: CategoryFood, BusinessName: "Cafe"})
		})

		It("should update the expense", func() {
			resp := do("PUT", "/api/expenses/exp-1", "user-1",
				strings.NewReader(`{"amount": "9.99", "category": "Shopping", "business_name": " Target "}`), "application/json")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(store.expenses["exp-1"].BusinessName).To(Equal("Target"))
			Expect(store.expenses["exp-1"].Amount.Equal(decimal.RequireFromString("9.99"))).To(BeTrue())
		})

		It("should accept the legacy update path", func() {
			resp := do("PUT", "/api/expenses/update/exp-1", "user-1",
				strings.NewReader(`{"amount": 3, "category": "Pets", "business_name": "Petco"}`), "application/json")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(store.expenses["exp-1"].Category).To(Equal(CategoryPets))
		})

		It("should return 422 for a negative amount", func() {
			resp := do("PUT", "/api/expenses/exp-1", "user-1",
				strings.NewReader(`{"amount": "-1", "category": "Food", "business_name": "Cafe"}`), "application/json")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
		})

		It("should return 404 for another user's expense", func() {
			resp := do("PUT", "/api/expenses/exp-1", "user-2",
				strings.NewReader(`{"amount": "1", "category": "Food", "business_name": "Cafe"}`), "application/json")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should return 400 for a malformed body", func() {
			resp := do("PUT", "/api/expenses/exp-1", "user-1", strings.NewReader(`{`), "application/json")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("DELETE /api/expenses/{id}", func() {
		BeforeEach(func() {
			store.Insert(context.Background(), &Expense{UserID: "user-1", Amount: decimal.NewFromInt(1), Category: CategoryFood})
		})

		It("should return 204", func() {
			resp := do("DELETE", "/api/expenses/exp-1", "user-1", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(store.expenses).To(BeEmpty())
		})

		It("should return 404 when missing", func() {
			resp := do("DELETE", "/api/expenses/nope", "user-1", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("GET /api/expenses/export", func() {
		It("should return an xlsx attachment", func() {
			resp := do("GET", "/api/expenses/export", "user-1", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(ContainSubstring("spreadsheetml"))
			Expect(resp.Header.Get("Content-Disposition")).To(ContainSubstring("expenses-"))
		})
	})
})

var _ = Describe("statusFor", func() {
	DescribeTable("error kinds",
		func(err error, code int) {
			Expect(statusFor(err)).To(Equal(code))
		},
		Entry("input", newPipelineError(ErrInput, StageAcquire, errors.New("x")), http.StatusUnprocessableEntity),
		Entry("extraction", newPipelineError(ErrExtraction, StageExtract, errors.New("x")), http.StatusBadGateway),
		Entry("normalization", newPipelineError(ErrNormalization, StagePrice, errors.New("x")), http.StatusBadGateway),
		Entry("persist", newPipelineError(ErrPersist, StagePersist, errors.New("x")), http.StatusInternalServerError),
		Entry("not found", ErrNotFound, http.StatusNotFound),
		Entry("deadline during classification", newPipelineError(ErrExtraction, StageCategory, context.DeadlineExceeded), http.StatusGatewayTimeout),
		Entry("artifact write", fmt.Errorf("writing receipt artifact: %w", errors.New("no space left on device")), http.StatusInternalServerError),
	)
})
