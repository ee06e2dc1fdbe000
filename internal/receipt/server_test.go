package receipt

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Server", func() {
	var (
		db         *SQLDB
		service    *Service
		server     *Server
		auth       BasicAuth
		testServer *httptest.Server
	)

	setupServer := func() {
		if testServer != nil {
			testServer.Close()
		}
		server = NewServerWithMux(service, auth, http.NewServeMux())
		testServer = httptest.NewServer(server)
	}

	BeforeEach(func() {
		var err error
		db, err = NewSQLDB(filepath.Join(GinkgoT().TempDir(), "receipts.db"))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() {
			Expect(db.Close()).To(Succeed())
		})

		storage, err := NewLocalStorage(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())

		recognizer := &mockRecognizer{text: "TARGET\nAustin, TX"}
		structurer := &mockStructurer{extraction: targetExtraction()}
		service = NewService(db, recognizer, structurer, storage, &mockArchiver{})

		auth = BasicAuth{}
		setupServer()
	})

	AfterEach(func() {
		if testServer != nil {
			testServer.Close()
		}
	})

	upload := func(filename string) *Receipt {
		GinkgoHelper()
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("file", filename)
		Expect(err).NotTo(HaveOccurred())
		_, err = fw.Write([]byte("image bytes"))
		Expect(err).NotTo(HaveOccurred())
		Expect(mw.Close()).To(Succeed())

		resp, err := http.Post(testServer.URL+"/api/receipts", mw.FormDataContentType(), &buf)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))

		var rec Receipt
		Expect(json.NewDecoder(resp.Body).Decode(&rec)).To(Succeed())
		return &rec
	}

	get := func(path string, out any) *http.Response {
		GinkgoHelper()
		resp, err := http.Get(testServer.URL + path)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		if out != nil {
			Expect(json.NewDecoder(resp.Body).Decode(out)).To(Succeed())
		}
		return resp
	}

	post := func(path string) *http.Response {
		GinkgoHelper()
		resp, err := http.Post(testServer.URL+path, "application/json", nil)
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		return resp
	}

	Describe("index", func() {
		It("serves the review interface", func() {
			resp, err := http.Get(testServer.URL + "/")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("Expense Analysis"))
		})
	})

	Describe("uploading a receipt", func() {
		It("returns the pending receipt", func() {
			rec := upload("target.jpg")
			Expect(rec.ID).NotTo(BeZero())
			Expect(rec.Status).To(Equal(StatusPending))
			Expect(rec.TotalAmount).To(BeNumerically("~", 25.96, 0.001))
		})

		It("rejects requests without a file", func() {
			resp, err := http.Post(testServer.URL+"/api/receipts", "multipart/form-data; boundary=x", bytes.NewReader(nil))
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("listing receipts", func() {
		BeforeEach(func() {
			rec := upload("a.jpg")
			upload("b.jpg")
			_, err := service.Approve(context.Background(), rec.ID)
			Expect(err).NotTo(HaveOccurred())
		})

		It("returns all receipts by default", func() {
			var receipts []*Receipt
			resp := get("/api/receipts", &receipts)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(receipts).To(HaveLen(2))
		})

		It("filters by status", func() {
			var receipts []*Receipt
			resp := get("/api/receipts?status=pending", &receipts)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(receipts).To(HaveLen(1))
			Expect(receipts[0].Status).To(Equal(StatusPending))
		})

		It("rejects unknown status filters", func() {
			resp := get("/api/receipts?status=bogus", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("receipt detail", func() {
		It("returns the receipt with its items", func() {
			rec := upload("target.jpg")

			var detail struct {
				Receipt
				Items []*Item `json:"items"`
			}
			resp := get("/api/receipts/"+strconv.FormatInt(rec.ID, 10), &detail)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(detail.Items).To(HaveLen(2))
			Expect(detail.Items[0].LineTotal).To(BeNumerically("~", 11.98, 0.001))
		})

		It("returns 404 for a missing receipt", func() {
			resp := get("/api/receipts/9999", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("review decisions", func() {
		var rec *Receipt

		BeforeEach(func() {
			rec = upload("target.jpg")
		})

		It("approves a pending receipt", func() {
			resp := post("/api/receipts/" + strconv.FormatInt(rec.ID, 10) + "/approve")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			stored, err := db.GetReceipt(rec.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Status).To(Equal(StatusApproved))
		})

		It("returns 409 when deciding twice", func() {
			post("/api/receipts/" + strconv.FormatInt(rec.ID, 10) + "/approve")

			resp := post("/api/receipts/" + strconv.FormatInt(rec.ID, 10) + "/reject")
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		})

		It("rejects a pending receipt", func() {
			resp := post("/api/receipts/" + strconv.FormatInt(rec.ID, 10) + "/reject")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			stored, err := db.GetReceipt(rec.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Status).To(Equal(StatusRejected))
		})
	})

	Describe("editing a receipt", func() {
		It("applies corrections to a pending receipt", func() {
			rec := upload("target.jpg")

			body, err := json.Marshal(map[string]any{
				"receipt_date": "2024-03-16",
				"subtotal":     28.00,
				"tax_amount":   2.00,
				"total_amount": 30.00,
				"items": []map[string]any{
					{"receipt_name": "CORRECTED", "standard_name": "corrected item", "price": 30.00, "quantity": 1},
				},
			})
			Expect(err).NotTo(HaveOccurred())

			req, err := http.NewRequest(http.MethodPut,
				testServer.URL+"/api/receipts/"+strconv.FormatInt(rec.ID, 10),
				bytes.NewReader(body))
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Content-Type", "application/json")

			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var detail struct {
				Receipt
				Items []*Item `json:"items"`
			}
			Expect(json.NewDecoder(resp.Body).Decode(&detail)).To(Succeed())
			Expect(detail.TotalAmount).To(Equal(30.00))
			Expect(detail.Items).To(HaveLen(1))
			Expect(detail.Items[0].StandardName).To(Equal("Corrected Item"))
		})
	})

	Describe("reports", func() {
		BeforeEach(func() {
			rec := upload("target.jpg")
			_, err := service.Approve(context.Background(), rec.ID)
			Expect(err).NotTo(HaveOccurred())
		})

		It("serves the receipt summary", func() {
			var rows []*ReceiptSummary
			resp := get("/api/reports/receipts", &rows)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(rows).To(HaveLen(1))
			Expect(rows[0].MerchantName).To(Equal("Target"))
			Expect(rows[0].ItemCount).To(Equal(2))
		})

		It("serves spending by category", func() {
			var rows []*CategorySpend
			resp := get("/api/reports/categories", &rows)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			totals := map[string]float64{}
			for _, row := range rows {
				totals[row.CategoryName] = row.TotalSpent.Float64
			}
			Expect(totals["Personal Care"]).To(BeNumerically("~", 11.98, 0.001))
			Expect(totals["Groceries"]).To(BeNumerically("~", 11.98, 0.001))
		})

		It("serves the merchant summary", func() {
			var rows []*MerchantSummary
			resp := get("/api/reports/merchants", &rows)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(rows).To(HaveLen(1))
			Expect(rows[0].ReceiptCount).To(Equal(1))
			Expect(rows[0].TotalSpent).To(BeNumerically("~", 25.96, 0.001))
		})
	})

	Describe("receipt file download", func() {
		It("serves the stored image", func() {
			rec := upload("target.jpg")

			resp, err := http.Get(testServer.URL + "/api/receipts/" + strconv.FormatInt(rec.ID, 10) + "/file")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/jpeg"))

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(body).To(Equal([]byte("image bytes")))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "reviewer", Password: "secret"}
			setupServer()
		})

		It("rejects requests without credentials", func() {
			resp, err := http.Get(testServer.URL + "/api/receipts")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("accepts requests with valid credentials", func() {
			req, err := http.NewRequest(http.MethodGet, testServer.URL+"/api/receipts", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("reviewer:secret")))

			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})
})
