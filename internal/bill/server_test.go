package bill

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/davidgf/splitscan/internal/scanning"
)

var _ = Describe("Server", func() {
	var (
		extractor  *mockExtractor
		service    *Service
		server     *Server
		testServer *httptest.Server
	)

	BeforeEach(func() {
		extractor = &mockExtractor{
			items: []scanning.RawItem{
				{Name: "Pizza", Price: 12.0},
				{Name: "Soda", Price: 3.0},
			},
		}
		service = NewService(extractor, nil, nil)
		server = NewServerWithMux(service, BasicAuth{}, http.NewServeMux())
		testServer = httptest.NewServer(server)
	})

	AfterEach(func() {
		testServer.Close()
	})

	createSession := func() sessionResponse {
		resp, err := http.Post(testServer.URL+"/api/sessions", "application/json", nil)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))

		var session sessionResponse
		Expect(json.NewDecoder(resp.Body).Decode(&session)).To(Succeed())
		return session
	}

	uploadReceipt := func(sessionID string) *http.Response {
		var body bytes.Buffer
		writer := multipart.NewWriter(&body)
		part, err := writer.CreateFormFile("file", "receipt.jpg")
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write([]byte("fake image bytes"))
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())

		req, err := http.NewRequest("POST", testServer.URL+"/api/sessions/"+sessionID+"/receipt", &body)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", writer.FormDataContentType())

		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	doJSON := func(method, path string, payload any) *http.Response {
		var body io.Reader
		if payload != nil {
			data, err := json.Marshal(payload)
			Expect(err).NotTo(HaveOccurred())
			body = bytes.NewReader(data)
		}
		req, err := http.NewRequest(method, testServer.URL+path, body)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	Describe("POST /api/sessions", func() {
		It("creates a session with seeded participants", func() {
			session := createSession()
			Expect(session.ID).NotTo(BeEmpty())
			Expect(session.Phase).To(Equal(PhaseAwaitingReceipt))
			Expect(session.Participants).To(HaveLen(2))
			Expect(session.Items).To(BeEmpty())
		})
	})

	Describe("POST /api/sessions/{id}/receipt", func() {
		It("extracts items and returns the updated session", func() {
			session := createSession()
			resp := uploadReceipt(session.ID)
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var updated sessionResponse
			Expect(json.NewDecoder(resp.Body).Decode(&updated)).To(Succeed())
			Expect(updated.Phase).To(Equal(PhaseAssigning))
			Expect(updated.Items).To(HaveLen(2))
			Expect(updated.Totals.GrandTotal).To(Equal(15.0))
			Expect(updated.Totals.Unassigned).To(Equal(15.0))
		})

		It("reports a no-items receipt as unprocessable", func() {
			extractor.items = []scanning.RawItem{}
			session := createSession()
			resp := uploadReceipt(session.ID)
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
			var errResp errorResponse
			Expect(json.NewDecoder(resp.Body).Decode(&errResp)).To(Succeed())
			Expect(errResp.Kind).To(Equal("no_items"))
		})

		It("maps exhausted backends to service unavailable", func() {
			extractor.extractErr = &scanning.AllModelsUnavailableError{Tried: []string{"a"}}
			session := createSession()
			resp := uploadReceipt(session.ID)
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
			var errResp errorResponse
			Expect(json.NewDecoder(resp.Body).Decode(&errResp)).To(Succeed())
			Expect(errResp.Kind).To(Equal("backend_unavailable"))
		})

		It("rejects a second scan with a conflict", func() {
			session := createSession()
			uploadReceipt(session.ID).Body.Close()

			resp := uploadReceipt(session.ID)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		})

		It("rejects uploads over the size cap", func() {
			session := createSession()

			var body bytes.Buffer
			writer := multipart.NewWriter(&body)
			part, err := writer.CreateFormFile("file", "huge.jpg")
			Expect(err).NotTo(HaveOccurred())
			_, err = part.Write(bytes.Repeat([]byte("x"), int(maxUploadSize)+1))
			Expect(err).NotTo(HaveOccurred())
			Expect(writer.Close()).To(Succeed())

			req := httptest.NewRequest("POST", "/api/sessions/"+session.ID+"/receipt", &body)
			req.Header.Set("Content-Type", writer.FormDataContentType())
			rec := httptest.NewRecorder()
			server.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			var errResp errorResponse
			Expect(json.NewDecoder(rec.Body).Decode(&errResp)).To(Succeed())
			Expect(errResp.Error).To(ContainSubstring("too large"))
			Expect(extractor.calls).To(BeZero())
		})

		It("returns bad request when no file is attached", func() {
			session := createSession()
			var body bytes.Buffer
			writer := multipart.NewWriter(&body)
			Expect(writer.Close()).To(Succeed())

			req, err := http.NewRequest("POST", testServer.URL+"/api/sessions/"+session.ID+"/receipt", &body)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Content-Type", writer.FormDataContentType())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("participant endpoints", func() {
		It("adds, renames, and removes participants", func() {
			session := createSession()

			resp := doJSON("POST", "/api/sessions/"+session.ID+"/participants", map[string]string{"name": "Carla"})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var p Participant
			Expect(json.NewDecoder(resp.Body).Decode(&p)).To(Succeed())
			resp.Body.Close()
			Expect(p.ID).To(Equal(3))

			resp = doJSON("PATCH", "/api/sessions/"+session.ID+"/participants/3", map[string]string{"name": "Carlota"})
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			resp.Body.Close()

			resp = doJSON("DELETE", "/api/sessions/"+session.ID+"/participants/3", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			resp.Body.Close()
		})

		It("rejects blank renames", func() {
			session := createSession()
			resp := doJSON("PATCH", "/api/sessions/"+session.ID+"/participants/1", map[string]string{"name": "  "})
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("refuses to remove the last participant", func() {
			session := createSession()
			doJSON("DELETE", "/api/sessions/"+session.ID+"/participants/2", nil).Body.Close()

			resp := doJSON("DELETE", "/api/sessions/"+session.ID+"/participants/1", nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("PUT /api/sessions/{id}/items/{itemID}/assignment", func() {
		It("assigns items and updates totals", func() {
			session := createSession()
			uploadReceipt(session.ID).Body.Close()

			resp := doJSON("PUT", "/api/sessions/"+session.ID+"/items/0/assignment", map[string][]int{"participant_ids": {1, 2}})
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			resp.Body.Close()

			resp = doJSON("PUT", "/api/sessions/"+session.ID+"/items/1/assignment", map[string][]int{"participant_ids": {1}})
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			resp.Body.Close()

			resp = doJSON("GET", "/api/sessions/"+session.ID+"/totals", nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var totals totalsResponse
			Expect(json.NewDecoder(resp.Body).Decode(&totals)).To(Succeed())
			Expect(totals.PerPerson[strconv.Itoa(1)]).To(Equal(9.0))
			Expect(totals.PerPerson[strconv.Itoa(2)]).To(Equal(6.0))
			Expect(totals.GrandTotal).To(Equal(15.0))
			Expect(totals.Unassigned).To(BeZero())
		})

		It("returns not found for unknown items", func() {
			session := createSession()
			uploadReceipt(session.ID).Body.Close()

			resp := doJSON("PUT", "/api/sessions/"+session.ID+"/items/99/assignment", map[string][]int{"participant_ids": {1}})
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("POST /api/sessions/{id}/reset", func() {
		It("returns the session to its pre-extraction state", func() {
			session := createSession()
			uploadReceipt(session.ID).Body.Close()

			resp := doJSON("POST", "/api/sessions/"+session.ID+"/reset", nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var reset sessionResponse
			Expect(json.NewDecoder(resp.Body).Decode(&reset)).To(Succeed())
			Expect(reset.Phase).To(Equal(PhaseAwaitingReceipt))
			Expect(reset.Items).To(BeEmpty())
			Expect(reset.Participants).To(HaveLen(2))
		})
	})

	Describe("GET /api/sessions/{id}", func() {
		It("returns not found for unknown sessions", func() {
			resp, err := http.Get(testServer.URL + "/api/sessions/nope")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			server = NewServerWithMux(service, BasicAuth{Username: "user", Password: "pass"}, http.NewServeMux())
			testServer.Close()
			testServer = httptest.NewServer(server)
		})

		It("rejects requests without credentials", func() {
			resp, err := http.Post(testServer.URL+"/api/sessions", "application/json", nil)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("accepts requests with valid credentials", func() {
			req, err := http.NewRequest("POST", testServer.URL+"/api/sessions", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("user", "pass")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		})
	})
})
