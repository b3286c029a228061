package permitflowsdk

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCreatePermitSendsAuthAndDecodes(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"id":"p-1","customerId":"c-1","projectName":"Garage","status":"New","internalStage":"Intake","billingStatus":"NotSent"}`)
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	c.BearerToken = "tok"
	p, err := c.CreatePermit(context.Background(), CreatePermitInput{CustomerID: "c-1", ProjectName: "Garage"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if gotAuth != "Bearer tok" || gotPath != "/v1/permits" {
		t.Fatalf("unexpected request: auth=%q path=%q", gotAuth, gotPath)
	}
	if gotBody["customerId"] != "c-1" || gotBody["projectName"] != "Garage" {
		t.Fatalf("unexpected body: %v", gotBody)
	}
	if p.ID != "p-1" || p.Status != "New" || p.InternalStage != "Intake" {
		t.Fatalf("unexpected permit: %+v", p)
	}
}

func TestAPIErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":{"code":"not_found","message":"permit p-9 not found"}}`)
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.ActorID = "alice"
	_, err := c.GetPermit(context.Background(), "p-9")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "not_found" || !strings.Contains(apiErr.Message, "p-9") {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestUploadDocumentMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Actor-Id") != "alice" {
			t.Errorf("missing actor header")
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f, fh, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		if fh.Filename != "plan.pdf" || string(data) != "pdf-bytes" {
			t.Errorf("unexpected file %q %q", fh.Filename, data)
		}
		if r.FormValue("category") != "Plans" || r.FormValue("isNewVersion") != "true" || r.FormValue("parentDocumentId") != "d-1" {
			t.Errorf("unexpected fields: %v", r.MultipartForm.Value)
		}
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"id":"d-2","fileName":"plan.pdf","category":"Plans","versionTag":"v2","parentDocumentId":"d-1"}`)
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.ActorID = "alice"
	doc, err := c.UploadDocument(context.Background(), "p-1", UploadInput{
		FileName:         "plan.pdf",
		Category:         "Plans",
		Content:          []byte("pdf-bytes"),
		IsNewVersion:     true,
		ParentDocumentID: "d-1",
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if doc.VersionTag != "v2" || doc.ParentDocumentID == nil || *doc.ParentDocumentID != "d-1" {
		t.Fatalf("unexpected document: %+v", doc)
	}
}

func TestDownloadReturnsRawBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/documents/d-1/content" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte{0x00, 0x01, 0xff})
	}))
	defer srv.Close()

	data, err := New(srv.URL).DownloadDocument(context.Background(), "d-1")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if len(data) != 3 || data[2] != 0xff {
		t.Fatalf("unexpected bytes: %v", data)
	}
}

func TestActivityFeedQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("after") != "7" || r.URL.Query().Get("limit") != "2" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		io.WriteString(w, `{"items":[{"id":8,"activityType":"StatusChange"}],"nextCursor":8}`)
	}))
	defer srv.Close()

	page, err := New(srv.URL).ActivityFeed(context.Background(), 7, 2)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if page.NextCursor != 8 || len(page.Items) != 1 || page.Items[0].ActivityType != "StatusChange" {
		t.Fatalf("unexpected page: %+v", page)
	}
}
