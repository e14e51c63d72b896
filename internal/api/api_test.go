package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/opsdesk/internal/blob"
	"github.com/joescharf/opsdesk/internal/delay"
	"github.com/joescharf/opsdesk/internal/distribute"
	"github.com/joescharf/opsdesk/internal/metrics"
	"github.com/joescharf/opsdesk/internal/models"
	"github.com/joescharf/opsdesk/internal/sheet"
	"github.com/joescharf/opsdesk/internal/store"
)

const trackingCSV = "Task,Real Delay (hours),Housemaid Nationality\n" +
	"Repeat Medical,100,Filipina\n" +
	",200,Ethiopian\n" +
	"Apply for entry Visa,10,Kenyan\n"

func setupTestServer(t *testing.T) (*Server, *store.MemoryStore) {
	t.Helper()

	dir := t.TempDir()
	for _, f := range []string{"batch/f1/a.jpg", "batch/f2/b.jpg", "batch/f3/c.jpg"} {
		p := filepath.Join(dir, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte("image "+f), 0644))
	}

	mem := store.NewMemoryStore()
	srv := NewServer(delay.NewSessions(nil), distribute.New(mem), blob.NewFSStore(dir), metrics.New())
	return srv, mem
}

func uploadRequest(t *testing.T, filename, content string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/api/v1/delays/upload", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestUploadAndListDelays(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	w := serve(router, uploadRequest(t, "tracking.csv", trackingCSV))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var up uploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &up))
	assert.Equal(t, 3, up.Rows)
	assert.Equal(t, 2, up.Summary.Total)
	assert.Equal(t, 1, up.Summary.Critical)
	assert.Contains(t, up.Columns, "Assignee")

	w = serve(router, httptest.NewRequest("GET", "/api/v1/delays", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var view viewOut
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	require.Len(t, view.Rows, 2)
	assert.Equal(t, "Repeat Medical", view.Rows[1].Task)
	assert.Equal(t, models.PriorityHigh, view.Rows[1].Priority)
	assert.Equal(t, 2, view.Summary.Unassigned)

	var raw struct {
		Rows []map[string]any `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	require.Len(t, raw.Rows, 2)
	assert.Contains(t, raw.Rows[1], "delay_hours")
	assert.Contains(t, raw.Rows[1], "is_delayed")
	assert.NotContains(t, raw.Rows[1], "DelayHours")

	w = serve(router, httptest.NewRequest("GET", "/api/v1/delays?nationality=Ethiopian&nationality=Kenyan", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	require.Len(t, view.Rows, 1)
	assert.Equal(t, "Ethiopian", view.Rows[0].Nationality)
}

func TestUpload_Malformed(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	w := serve(router, uploadRequest(t, "tracking.csv", "Name,Hours\nAna,3\n"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Task")

	w = serve(router, uploadRequest(t, "tracking.pdf", trackingCSV))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest("POST", "/api/v1/delays/upload", strings.NewReader("not multipart"))
	w = serve(router, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEditRow_API(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()
	require.Equal(t, http.StatusOK, serve(router, uploadRequest(t, "t.csv", trackingCSV)).Code)

	body := `{"assignee":"Omar","delay_hours":"50"}`
	w := serve(router, httptest.NewRequest("PATCH", "/api/v1/delays/rows/2", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var row rowOut
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &row))
	assert.Equal(t, "Omar", row.Assignee)
	assert.True(t, row.IsDelayed)
	assert.Equal(t, models.PriorityHigh, row.Priority)

	w = serve(router, httptest.NewRequest("GET", "/api/v1/delays/rows/2", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &row))
	assert.Equal(t, "Omar", row.Assignee)

	w = serve(router, httptest.NewRequest("PATCH", "/api/v1/delays/rows/9", strings.NewReader(body)))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(router, httptest.NewRequest("GET", "/api/v1/delays/rows/abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestThresholds_API(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()
	require.Equal(t, http.StatusOK, serve(router, uploadRequest(t, "t.csv", trackingCSV)).Code)

	body := `{"Repeat Medical": 500, "Apply for entry Visa": -1}`
	w := serve(router, httptest.NewRequest("PUT", "/api/v1/delays/thresholds", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code)

	var resp thresholdsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"Repeat Medical"}, resp.Applied)

	w = serve(router, httptest.NewRequest("GET", "/api/v1/delays", nil))
	var view viewOut
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Empty(t, view.Rows)

	w = serve(router, httptest.NewRequest("GET", "/api/v1/delays/thresholds", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list []delay.TaskThreshold
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Contains(t, list, delay.TaskThreshold{Task: "Repeat Medical", Hours: 500})
}

func TestExport_API(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	w := serve(router, httptest.NewRequest("GET", "/api/v1/delays/export", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.Equal(t, http.StatusOK, serve(router, uploadRequest(t, "t.csv", trackingCSV)).Code)

	w = serve(router, httptest.NewRequest("GET", "/api/v1/delays/export?view=filtered", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxMIME, w.Header().Get("Content-Type"))
	assert.Regexp(t, `filename="delayed_cases_\d{8}_\d{6}\.xlsx"`, w.Header().Get("Content-Disposition"))

	tbl, err := sheet.ReadXLSX(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Len(t, tbl.Rows, 2)
	assert.Less(t, tbl.Column("Priority"), 0)

	w = serve(router, httptest.NewRequest("GET", "/api/v1/delays/export?view=all", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Regexp(t, `filename="delay_export_\d{8}_\d{6}\.xlsx"`, w.Header().Get("Content-Disposition"))
	tbl, err = sheet.ReadXLSX(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Len(t, tbl.Rows, 3)
	assert.GreaterOrEqual(t, tbl.Column("Priority"), 0)

	w = serve(router, httptest.NewRequest("GET", "/api/v1/delays/export?view=bogus", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionsAreIsolated(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	req := uploadRequest(t, "t.csv", trackingCSV)
	req.Header.Set(SessionHeader, "alpha")
	require.Equal(t, http.StatusOK, serve(router, req).Code)

	req = httptest.NewRequest("GET", "/api/v1/delays", nil)
	req.Header.Set(SessionHeader, "beta")
	var view viewOut
	require.NoError(t, json.Unmarshal(serve(router, req).Body.Bytes(), &view))
	assert.Empty(t, view.Rows)

	req = httptest.NewRequest("GET", "/api/v1/delays", nil)
	req.Header.Set(SessionHeader, "alpha")
	require.NoError(t, json.Unmarshal(serve(router, req).Body.Bytes(), &view))
	assert.Len(t, view.Rows, 2)

	req = httptest.NewRequest("DELETE", "/api/v1/delays/session", nil)
	req.Header.Set(SessionHeader, "alpha")
	assert.Equal(t, http.StatusNoContent, serve(router, req).Code)

	req = httptest.NewRequest("GET", "/api/v1/delays", nil)
	req.Header.Set(SessionHeader, "alpha")
	require.NoError(t, json.Unmarshal(serve(router, req).Body.Bytes(), &view))
	assert.Empty(t, view.Rows)
}

func createReviewer(t *testing.T, router http.Handler, name string) reviewerOut {
	t.Helper()
	body := `{"name":"` + name + `","email":"` + strings.ToLower(name) + `@example.com"}`
	w := serve(router, httptest.NewRequest("POST", "/api/v1/reviewers", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var r reviewerOut
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &r))
	require.NotEmpty(t, r.Token)
	return r
}

func TestReviewers_API(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	w := serve(router, httptest.NewRequest("GET", "/api/v1/reviewers", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	alice := createReviewer(t, router, "Alice")

	w = serve(router, httptest.NewRequest("POST", "/api/v1/reviewers", strings.NewReader(`{"name":"Alice"}`)))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = serve(router, httptest.NewRequest("POST", "/api/v1/reviewers", strings.NewReader(`{"name":"  "}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(router, httptest.NewRequest("GET", "/api/v1/reviewers", nil))
	var list []reviewerOut
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, alice.Token, list[0].Token)
}

func TestDistributeAndReview_API(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	alice := createReviewer(t, router, "Alice")
	bob := createReviewer(t, router, "Bob")

	body := `{"folder":"batch","tokens":["` + alice.Token + `","` + bob.Token + `"]}`
	w := serve(router, httptest.NewRequest("POST", "/api/v1/distributions", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var run runOut
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	require.Len(t, run.Counts, 2)
	require.Len(t, run.Assignments, 3)
	assert.Equal(t, alice.Token, run.Assignments[0].Token)
	assert.Equal(t, 2, run.Counts[0].Count)
	assert.Equal(t, 1, run.Counts[1].Count)

	w = serve(router, httptest.NewRequest("GET", "/api/v1/review/"+alice.Token, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var q reviewResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &q))
	assert.Equal(t, "batch/f1", q.Current)
	assert.Equal(t, "Alice", q.Reviewer.Name)
	assert.Contains(t, w.Body.String(), `"reviewer":{"token":`)
	assert.Equal(t, "Reviewing batch/f1 (0 of 2 done)", q.Status)
	assert.False(t, q.Done)

	w = serve(router, httptest.NewRequest("GET", "/api/v1/review/"+alice.Token+"/preview", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image batch/f1/a.jpg", w.Body.String())

	w = serve(router, httptest.NewRequest("POST", "/api/v1/review/"+alice.Token+"/decision", strings.NewReader(`{"decision":"Accept"}`)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &q))
	require.NotNil(t, q.Recorded)
	assert.True(t, *q.Recorded)
	assert.Equal(t, "batch/f2", q.Current)
	assert.Equal(t, 50.0, q.Progress)

	w = serve(router, httptest.NewRequest("POST", "/api/v1/review/"+alice.Token+"/decision", strings.NewReader(`{"decision":"maybe"}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(router, httptest.NewRequest("POST", "/api/v1/review/"+alice.Token+"/decision", strings.NewReader(`{"decision":"reject"}`)))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &q))
	assert.True(t, q.Done)
	assert.Equal(t, "All 2 folders reviewed", q.Status)

	// a finished queue ignores further decisions
	w = serve(router, httptest.NewRequest("POST", "/api/v1/review/"+alice.Token+"/decision", strings.NewReader(`{"decision":"accept"}`)))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &q))
	assert.False(t, *q.Recorded)

	w = serve(router, httptest.NewRequest("GET", "/api/v1/review/"+alice.Token+"/preview", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(router, httptest.NewRequest("GET", "/api/v1/review/not-a-token", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDistribute_Errors(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()
	alice := createReviewer(t, router, "Alice")

	w := serve(router, httptest.NewRequest("POST", "/api/v1/distributions", strings.NewReader(`{"items":[],"tokens":["`+alice.Token+`"]}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(router, httptest.NewRequest("POST", "/api/v1/distributions", strings.NewReader(`{"items":["x"],"tokens":["ghost"]}`)))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(router, httptest.NewRequest("POST", "/api/v1/distributions", strings.NewReader(`{"folder":"../etc","tokens":["`+alice.Token+`"]}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(router, httptest.NewRequest("POST", "/api/v1/distributions", strings.NewReader(`{"folder":"nope","tokens":["`+alice.Token+`"]}`)))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDistribute_SkipAssignedDefault(t *testing.T) {
	srv, _ := setupTestServer(t)
	srv.SkipAssigned = true
	router := srv.Router()
	alice := createReviewer(t, router, "Alice")

	body := `{"items":["a","b"],"tokens":["` + alice.Token + `"]}`
	require.Equal(t, http.StatusCreated, serve(router, httptest.NewRequest("POST", "/api/v1/distributions", strings.NewReader(body))).Code)

	w := serve(router, httptest.NewRequest("POST", "/api/v1/distributions", strings.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	override := `{"items":["a","b"],"tokens":["` + alice.Token + `"],"skip_assigned":false}`
	w = serve(router, httptest.NewRequest("POST", "/api/v1/distributions", strings.NewReader(override)))
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestListFolders_API(t *testing.T) {
	srv, _ := setupTestServer(t)
	w := serve(srv.Router(), httptest.NewRequest("GET", "/api/v1/folders?prefix=batch", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var ids []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ids))
	assert.Equal(t, []string{"batch/f1", "batch/f2", "batch/f3"}, ids)
}

func TestStoreUnavailable(t *testing.T) {
	srv, mem := setupTestServer(t)
	mem.FailNext(1, store.ErrUnavailable)

	w := serve(srv.Router(), httptest.NewRequest("GET", "/api/v1/reviewers", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "error")
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()
	require.Equal(t, http.StatusOK, serve(router, uploadRequest(t, "t.csv", trackingCSV)).Code)

	w := serve(router, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `opsdesk_delay_uploads_total{result="ok"} 1`)
	assert.Contains(t, w.Body.String(), `opsdesk_delay_rows_loaded 3`)
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := setupTestServer(t)
	w := serve(srv.Router(), httptest.NewRequest("OPTIONS", "/api/v1/delays", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), SessionHeader)
}
