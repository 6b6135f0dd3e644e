package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"secure-rag-go/internal/model"
	"secure-rag-go/internal/service"
	"secure-rag-go/pkg/errs"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRetrieval struct {
	results []model.RetrievalResult
	err     error
	topK    int
	healthy bool
}

func (f *fakeRetrieval) IngestDocument(context.Context, model.Document) ([]string, error) {
	return nil, nil
}
func (f *fakeRetrieval) Ingest(context.Context, model.Document) (*service.IngestReport, error) {
	return nil, nil
}
func (f *fakeRetrieval) Retrieve(_ context.Context, _ string, topK int) ([]model.RetrievalResult, error) {
	f.topK = topK
	return f.results, f.err
}
func (f *fakeRetrieval) AssembleContext([]model.RetrievalResult) string { return "" }
func (f *fakeRetrieval) DeleteDocument(context.Context, []string) error { return nil }
func (f *fakeRetrieval) Healthy(context.Context) bool { return f.healthy }

type fakeDocuments struct {
	created  []model.CreateDocumentRequest
	uploaded []service.UploadRequest
	body     []byte
	err      error
	status   model.IngestStatus
	deleted  int
}

func (f *fakeDocuments) Create(_ context.Context, req model.CreateDocumentRequest) error {
	f.created = append(f.created, req)
	return f.err
}
func (f *fakeDocuments) Upload(_ context.Context, req service.UploadRequest) error {
	f.body, _ = io.ReadAll(req.Body)
	f.uploaded = append(f.uploaded, req)
	return f.err
}
func (f *fakeDocuments) Index(context.Context, model.Document) error { return nil }
func (f *fakeDocuments) MarkFailed(context.Context, string)          {}
func (f *fakeDocuments) Status(context.Context, string) (model.IngestStatus, error) {
	return f.status, f.err
}
func (f *fakeDocuments) Delete(context.Context, string) (int, error) { return f.deleted, f.err }

func newRouter(docs service.DocumentService, retrieval service.RetrievalService, chat service.ChatService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	dh := NewDocumentHandler(docs)
	api := r.Group("/api/v1")
	api.POST("/documents", dh.Create)
	api.POST("/documents/upload", dh.Upload)
	api.GET("/documents/:id/status", dh.Status)
	api.DELETE("/documents/:id", dh.Delete)
	api.GET("/search", NewSearchHandler(retrieval).Search)
	r.GET("/healthz", NewHealthHandler(retrieval).Health)
	r.GET("/chat", NewChatHandler(chat).Handle)
	return r
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func do(t *testing.T, r http.Handler, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func TestCreateDocument_Accepted(t *testing.T) {
	docs := &fakeDocuments{}
	r := newRouter(docs, &fakeRetrieval{}, nil)

	body := `{"id":"doc-1","content":"Patient has fever.","metadata":{"ward":"3B"}}`
	w, env := do(t, r, httptest.NewRequest(http.MethodPost, "/api/v1/documents", strings.NewReader(body)))

	assert.Equal(t, http.StatusAccepted, w.Code)
	var data model.DocumentStatusResponse
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, model.StatusPending, data.Status)
	require.Len(t, docs.created, 1)
	assert.Equal(t, "3B", docs.created[0].Metadata["ward"])
}

func TestCreateDocument_BadRequest(t *testing.T) {
	r := newRouter(&fakeDocuments{}, &fakeRetrieval{}, nil)
	w, _ := do(t, r, httptest.NewRequest(http.MethodPost, "/api/v1/documents", strings.NewReader(`{"id":"x"}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateDocument_ErrorMapping(t *testing.T) {
	cases := map[error]int{
		errs.Validation("op", errors.New("bad")): http.StatusBadRequest,
		errs.Store("op", errors.New("down")):     http.StatusServiceUnavailable,
		errs.Provider("op", errors.New("down")):  http.StatusBadGateway,
		errors.New("boom"):                       http.StatusInternalServerError,
		service.ErrDocumentNotFound:              http.StatusNotFound,
	}
	for err, want := range cases {
		r := newRouter(&fakeDocuments{err: err}, &fakeRetrieval{}, nil)
		w, env := do(t, r, httptest.NewRequest(http.MethodPost, "/api/v1/documents", strings.NewReader(`{"id":"a","content":"b"}`)))
		assert.Equal(t, want, w.Code, err.Error())
		assert.NotContains(t, env.Message, "down", "cause must not leak")
	}
}

func TestUploadDocument(t *testing.T) {
	docs := &fakeDocuments{}
	r := newRouter(docs, &fakeRetrieval{}, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("documentId", "doc-7"))
	require.NoError(t, mw.WriteField("metadata", `{"source":"scan"}`))
	fw, err := mw.CreateFormFile("file", "report.pdf")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("%PDF-1.7"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w, _ := do(t, r, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, docs.uploaded, 1)
	assert.Equal(t, "doc-7", docs.uploaded[0].DocumentID)
	assert.Equal(t, "report.pdf", docs.uploaded[0].FileName)
	assert.Equal(t, "scan", docs.uploaded[0].Metadata["source"])
	assert.Equal(t, []byte("%PDF-1.7"), docs.body)
}

func TestUploadDocument_MissingFile(t *testing.T) {
	r := newRouter(&fakeDocuments{}, &fakeRetrieval{}, nil)
	w, _ := do(t, r, httptest.NewRequest(http.MethodPost, "/api/v1/documents/upload", strings.NewReader("")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDocumentStatusAndDelete(t *testing.T) {
	docs := &fakeDocuments{status: model.StatusIndexed, deleted: 3}
	r := newRouter(docs, &fakeRetrieval{}, nil)

	w, env := do(t, r, httptest.NewRequest(http.MethodGet, "/api/v1/documents/doc-1/status", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"indexed"`)

	w, env = do(t, r, httptest.NewRequest(http.MethodDelete, "/api/v1/documents/doc-1", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"deleted":3`)

	docs.err = service.ErrDocumentNotFound
	w, _ = do(t, r, httptest.NewRequest(http.MethodGet, "/api/v1/documents/nope/status", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSearch(t *testing.T) {
	retrieval := &fakeRetrieval{results: []model.RetrievalResult{{ID: "a", Content: "Patient has fever.", Score: 0.9}}}
	r := newRouter(&fakeDocuments{}, retrieval, nil)

	w, env := do(t, r, httptest.NewRequest(http.MethodGet, "/api/v1/search?query=fever&topK=3", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var data model.SearchResponse
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Len(t, data.Results, 1)
	assert.Equal(t, "a", data.Results[0].ID)
	assert.Equal(t, 3, retrieval.topK)

	_, _ = do(t, r, httptest.NewRequest(http.MethodGet, "/api/v1/search?query=fever", nil))
	assert.Equal(t, 0, retrieval.topK, "default defers to max_context_chunks")

	w, _ = do(t, r, httptest.NewRequest(http.MethodGet, "/api/v1/search", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = do(t, r, httptest.NewRequest(http.MethodGet, "/api/v1/search?query=x&topK=-1", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	retrieval.err = errs.Store("op", context.DeadlineExceeded)
	w, _ = do(t, r, httptest.NewRequest(http.MethodGet, "/api/v1/search?query=fever", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealth(t *testing.T) {
	retrieval := &fakeRetrieval{healthy: true}
	r := newRouter(&fakeDocuments{}, retrieval, nil)
	w, _ := do(t, r, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	retrieval.healthy = false
	w, _ = do(t, r, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// fakeChat streams fragments until ctx is cancelled.
type fakeChat struct {
	fragments []string
	block     bool
	err       error
}

func (f *fakeChat) StreamResponse(ctx context.Context, query string, w service.FrameWriter) error {
	if f.err != nil {
		return f.err
	}
	for _, s := range f.fragments {
		if err := w.WriteJSON(map[string]string{"chunk": s}); err != nil {
			return err
		}
	}
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return w.WriteJSON(service.CompletionFrame())
}

func dialChat(t *testing.T, chat service.ChatService) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(newRouter(&fakeDocuments{}, &fakeRetrieval{}, chat))
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/chat", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var m map[string]interface{}
	require.NoError(t, conn.ReadJSON(&m))
	return m
}

func TestChat_StreamsChunksThenCompletion(t *testing.T) {
	conn := dialChat(t, &fakeChat{fragments: []string{"The patient ", "has fever."}})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("does the patient have fever?")))

	assert.Equal(t, "The patient ", readFrame(t, conn)["chunk"])
	assert.Equal(t, "has fever.", readFrame(t, conn)["chunk"])
	assert.Equal(t, "completion", readFrame(t, conn)["type"])
}

func TestChat_StopCancelsStream(t *testing.T) {
	conn := dialChat(t, &fakeChat{fragments: []string{"partial"}, block: true})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("q")))
	assert.Equal(t, "partial", readFrame(t, conn)["chunk"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"stop"}`)))
	assert.Equal(t, "stop", readFrame(t, conn)["type"])
}

func TestChat_RetrievalErrorFrame(t *testing.T) {
	conn := dialChat(t, &fakeChat{err: errs.Store("op", errors.New("vector store timeout"))})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("q")))

	frame := readFrame(t, conn)
	require.Contains(t, frame, "error")
	assert.NotContains(t, frame["error"], "timeout")
	assert.Equal(t, "completion", readFrame(t, conn)["type"])
}

func TestChat_AcceptsNextQueryAfterCompletion(t *testing.T) {
	conn := dialChat(t, &fakeChat{fragments: []string{"ok"}})

	for i := 0; i < 2; i++ {
		// 上一条回答的收尾与新查询可能交错，收到 busy 时稍后重发
		var frame map[string]interface{}
		for attempt := 0; attempt < 50; attempt++ {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("q")))
			if frame = readFrame(t, conn); frame["error"] == nil {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		assert.Equal(t, "ok", frame["chunk"], "query %d", i)
		assert.Equal(t, "completion", readFrame(t, conn)["type"], "query %d", i)
	}
}
