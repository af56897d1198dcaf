package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"bioinsight-be/internal/dto"
	"bioinsight-be/internal/pkg/logger"
	"bioinsight-be/internal/pkg/serverutils"
	"bioinsight-be/internal/service"
	"bioinsight-be/pkg/hitl"
	"bioinsight-be/pkg/storage"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTurnService struct {
	lastQuery   string
	lastRespond *dto.InteractionRequest
	uploaded    []byte
	respondErr  error
}

func (s *stubTurnService) CreateSession(context.Context) (*dto.CreateSessionResponse, error) {
	return &dto.CreateSessionResponse{Id: "s1"}, nil
}

func (s *stubTurnService) RunTurn(_ context.Context, id string, req *dto.SendTurnRequest) (*dto.TurnResponse, error) {
	if id != "s1" {
		return nil, service.ErrSessionNotFound
	}
	s.lastQuery = req.Query
	return &dto.TurnResponse{Response: "answer"}, nil
}

func (s *stubTurnService) Respond(_ context.Context, _, _ string, req *dto.InteractionRequest) error {
	s.lastRespond = req
	return s.respondErr
}

func (s *stubTurnService) Upload(_ context.Context, _, name, mime string, data []byte) (*dto.UploadResponse, error) {
	s.uploaded = data
	return &dto.UploadResponse{FileRef: hitl.FileRef{Name: name, Path: "uploads/s1/x_" + name, Mime: mime}}, nil
}

func (s *stubTurnService) EndSession(context.Context, string, bool) error { return nil }

func (s *stubTurnService) Transcript(context.Context, string) ([]*dto.TranscriptTurnResponse, error) {
	return nil, service.ErrTranscriptDisabled
}

func newApp(svc service.ITurnService) *fiber.App {
	app := fiber.New()
	app.Use(serverutils.ErrorHandlerMiddleware())
	api := app.Group("/api")
	NewSessionController(svc, service.NewTelemetryService(nil, logger.NewNopLogger())).
		RegisterRoutes(api, func(c *fiber.Ctx) error { return c.Next() })
	return app
}

func do(t *testing.T, app *fiber.App, req *http.Request) (int, serverutils.Response) {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	var out serverutils.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestSessionController_Turns(t *testing.T) {
	svc := &stubTurnService{}
	app := newApp(svc)

	code, body := do(t, app, jsonRequest("POST", "/api/sessions", ""))
	assert.Equal(t, fiber.StatusCreated, code)
	assert.True(t, body.Success)

	code, _ = do(t, app, jsonRequest("POST", "/api/sessions/s1/turns", `{"query":"PDC studies on breast cancer"}`))
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, "PDC studies on breast cancer", svc.lastQuery)

	code, body = do(t, app, jsonRequest("POST", "/api/sessions/s1/turns", `{"query":""}`))
	assert.Equal(t, fiber.StatusBadRequest, code)
	assert.Equal(t, map[string]interface{}{"query": "is required"}, body.Data)

	code, _ = do(t, app, jsonRequest("POST", "/api/sessions/missing/turns", `{"query":"x"}`))
	assert.Equal(t, fiber.StatusNotFound, code)

	code, _ = do(t, app, jsonRequest("GET", "/api/sessions/s1/turns", ""))
	assert.Equal(t, fiber.StatusNotImplemented, code)
}

func TestSessionController_Interactions(t *testing.T) {
	svc := &stubTurnService{}
	app := newApp(svc)

	code, _ := do(t, app, jsonRequest("POST", "/api/sessions/s1/interactions/r1", `{"output":"yes"}`))
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, "yes", svc.lastRespond.Output)

	code, _ = do(t, app, jsonRequest("POST", "/api/sessions/s1/interactions/r1", `{}`))
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, _ = do(t, app, jsonRequest("POST", "/api/sessions/s1/interactions/r1", `{"file_ref":{"name":"a.csv","path":"uploads/s1/a.csv"}}`))
	assert.Equal(t, fiber.StatusOK, code)
	require.NotNil(t, svc.lastRespond.FileRef)

	svc.respondErr = hitl.ErrUnknownRequest
	code, _ = do(t, app, jsonRequest("POST", "/api/sessions/s1/interactions/zz", `{"output":"yes"}`))
	assert.Equal(t, fiber.StatusNotFound, code)
}

func TestSessionController_Upload(t *testing.T) {
	svc := &stubTurnService{}
	app := newApp(svc)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "samples.tsv")
	require.NoError(t, err)
	_, _ = part.Write([]byte("a\tb\n1\t2\n"))
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", "/api/sessions/s1/uploads", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	code, _ := do(t, app, req)
	assert.Equal(t, fiber.StatusCreated, code)
	assert.Equal(t, "a\tb\n1\t2\n", string(svc.uploaded))
}

type mapReader map[string][]byte

func (m mapReader) Get(_ context.Context, key string) ([]byte, error) {
	if b, ok := m[key]; ok {
		return b, nil
	}
	return nil, storage.ErrNotFound
}

func TestBlobController_Get(t *testing.T) {
	app := fiber.New()
	app.Use(serverutils.ErrorHandlerMiddleware())
	NewBlobController(mapReader{"udi/spec.json": []byte(`{"a":1}`)}).RegisterRoutes(app.Group("/api"))

	resp, err := app.Test(httptest.NewRequest("GET", "/api/blobs/udi/spec.json", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")

	resp, err = app.Test(httptest.NewRequest("GET", "/api/blobs/nope.csv", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}
