package remote_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"docflow/internal/remote"
	"docflow/internal/services"
	"docflow/internal/stage"
	"docflow/internal/testsupport"
)

func newClient(t *testing.T, baseURL, token string) *remote.Client {
	t.Helper()
	client, err := remote.New(remote.Config{BaseURL: baseURL, Token: token})
	if err != nil {
		t.Fatalf("remote.New: %v", err)
	}
	return client
}

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := remote.New(remote.Config{}); err == nil {
		t.Fatal("expected error for empty base url")
	}
}

func TestSubmitAsyncAndPoll(t *testing.T) {
	worker := testsupport.NewFakeWorker(t, "secret")
	client := newClient(t, worker.URL(), "secret")
	ctx := context.Background()

	resp, err := client.Submit(ctx, remote.SubmitRequest{
		Stage:      stage.Chunker,
		DocumentID: "doc-1",
		InputRefs:  []remote.InputRef{{Name: "optimizer-output.txt", Path: "/tmp/x"}},
		WebhookURL: "http://orchestrator/webhooks/stage",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if resp.Synchronous() || resp.TaskID == "" {
		t.Fatalf("expected async task, got %+v", resp)
	}

	subs := worker.Submissions()
	if len(subs) != 1 || subs[0].Stage != stage.Chunker {
		t.Fatalf("unexpected submissions %+v", subs)
	}
	if subs[0].Request.WebhookURL != "http://orchestrator/webhooks/stage" || len(subs[0].Request.InputRefs) != 1 {
		t.Fatalf("request not forwarded: %+v", subs[0].Request)
	}

	worker.Progress(resp.TaskID, 40, "splitting")
	task, err := client.Status(ctx, resp.TaskID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if task.Status != remote.StatusInProgress || task.Progress != 40 || task.CurrentStep != "splitting" {
		t.Fatalf("unexpected task %+v", task)
	}

	worker.Complete(resp.TaskID, nil)
	task, err = client.Status(ctx, resp.TaskID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if task.Status != remote.StatusCompleted || task.Result == nil || len(task.Result.OutputFiles) != 1 {
		t.Fatalf("unexpected completed task %+v", task)
	}

	files, err := client.Files(ctx, resp.TaskID)
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(files) != 1 || files[0].Filename != testsupport.DefaultOutput(stage.Chunker) {
		t.Fatalf("unexpected files %+v", files)
	}

	body, err := client.Download(ctx, resp.TaskID, files[0].Filename)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	data, _ := io.ReadAll(body)
	body.Close()
	if string(data) != "Chunker output for doc-1" {
		t.Fatalf("unexpected content %q", data)
	}

	cleanup, err := client.Cleanup(ctx, resp.TaskID)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if cleanup.FilesDeleted != 1 || cleanup.BytesFreed != int64(len(data)) {
		t.Fatalf("unexpected cleanup %+v", cleanup)
	}
}

func TestSubmitSynchronous(t *testing.T) {
	worker := testsupport.NewFakeWorker(t, "")
	worker.SetSynchronous(true)
	client := newClient(t, worker.URL(), "")

	resp, err := client.Submit(context.Background(), remote.SubmitRequest{Stage: stage.Conversion, DocumentID: "doc-1"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !resp.Synchronous() {
		t.Fatalf("expected inline result, got %+v", resp)
	}
	if resp.Result.OutputFiles[0] != testsupport.DefaultOutput(stage.Conversion) {
		t.Fatalf("unexpected outputs %v", resp.Result.OutputFiles)
	}
}

func TestSubmitRejectsInvalidStage(t *testing.T) {
	client := newClient(t, "http://127.0.0.1:1", "")
	_, err := client.Submit(context.Background(), remote.SubmitRequest{Stage: "BOGUS"})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStatusCodesMapToMarkers(t *testing.T) {
	tests := []struct {
		code   int
		marker error
	}{
		{http.StatusBadRequest, services.ErrValidation},
		{http.StatusUnauthorized, services.ErrPermission},
		{http.StatusForbidden, services.ErrPermission},
		{http.StatusNotFound, services.ErrNotFound},
		{http.StatusTooManyRequests, services.ErrRateLimited},
		{http.StatusBadGateway, services.ErrUnavailable},
		{http.StatusTeapot, services.ErrExternal},
	}
	for _, tc := range tests {
		t.Run(http.StatusText(tc.code), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tc.code)
			}))
			defer srv.Close()

			client := newClient(t, srv.URL, "")
			_, err := client.Status(context.Background(), "task-1")
			if !errors.Is(err, tc.marker) {
				t.Fatalf("status %d: expected %v, got %v", tc.code, tc.marker, err)
			}
			if remote.IsTransport(err) {
				t.Fatalf("status %d should not be a transport error", tc.code)
			}
		})
	}
}

func TestTransportErrorsAreTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := newClient(t, url, "")
	_, err := client.Status(context.Background(), "task-1")
	if err == nil || !remote.IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestBearerTokenRequired(t *testing.T) {
	worker := testsupport.NewFakeWorker(t, "secret")
	client := newClient(t, worker.URL(), "wrong")
	_, err := client.Submit(context.Background(), remote.SubmitRequest{Stage: stage.Conversion, DocumentID: "doc-1"})
	if !errors.Is(err, services.ErrPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if err := newClient(t, worker.URL(), "secret").Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
