package testsupport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"docflow/internal/remote"
	"docflow/internal/stage"
)

// Submission is one stage request received by a FakeWorker.
type Submission struct {
	Stage   stage.Stage
	TaskID  string
	Request remote.SubmitRequest
}

type fakeTask struct {
	id       string
	stage    stage.Stage
	status   remote.TaskStatus
	progress float64
	step     string
	errorMsg string
	files    map[string]string
	order    []string
}

// FakeWorker is an in-process remote stage worker backed by httptest.
// Tasks stay in_progress until Complete or Fail is called, unless the worker
// is synchronous.
type FakeWorker struct {
	Server *httptest.Server

	token string

	mu           sync.Mutex
	synchronous  bool
	statusCode   int
	submitCode   int
	nextID       int
	tasks        map[string]*fakeTask
	submissions  []Submission
	cleaned      []string
	statusChecks int
}

// NewFakeWorker starts a fake worker that requires the given bearer token.
func NewFakeWorker(t testing.TB, token string) *FakeWorker {
	t.Helper()

	w := &FakeWorker{token: token, tasks: make(map[string]*fakeTask)}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(rw http.ResponseWriter, _ *http.Request) {
		writeJSON(rw, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST /api/v1/stages/{slug}", w.handleSubmit)
	mux.HandleFunc("GET /api/v1/tasks/{id}", w.handleStatus)
	mux.HandleFunc("GET /api/v1/tasks/{id}/files", w.handleFiles)
	mux.HandleFunc("GET /api/v1/tasks/{id}/files/{name}", w.handleDownload)
	mux.HandleFunc("DELETE /api/v1/tasks/{id}", w.handleCleanup)
	w.Server = httptest.NewServer(w.authorize(mux))
	t.Cleanup(w.Server.Close)
	return w
}

// URL returns the worker base URL.
func (w *FakeWorker) URL() string {
	return w.Server.URL
}

// SetSynchronous makes submissions complete inline with default outputs.
func (w *FakeWorker) SetSynchronous(sync bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.synchronous = sync
}

// FailStatus makes status requests answer with code. Zero restores normal replies.
func (w *FakeWorker) FailStatus(code int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.statusCode = code
}

// FailSubmit makes submissions answer with code. Zero restores normal replies.
func (w *FakeWorker) FailSubmit(code int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.submitCode = code
}

// Progress updates the reported progress of a running task.
func (w *FakeWorker) Progress(taskID string, percent float64, step string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if task, ok := w.tasks[taskID]; ok {
		task.progress = percent
		task.step = step
	}
}

// Complete finishes a task. With no files the stage's default output is used.
func (w *FakeWorker) Complete(taskID string, files map[string]string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	task, ok := w.tasks[taskID]
	if !ok {
		return
	}
	if len(files) > 0 {
		task.files = map[string]string{}
		task.order = nil
		for name, content := range files {
			task.files[name] = content
			task.order = append(task.order, name)
		}
	}
	task.status = remote.StatusCompleted
	task.progress = 100
}

// Fail marks a task failed with msg.
func (w *FakeWorker) Fail(taskID, msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if task, ok := w.tasks[taskID]; ok {
		task.status = remote.StatusFailed
		task.errorMsg = msg
	}
}

// Submissions returns a copy of the received submissions.
func (w *FakeWorker) Submissions() []Submission {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Submission(nil), w.submissions...)
}

// LastTaskID returns the most recent task id, or "".
func (w *FakeWorker) LastTaskID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.submissions) == 0 {
		return ""
	}
	return w.submissions[len(w.submissions)-1].TaskID
}

// Cleaned returns the task ids released through DELETE.
func (w *FakeWorker) Cleaned() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.cleaned...)
}

// StatusChecks returns how many status requests were served.
func (w *FakeWorker) StatusChecks() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.statusChecks
}

// DefaultOutput is the file name a fake task produces for st.
func DefaultOutput(st stage.Stage) string {
	return st.Slug() + "-output.txt"
}

func (w *FakeWorker) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if w.token != "" && r.Header.Get("Authorization") != "Bearer "+w.token {
			writeJSON(rw, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
			return
		}
		next.ServeHTTP(rw, r)
	})
}

func (w *FakeWorker) handleSubmit(rw http.ResponseWriter, r *http.Request) {
	st, ok := stageFromSlug(r.PathValue("slug"))
	if !ok {
		writeJSON(rw, http.StatusNotFound, map[string]string{"error": "unknown stage"})
		return
	}
	var req remote.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	req.Stage = st

	w.mu.Lock()
	if w.submitCode != 0 {
		code := w.submitCode
		w.mu.Unlock()
		writeJSON(rw, code, map[string]string{"error": "submit rejected"})
		return
	}
	w.nextID++
	task := &fakeTask{
		id:     fmt.Sprintf("task-%d", w.nextID),
		stage:  st,
		status: remote.StatusInProgress,
		files:  map[string]string{DefaultOutput(st): fmt.Sprintf("%s output for %s", st.Label(), req.DocumentID)},
		order:  []string{DefaultOutput(st)},
	}
	w.tasks[task.id] = task
	w.submissions = append(w.submissions, Submission{Stage: st, TaskID: task.id, Request: req})
	sync := w.synchronous
	if sync {
		task.status = remote.StatusCompleted
		task.progress = 100
	}
	resp := remote.SubmitResponse{TaskID: task.id, Status: task.status}
	if sync {
		resp.Result = task.result()
	}
	w.mu.Unlock()

	code := http.StatusAccepted
	if sync {
		code = http.StatusOK
	}
	writeJSON(rw, code, resp)
}

func (w *FakeWorker) handleStatus(rw http.ResponseWriter, r *http.Request) {
	w.mu.Lock()
	w.statusChecks++
	if w.statusCode != 0 {
		code := w.statusCode
		w.mu.Unlock()
		writeJSON(rw, code, map[string]string{"error": "status unavailable"})
		return
	}
	task, ok := w.tasks[r.PathValue("id")]
	if !ok {
		w.mu.Unlock()
		writeJSON(rw, http.StatusNotFound, map[string]string{"error": "unknown task"})
		return
	}
	resp := remote.Task{
		ID:          task.id,
		Status:      task.status,
		Progress:    task.progress,
		CurrentStep: task.step,
		Error:       task.errorMsg,
	}
	if task.status == remote.StatusCompleted {
		resp.Result = task.result()
	}
	w.mu.Unlock()
	writeJSON(rw, http.StatusOK, resp)
}

func (w *FakeWorker) handleFiles(rw http.ResponseWriter, r *http.Request) {
	w.mu.Lock()
	task, ok := w.tasks[r.PathValue("id")]
	if !ok {
		w.mu.Unlock()
		writeJSON(rw, http.StatusNotFound, map[string]string{"error": "unknown task"})
		return
	}
	files := make([]remote.FileInfo, 0, len(task.order))
	for _, name := range task.order {
		files = append(files, remote.FileInfo{Filename: name, Size: int64(len(task.files[name])), ContentType: "text/plain"})
	}
	w.mu.Unlock()
	writeJSON(rw, http.StatusOK, files)
}

func (w *FakeWorker) handleDownload(rw http.ResponseWriter, r *http.Request) {
	w.mu.Lock()
	task, ok := w.tasks[r.PathValue("id")]
	var content string
	var found bool
	if ok {
		content, found = task.files[r.PathValue("name")]
	}
	w.mu.Unlock()
	if !found {
		writeJSON(rw, http.StatusNotFound, map[string]string{"error": "unknown file"})
		return
	}
	rw.Header().Set("Content-Type", "text/plain")
	_, _ = rw.Write([]byte(content))
}

func (w *FakeWorker) handleCleanup(rw http.ResponseWriter, r *http.Request) {
	w.mu.Lock()
	task, ok := w.tasks[r.PathValue("id")]
	if !ok {
		w.mu.Unlock()
		writeJSON(rw, http.StatusNotFound, map[string]string{"error": "unknown task"})
		return
	}
	var result remote.CleanupResult
	for _, content := range task.files {
		result.FilesDeleted++
		result.BytesFreed += int64(len(content))
	}
	task.files = map[string]string{}
	task.order = nil
	w.cleaned = append(w.cleaned, task.id)
	w.mu.Unlock()
	writeJSON(rw, http.StatusOK, result)
}

func (t *fakeTask) result() *remote.Result {
	return &remote.Result{
		OutputFiles:   append([]string(nil), t.order...),
		ExecutionTime: 1.5,
		Metrics:       map[string]any{"files": len(t.order)},
	}
}

func stageFromSlug(slug string) (stage.Stage, bool) {
	for _, st := range stage.Order() {
		if st.Slug() == strings.ToLower(slug) {
			return st, true
		}
	}
	return "", false
}

func writeJSON(rw http.ResponseWriter, code int, payload any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	_ = json.NewEncoder(rw).Encode(payload)
}
