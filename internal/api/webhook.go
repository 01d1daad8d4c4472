package api

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"docflow/internal/services"
	"docflow/internal/workflow"
)

//go:embed webhook_schema.json
var webhookSchema []byte

var compileWebhookSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("webhook_schema.json", bytes.NewReader(webhookSchema)); err != nil {
		return nil, fmt.Errorf("add webhook schema: %w", err)
	}
	schema, err := compiler.Compile("webhook_schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile webhook schema: %w", err)
	}
	return schema, nil
})

// StageCallback is the body the remote worker posts to the webhook.
type StageCallback struct {
	Event    string           `json:"event"`
	TaskID   string           `json:"task_id,omitempty"`
	Stage    CallbackStage    `json:"stage"`
	Files    CallbackFiles    `json:"files"`
	Metadata CallbackMetadata `json:"metadata"`
}

// CallbackStage reports the settled stage.
type CallbackStage struct {
	Type          string  `json:"type"`
	Status        string  `json:"status"`
	ExecutionTime float64 `json:"execution_time,omitempty"`
	ErrorMessage  string  `json:"error_message,omitempty"`
}

// CallbackFiles lists the produced outputs.
type CallbackFiles struct {
	OutputFiles []string `json:"output_files,omitempty"`
}

// CallbackMetadata carries worker-reported metrics and warnings.
type CallbackMetadata struct {
	Metrics  map[string]any `json:"metrics,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
}

// ValidateStageCallback checks body against the webhook schema.
func ValidateStageCallback(body []byte) error {
	schema, err := compileWebhookSchema()
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return services.Wrap(services.ErrValidation, "api", "webhook", "body is not valid JSON", err)
	}
	if err := schema.Validate(v); err != nil {
		return services.Wrap(services.ErrValidation, "api", "webhook", "payload does not match schema", err)
	}
	return nil
}

// DecodeStageCallback validates and decodes a webhook request. The job and
// execution ids come from the callback URL query.
func DecodeStageCallback(query url.Values, body []byte) (workflow.StageCallback, error) {
	jobID, err := parseID(query.Get("job_id"))
	if err != nil || jobID == 0 {
		return workflow.StageCallback{}, services.Wrap(services.ErrValidation, "api", "webhook", "job_id query parameter is required", err)
	}
	var executionID int64
	if raw := query.Get("execution_id"); raw != "" {
		if executionID, err = parseID(raw); err != nil {
			return workflow.StageCallback{}, services.Wrap(services.ErrValidation, "api", "webhook", "execution_id is not a number", err)
		}
	}
	if err := ValidateStageCallback(body); err != nil {
		return workflow.StageCallback{}, err
	}
	var payload StageCallback
	if err := json.Unmarshal(body, &payload); err != nil {
		return workflow.StageCallback{}, services.Wrap(services.ErrValidation, "api", "webhook", "decode payload", err)
	}
	return workflow.StageCallback{
		JobID:       jobID,
		ExecutionID: executionID,
		TaskID:      payload.TaskID,
		Event:       payload.Event,
		Stage: workflow.CallbackStage{
			Type:          payload.Stage.Type,
			Status:        payload.Stage.Status,
			ExecutionTime: payload.Stage.ExecutionTime,
			ErrorMessage:  payload.Stage.ErrorMessage,
		},
		OutputFiles: payload.Files.OutputFiles,
		Metrics:     payload.Metadata.Metrics,
		Warnings:    payload.Metadata.Warnings,
	}, nil
}

func parseID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
