package handler

import (
	"errors"
	"regexp"

	"nfcunha/vigil/core/models"
	"nfcunha/vigil/middleware"
)

var serviceNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// DiagnoseRules validates POST /diagnose.
var DiagnoseRules = []middleware.Rule{
	{Field: "services", Required: true, Type: middleware.TypeArray, MinLength: 1, MaxLength: 50, Custom: serviceList},
	{Field: "actions", Type: middleware.TypeArray, MaxLength: 3, Custom: actionList},
}

// PatchRequestRules validates POST /patch/request.
var PatchRequestRules = []middleware.Rule{
	{Field: "service", Required: true, MinLength: 1, MaxLength: 50, Pattern: serviceNamePattern},
	{Field: "description", Required: true, MinLength: 10, MaxLength: 500, Sanitize: true},
	{Field: "logs", Type: middleware.TypeArray, MaxLength: 1000},
	{Field: "containerId", MaxLength: 128},
}

// PatchResponseRules validates POST /patch/response.
var PatchResponseRules = []middleware.Rule{
	{Field: "service", Required: true, MinLength: 1, MaxLength: 50, Pattern: serviceNamePattern},
	{Field: "patch", Required: true},
	{Field: "requestId", MaxLength: 64},
}

// PatchApplyRules validates POST /patch/apply. Patch text is never
// sanitized; escaping would corrupt the diff.
var PatchApplyRules = []middleware.Rule{
	{Field: "service", Required: true, MinLength: 1, MaxLength: 50, Pattern: serviceNamePattern},
	{Field: "patch", Required: true, MaxLength: 1 << 20},
	{Field: "description", Required: true, MinLength: 10, MaxLength: 500, Sanitize: true},
}

func serviceList(v any) error {
	for _, item := range v.([]any) {
		s, ok := item.(string)
		if !ok || s == "" || len(s) > 50 {
			return errors.New("must contain service names of 1-50 characters")
		}
	}
	return nil
}

func actionList(v any) error {
	for _, item := range v.([]any) {
		switch item {
		case models.DiagnoseHealth, models.DiagnoseLogs, models.DiagnoseRestart:
		default:
			return errors.New("must only contain health, logs or restart")
		}
	}
	return nil
}
