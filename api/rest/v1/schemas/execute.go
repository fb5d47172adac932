package schemas

// ExecuteRequest submits a notebook run. Either template_key (plus optional
// parameters and target_name) or input_path selects the document.
type ExecuteRequest struct {
	TemplateKey string         `json:"template_key"`
	Parameters  map[string]any `json:"parameters"`
	TargetName  string         `json:"target_name"`
	InputPath   string         `json:"input_path"`
	OutputPath  string         `json:"output_path"`
	Kernel      string         `json:"kernel"`
}

// ExecuteResponse acknowledges a submission.
type ExecuteResponse struct {
	ExecutionID uint   `json:"execution_id"`
	StatusPath  string `json:"status_path"`
}
