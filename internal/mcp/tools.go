package mcp

import (
	"github.com/Aman-CERP/xref/internal/pipeline"
	"github.com/Aman-CERP/xref/internal/query"
)

// FindUsagesInput defines the input schema for the find_usages tool.
type FindUsagesInput struct {
	Symbol string `json:"symbol" jsonschema:"symbol to find usages of: a simple name like greet, or a qualified one like com.acme.Greeter.greet"`
	Limit  int    `json:"limit,omitempty" jsonschema:"maximum number of usages to return"`
}

// FindUsagesOutput defines the output schema for the find_usages tool.
type FindUsagesOutput struct {
	Target    string         `json:"target" jsonschema:"the resolved target, qualified when its declaration is known"`
	Status    string         `json:"status" jsonschema:"derivation status: completed, cancelled_by_resource_pressure or failed"`
	Path      string         `json:"path" jsonschema:"how the answer was produced: absent, direct, empty_workset or scheduled"`
	Total     int            `json:"total" jsonschema:"number of usages before the limit was applied"`
	Truncated int            `json:"truncated,omitempty" jsonschema:"usages dropped by the limit"`
	Usages    []query.Result `json:"usages" jsonschema:"usages ordered by unit, line and column"`
	Warning   string         `json:"warning,omitempty" jsonschema:"set when results may be incomplete"`
}

// IndexStatusInput defines the input schema for the index_status tool.
type IndexStatusInput struct{}

// IndexStatusOutput defines the output schema for the index_status tool.
type IndexStatusOutput struct {
	Project     ProjectInfo                 `json:"project"`
	Units       int                         `json:"units" jsonschema:"units loaded into the reference graph"`
	LoadFailed  int                         `json:"load_failed" jsonschema:"units that failed to load and were skipped"`
	Derived     int                         `json:"derived" jsonschema:"units derived into the usage index"`
	Usages      int                         `json:"usages" jsonschema:"usage entries in the index"`
	Complete    bool                        `json:"complete" jsonschema:"true when every unit has been derived"`
	ProgressPct float64                     `json:"progress_pct"`
	Runs        []pipeline.ProgressSnapshot `json:"runs" jsonschema:"derivation runs in progress"`
}

// ProjectInfo identifies the served project.
type ProjectInfo struct {
	Name     string `json:"name"`
	RootPath string `json:"root_path"`
}
