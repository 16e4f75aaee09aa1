package budget

import (
	"github.com/solsticehq/centra/internal/schema"
)

// Result pairs an assembled context with the report describing how it was
// fitted to its cost budget. Cached results keep the report so repeat reads
// see the same truncation information the first caller did.
type Result struct {
	Context *schema.CustomerContext `json:"context"`
	Report  Report                  `json:"report"`
}

// Clone detaches the result for safe sharing across cache readers.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Context = r.Context.Clone()
	if len(r.Report.DiscardedFields) > 0 {
		clone.Report.DiscardedFields = append([]string(nil), r.Report.DiscardedFields...)
	}
	return &clone
}
