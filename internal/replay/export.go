package replay

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/store"
)

// #region export

// Export builds a fixture from the most recent persisted incidents of a
// store ("" for all stores). Incidents still running are skipped.
func Export(ctx context.Context, st *store.Store, storeID string, limit int) (*Fixture, error) {
	items, err := st.List(ctx, storeID, limit)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	f := &Fixture{Description: fmt.Sprintf("exported incidents (store=%q, limit=%d)", storeID, limit)}
	// List is newest first; fixtures replay oldest first.
	for i := len(items) - 1; i >= 0; i-- {
		inc, err := st.Get(ctx, items[i].IncidentID)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", items[i].IncidentID, err)
		}
		if !inc.Completed && !inc.AwaitingDecision() {
			continue
		}
		f.Cases = append(f.Cases, CaseFromState(inc))
	}
	return f, nil
}

// #endregion export
