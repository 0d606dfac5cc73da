// Package planner computes which catalog entries still need processing.
package planner

// Plan is one delta computation over the catalog.
type Plan struct {
	Pending   []string
	Processed int
	InFlight  int
}

// Compute returns the catalog keys that are neither finished nor already
// inside an active job, preserving catalog order. A key is finished once
// any quality verdict exists for it; failed keys stay finished until they
// are explicitly requeued.
func Compute(catalogKeys, processedKeys, inFlightKeys []string) Plan {
	processed := make(map[string]struct{}, len(processedKeys))
	for _, key := range processedKeys {
		processed[key] = struct{}{}
	}
	inFlight := make(map[string]struct{}, len(inFlightKeys))
	for _, key := range inFlightKeys {
		inFlight[key] = struct{}{}
	}

	plan := Plan{}
	for _, key := range catalogKeys {
		if _, ok := processed[key]; ok {
			plan.Processed++
			continue
		}
		if _, ok := inFlight[key]; ok {
			plan.InFlight++
			continue
		}
		plan.Pending = append(plan.Pending, key)
	}
	return plan
}
