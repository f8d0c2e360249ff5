package engine

import (
	"strings"
)

func applyRuntimeOverrides(base RunRuntime, overrides *RuntimeOverrides) RunRuntime {
	if overrides == nil {
		return base
	}
	if overrides.Targets != nil {
		base.Targets = cloneStrings(*overrides.Targets)
	}
	if overrides.BatchSize != nil {
		base.BatchSize = *overrides.BatchSize
	}
	if overrides.MaxParallel != nil {
		base.MaxParallel = *overrides.MaxParallel
	}
	if overrides.Running != nil {
		base.Running = cloneStrings(*overrides.Running)
	}
	return base
}

// releaseRunning drops jobs from the running set once an update reports a
// terminal outcome for them.
func releaseRunning(running []string, updates []JobUpdate) []string {
	if len(running) == 0 || len(updates) == 0 {
		return running
	}
	released := map[string]struct{}{}
	for _, update := range updates {
		id := strings.TrimSpace(update.ID)
		if id == "" {
			continue
		}
		if update.Result.Status == StatusRunning {
			continue
		}
		released[id] = struct{}{}
	}
	return without(running, released)
}

// dropFinishedRunning strips stale running entries that already have a
// terminal record.
func dropFinishedRunning(running []string, records map[string]JobResult) []string {
	if len(running) == 0 {
		return running
	}
	filtered := make([]string, 0, len(running))
	for _, id := range running {
		if record, ok := records[id]; ok && record.Status != StatusRunning {
			continue
		}
		filtered = append(filtered, id)
	}
	if len(filtered) == 0 {
		return nil
	}
	return filtered
}

func appendRunning(running []string, ids []string) []string {
	if len(ids) == 0 {
		return running
	}
	seen := rawSet(running)
	for _, id := range ids {
		clean := strings.TrimSpace(id)
		if clean == "" {
			continue
		}
		if _, dup := seen[clean]; dup {
			continue
		}
		seen[clean] = struct{}{}
		running = append(running, clean)
	}
	return running
}

func stripIDs(values []string, ids []string) []string {
	if len(values) == 0 || len(ids) == 0 {
		return values
	}
	return without(values, rawSet(ids))
}

func filterClaimable(runnable []string, requested []string) []string {
	if len(runnable) == 0 {
		return nil
	}
	if len(requested) == 0 {
		return append([]string(nil), runnable...)
	}
	allowed := trimmedSet(requested)
	var filtered []string
	for _, id := range runnable {
		if _, ok := allowed[id]; ok {
			filtered = append(filtered, id)
		}
	}
	return filtered
}

// targetClosure returns the set of jobs a targeted run actually covers: the
// targets plus everything they require, transitively. An empty target list
// covers every job.
func targetClosure(deps map[string][]string, targets []string) map[string]struct{} {
	closure := make(map[string]struct{}, len(deps))
	if len(targets) == 0 {
		for id := range deps {
			closure[id] = struct{}{}
		}
		return closure
	}
	var visit func(id string)
	visit = func(id string) {
		if _, seen := closure[id]; seen {
			return
		}
		if _, known := deps[id]; !known {
			return
		}
		closure[id] = struct{}{}
		for _, dep := range deps[id] {
			visit(dep)
		}
	}
	for _, id := range targets {
		visit(id)
	}
	return closure
}

// rawSet indexes ids as-is, dropping only empty strings.
func rawSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	return set
}

// trimmedSet indexes ids after trimming surrounding whitespace.
func trimmedSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		clean := strings.TrimSpace(id)
		if clean == "" {
			continue
		}
		set[clean] = struct{}{}
	}
	return set
}

// without returns values minus anything present in drop. An empty drop set
// returns values untouched.
func without(values []string, drop map[string]struct{}) []string {
	if len(drop) == 0 {
		return values
	}
	kept := make([]string, 0, len(values))
	for _, v := range values {
		if _, skip := drop[v]; skip {
			continue
		}
		kept = append(kept, v)
	}
	return kept
}
