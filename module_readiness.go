package bootready

import (
	"context"
	"sort"
)

// moduleEvaluator decides whether a set of modules has reached its target
// lifecycle state: Active for regular modules, Resolved for fragments.
type moduleEvaluator struct {
	state  StateQuery
	logger Logger
}

// targets captures the fixed set of module names a wait is evaluated
// against. With no names, every module known right now is captured; modules
// installed after this call are not part of the wait.
func (e *moduleEvaluator) targets(ctx context.Context, op string, names []string) (map[string]struct{}, error) {
	set := make(map[string]struct{}, len(names))
	if len(names) > 0 {
		for _, n := range names {
			set[n] = struct{}{}
		}
		return set, nil
	}

	modules, err := e.state.Modules(ctx)
	if err != nil {
		return nil, newError(KindResolution, op, err, "failed to list modules")
	}
	for _, m := range modules {
		set[m.Name] = struct{}{}
	}
	return set, nil
}

// condition builds the readiness probe over targets. Each evaluation takes
// one snapshot of the module list. A non-fragment module in Failure aborts
// the wait with a terminal error carrying the inactive module dump.
func (e *moduleEvaluator) condition(op string, targets map[string]struct{}) Condition {
	return func(ctx context.Context) (bool, error) {
		modules, err := e.state.Modules(ctx)
		if err != nil {
			return false, newError(KindResolution, op, err, "failed to list modules")
		}

		var pending []string
		for _, m := range modules {
			if _, ok := targets[m.Name]; !ok {
				continue
			}

			switch readinessOf(m.State, m.IsFragment()) {
			case readinessReady:
			case readinessFailed:
				diags := InactiveModules(modules)
				logInactiveModules(e.logger, diags)
				merr := newError(KindTerminalState, op, nil, "module [%s] failed to start up", m.Name)
				merr.Diagnostics = diags
				return false, merr
			case readinessPending:
				pending = append(pending, m.Name)
				if m.IsFragment() {
					e.logger.Debug("Fragment not ready", "module", m.Name, "state", m.State)
				} else {
					e.logger.Debug("Module not ready", "module", m.Name, "state", m.State)
				}
			}
		}

		if len(pending) > 0 {
			sort.Strings(pending)
			e.logger.Info("Waiting for modules to become ready", "pending", len(pending), "modules", pending)
			return false, nil
		}
		return true, nil
	}
}

// check performs a single evaluation and returns the inactive modules in
// scope. It never waits.
func (e *moduleEvaluator) check(ctx context.Context, op string, targets map[string]struct{}) ([]ModuleDiagnostic, error) {
	modules, err := e.state.Modules(ctx)
	if err != nil {
		return nil, newError(KindResolution, op, err, "failed to list modules")
	}

	inScope := make([]Module, 0, len(modules))
	for _, m := range modules {
		if _, ok := targets[m.Name]; ok {
			inScope = append(inScope, m)
		}
	}

	for _, m := range inScope {
		if readinessOf(m.State, m.IsFragment()) == readinessFailed {
			merr := newError(KindTerminalState, op, nil, "module [%s] failed to start up", m.Name)
			merr.Diagnostics = InactiveModules(modules)
			return merr.Diagnostics, merr
		}
	}

	var notReady []ModuleDiagnostic
	for _, m := range inScope {
		if readinessOf(m.State, m.IsFragment()) == readinessPending {
			notReady = append(notReady, ModuleDiagnostic{
				Name:    m.Name,
				Version: m.Version,
				State:   m.State.String(),
			})
		}
	}
	return notReady, nil
}
