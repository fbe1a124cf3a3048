package bootready

import (
	"context"
	"strings"
)

// featureEvaluator resolves feature names and decides whether every
// resolved record has reached an expected state.
type featureEvaluator struct {
	features FeatureService
	state    StateQuery
	logger   Logger
}

// resolve maps each requested name to its feature records. Any failure is a
// resolution error for the whole operation. Duplicate records are dropped.
func (e *featureEvaluator) resolve(ctx context.Context, op string, names []string) ([]Feature, error) {
	seen := make(map[string]struct{})
	var out []Feature
	for _, name := range names {
		records, err := e.features.ResolveFeature(ctx, name)
		if err != nil {
			return nil, newError(KindResolution, op, err, "failed to retrieve feature [%s]", name)
		}
		for _, f := range records {
			if _, dup := seen[f.ID()]; dup {
				continue
			}
			seen[f.ID()] = struct{}{}
			out = append(out, f)
		}
	}
	return out, nil
}

// selectByInstalled keeps the features whose installed flag equals want.
func (e *featureEvaluator) selectByInstalled(ctx context.Context, op string, features []Feature, want bool) ([]Feature, error) {
	var out []Feature
	for _, f := range features {
		installed, err := e.features.IsInstalled(ctx, f)
		if err != nil {
			return nil, newError(KindResolution, op, err, "failed to query install state of feature [%s]", f.ID())
		}
		if installed == want {
			out = append(out, f)
		}
	}
	return out, nil
}

// condition is true once every feature reports expected when queried by
// name and version.
func (e *featureEvaluator) condition(op string, features []Feature, expected FeatureState) Condition {
	return func(ctx context.Context) (bool, error) {
		var pending []Feature
		for _, f := range features {
			state, err := e.state.FeatureState(ctx, f.Name, f.Version)
			if err != nil {
				return false, newError(KindResolution, op, err, "failed to query state of feature [%s]", f.ID())
			}
			if state != expected {
				pending = append(pending, f)
			}
		}

		if len(pending) > 0 {
			e.logger.Info("Waiting for features to reach expected state",
				"features", featureNames(pending), "expected", expected)
			return false, nil
		}
		return true, nil
	}
}

func featureNames(features []Feature) string {
	names := make([]string, len(features))
	for i, f := range features {
		names[i] = f.Name
	}
	return strings.Join(names, ",")
}
