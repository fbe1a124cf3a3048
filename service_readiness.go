package bootready

import (
	"context"
	"fmt"
)

// Service query modes.
const (
	// ServiceQueryPoll re-queries the service registry on every poll.
	ServiceQueryPoll = "poll"
	// ServiceQuerySnapshot queries once before polling begins. Services
	// registered after that are never observed by the wait.
	ServiceQuerySnapshot = "snapshot"
)

var (
	allManagedServicesFilter  = fmt.Sprintf("(%s=*)", PropServicePID)
	allServiceFactoriesFilter = fmt.Sprintf("(%s=*)", PropFactoryPID)
)

// serviceEvaluator decides whether a managed service or managed service
// factory with a given pid is registered.
type serviceEvaluator struct {
	state  StateQuery
	logger Logger
	mode   string
}

type serviceSnapshot struct {
	managed   []ServiceRef
	factories []ServiceRef
}

func (e *serviceEvaluator) query(ctx context.Context, op string) (serviceSnapshot, error) {
	managed, err := e.state.FindServices(ctx, ServiceKindManagedService, allManagedServicesFilter)
	if err != nil {
		return serviceSnapshot{}, newError(KindResolution, op, err, "failed to retrieve managed services from system")
	}
	factories, err := e.state.FindServices(ctx, ServiceKindManagedServiceFactory, allServiceFactoriesFilter)
	if err != nil {
		return serviceSnapshot{}, newError(KindResolution, op, err, "failed to retrieve managed service factories from system")
	}
	return serviceSnapshot{managed: managed, factories: factories}, nil
}

func (s serviceSnapshot) contains(pid string) bool {
	for _, ref := range s.managed {
		if ref.Property(PropServicePID) == pid {
			return true
		}
	}
	for _, ref := range s.factories {
		if ref.Property(PropFactoryPID) == pid {
			return true
		}
	}
	return false
}

// condition builds the availability probe for pid. In snapshot mode the
// registry is queried here, once, and the probe only inspects that result.
func (e *serviceEvaluator) condition(ctx context.Context, op, pid string) (Condition, error) {
	if e.mode == ServiceQuerySnapshot {
		snap, err := e.query(ctx, op)
		if err != nil {
			return nil, err
		}
		return func(context.Context) (bool, error) {
			e.logger.Info("Waiting for service to be registered", "pid", pid)
			return snap.contains(pid), nil
		}, nil
	}

	return func(ctx context.Context) (bool, error) {
		snap, err := e.query(ctx, op)
		if err != nil {
			return false, err
		}
		if snap.contains(pid) {
			return true, nil
		}
		e.logger.Info("Waiting for service to be registered", "pid", pid)
		return false, nil
	}, nil
}
