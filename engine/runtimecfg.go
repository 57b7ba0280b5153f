package engine

import (
	"context"
	"fmt"

	"github.com/fieldmesh/core/engine/internal/runtimecfg"
)

// WatchRuntimeConfig starts watching cfg.RuntimeConfigPath (if set) and
// applies each revision's telemetry/retainer/reconnect blocks to the live
// Engine without a restart, in the teacher's HotReloadSystem idiom. Telemetry
// backend changes take effect for resources registered after the update;
// they do not hot-swap an already-running metrics.Provider. It returns
// immediately with a nil error if RuntimeConfigPath is unset.
func (e *Engine) WatchRuntimeConfig(ctx context.Context) error {
	if e.cfg.RuntimeConfigPath == "" {
		return nil
	}
	mgr := runtimecfg.NewManager(e.cfg.RuntimeConfigPath)
	if _, err := mgr.Load(); err != nil {
		return fmt.Errorf("load runtime config: %w", err)
	}
	updates, errs := mgr.Watch(ctx)
	go func() {
		for {
			select {
			case u, ok := <-updates:
				if !ok {
					return
				}
				e.applyRuntimeUpdate(u)
			case err, ok := <-errs:
				if !ok {
					return
				}
				e.log.ErrorCtx(ctx, "runtime config watch error", "error", err)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (e *Engine) applyRuntimeUpdate(u runtimecfg.Update) {
	e.mu.Lock()
	defer e.mu.Unlock()

	telemetry := e.cfg.Telemetry
	if err := u.Decode(u.Telemetry, &telemetry); err != nil {
		e.log.ErrorCtx(context.Background(), "apply runtime telemetry config", "error", err)
	} else {
		e.cfg.Telemetry = telemetry
		e.metricsProvider = selectMetricsProvider(telemetry)
	}

	retainer := e.cfg.Retainer
	if err := u.Decode(u.Retainer, &retainer); err != nil {
		e.log.ErrorCtx(context.Background(), "apply runtime retainer config", "error", err)
	} else {
		e.cfg.Retainer = retainer
	}

	reconnect := e.cfg.Reconnect
	if err := u.Decode(u.Reconnect, &reconnect); err != nil {
		e.log.ErrorCtx(context.Background(), "apply runtime reconnect config", "error", err)
	} else {
		e.cfg.Reconnect = reconnect
	}
}
