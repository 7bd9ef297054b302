// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package manager

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/ManuGH/vigil/internal/camera"
	"github.com/ManuGH/vigil/internal/log"
)

// ReconcileResult lists what Reconcile changed.
type ReconcileResult struct {
	Started   []string
	Updated   []string
	Stopped   []string
	Unchanged []string
}

// Reconcile makes the running set match cfgs: new cameras start, changed
// ones update in place and missing ones stop. Unchanged cameras are left
// alone so a reload does not reset their readers. Invalid configs are
// skipped and reported; the rest still apply.
func (m *Manager) Reconcile(cfgs []camera.Config) (ReconcileResult, error) {
	var (
		res  ReconcileResult
		errs []error
	)
	want := make(map[string]bool, len(cfgs))
	for _, cfg := range cfgs {
		cfg = cfg.WithDefaults()
		want[cfg.ID] = true

		current, err := m.Config(cfg.ID)
		running := err == nil
		if running && reflect.DeepEqual(current, cfg) {
			res.Unchanged = append(res.Unchanged, cfg.ID)
			continue
		}
		if err := m.Start(cfg); err != nil {
			errs = append(errs, fmt.Errorf("camera %q: %w", cfg.ID, err))
			continue
		}
		if running {
			res.Updated = append(res.Updated, cfg.ID)
		} else {
			res.Started = append(res.Started, cfg.ID)
		}
	}

	for _, id := range m.IDs() {
		if want[id] {
			continue
		}
		if err := m.Stop(id); err == nil {
			res.Stopped = append(res.Stopped, id)
		}
	}

	m.logger.Info().
		Str(log.FieldEvent, "manager.reconciled").
		Strs("started", res.Started).
		Strs("updated", res.Updated).
		Strs("stopped", res.Stopped).
		Int("unchanged", len(res.Unchanged)).
		Msg("camera set reconciled")
	return res, errors.Join(errs...)
}
