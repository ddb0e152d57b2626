package service

import (
	"context"
	"fmt"

	"record-import-pipeline/internal/domain"
	"record-import-pipeline/internal/validator"
)

// applyContext carries what every field applier needs to write one cell onto
// one record.
type applyContext struct {
	svc      *ImportService
	recordID string
	actor    string
}

// fieldApplier writes one cell's worth of data for one field kind. The kind
// set is closed, so dispatch happens once, in applierFor, instead of being
// re-switched inside every write path.
type fieldApplier interface {
	Apply(ctx context.Context, ac *applyContext, cm *domain.ColumnMapping, value string) error
}

func applierFor(kind domain.FieldKind) fieldApplier {
	switch {
	case kind.IsAsset():
		return assetApplier{}
	case kind == domain.KindSingleSelect:
		return choiceApplier{single: true}
	case kind.IsChoice():
		return choiceApplier{}
	default:
		return scalarApplier{}
	}
}

// scalarApplier stores coerced scalar values. A blank cell only blanks a slot
// that already exists; it never creates one. Values that cannot be coerced at
// all are skipped, matching what the validation report promised.
type scalarApplier struct{}

func (scalarApplier) Apply(ctx context.Context, ac *applyContext, cm *domain.ColumnMapping, value string) error {
	coerced, ok := validator.CoerceValue(cm.Kind, value)
	if !ok {
		return nil
	}
	if coerced == "" {
		_, err := ac.svc.records.UpdateExistingValue(ctx, ac.recordID, cm.FieldID, "")
		return err
	}
	_, err := ac.svc.records.SetValue(ctx, ac.recordID, cm.FieldID, coerced)
	return err
}

// assetApplier attaches pooled files to the record. Files already attached
// stay attached; files the row no longer lists are only detached when the
// column is marked Sync.
type assetApplier struct{}

func (assetApplier) Apply(ctx context.Context, ac *applyContext, cm *domain.ColumnMapping, value string) error {
	names := validator.SplitCell(value, cm.Delimiter)
	if len(names) == 0 {
		return nil
	}

	attached, err := ac.svc.records.ListAssets(ctx, ac.recordID, cm.FieldID)
	if err != nil {
		return fmt.Errorf("list attached assets: %w", err)
	}
	have := make(map[string]bool, len(attached))
	for _, name := range attached {
		have[name] = true
	}

	listed := make(map[string]bool, len(names))
	for _, name := range names {
		listed[name] = true
		if have[name] {
			continue
		}
		info, err := ac.svc.uploads.Asset(name)
		if err != nil {
			return fmt.Errorf("inspect asset %q: %w", name, err)
		}
		if info == nil {
			return fmt.Errorf("asset %q missing from pool", name)
		}
		if err := ac.svc.records.AttachAsset(ctx, ac.recordID, cm.FieldID, name); err != nil {
			return fmt.Errorf("attach asset %q: %w", name, err)
		}
	}

	if cm.Sync {
		for _, name := range attached {
			if listed[name] {
				continue
			}
			if err := ac.svc.records.DetachAsset(ctx, ac.recordID, cm.FieldID, name); err != nil {
				return fmt.Errorf("detach asset %q: %w", name, err)
			}
		}
	}
	return nil
}

// choiceApplier ensures each labelled option exists and selects it. A
// single-select cell is one label, delimiter or not, and replaces whatever
// was selected before.
type choiceApplier struct {
	single bool
}

func (a choiceApplier) Apply(ctx context.Context, ac *applyContext, cm *domain.ColumnMapping, value string) error {
	var labels []string
	if a.single {
		labels = validator.SplitCell(value, "")
	} else {
		labels = validator.SplitCell(value, cm.Delimiter)
	}
	if len(labels) == 0 {
		return nil
	}

	wanted := make(map[string]bool, len(labels))
	for _, label := range labels {
		if len(label) > validator.MaxLabelLength {
			label = label[:validator.MaxLabelLength]
		}
		opt, _, err := ac.svc.options.Ensure(ctx, cm.FieldID, label, ac.actor)
		if err != nil {
			return fmt.Errorf("ensure option %q: %w", label, err)
		}
		if err := ac.svc.records.Select(ctx, ac.recordID, cm.FieldID, opt.ID); err != nil {
			return fmt.Errorf("select option %q: %w", label, err)
		}
		wanted[opt.ID] = true
	}

	if a.single || cm.Sync {
		selected, err := ac.svc.records.ListSelections(ctx, ac.recordID, cm.FieldID)
		if err != nil {
			return fmt.Errorf("list selections: %w", err)
		}
		for _, optionID := range selected {
			if wanted[optionID] {
				continue
			}
			if err := ac.svc.records.Deselect(ctx, ac.recordID, cm.FieldID, optionID); err != nil {
				return fmt.Errorf("deselect option %s: %w", optionID, err)
			}
		}
	}
	return nil
}
