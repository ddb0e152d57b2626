// Package validator checks import mappings and source values. Mapping
// validation happens once per dispatch; value checks run per cell and report
// issues rather than failing, since an import should surface every problem
// in one report.
package validator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"record-import-pipeline/internal/domain"
)

// Issue describes one problem found in a source value.
type Issue struct {
	Severity domain.Severity
	Message  string
}

// MaxLabelLength bounds option and tag labels.
const MaxLabelLength = 255

var digitsOnly = regexp.MustCompile(`^[0-9]{1,4}$`)

// dateLayouts are tried in order when parsing date cells.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006/01/02",
	"01/02/2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
}

// Validator provides validation for import mappings and source values.
type Validator struct{}

// NewValidator creates a new Validator instance.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateMapping checks the structural soundness of a column mapping before
// any job is dispatched.
func (v *Validator) ValidateMapping(m *domain.MappingConfig) error {
	err := validation.ValidateStruct(m,
		validation.Field(&m.SchemaID,
			validation.Required.Error("schema_id_required"),
		),
		validation.Field(&m.Columns,
			validation.Required.Error("columns_required"),
			validation.By(columnsRule),
		),
	)
	if err != nil {
		return err
	}

	if m.ExternalIDColumn >= 0 && m.ColumnFor(m.ExternalIDColumn) == nil {
		return validation.Errors{
			"external_id_column": validation.NewError("external_id_column_unmapped",
				"external id column is not in the mapping"),
		}
	}
	return nil
}

func columnsRule(value interface{}) error {
	columns, ok := value.([]domain.ColumnMapping)
	if !ok {
		return nil
	}

	seen := make(map[int]struct{}, len(columns))
	for _, cm := range columns {
		if cm.Column < 0 {
			return validation.NewError("negative_column_index", "column index cannot be negative")
		}
		if _, dup := seen[cm.Column]; dup {
			return validation.NewError("duplicate_column_index",
				fmt.Sprintf("column %d is mapped twice", cm.Column))
		}
		seen[cm.Column] = struct{}{}

		if !domain.IsValidFieldKind(cm.Kind) {
			return validation.NewError("unknown_field_kind",
				fmt.Sprintf("column %d has unknown kind %q", cm.Column, cm.Kind))
		}
		if cm.Unique && !cm.Kind.CanBeUnique() {
			return validation.NewError("kind_cannot_be_unique",
				fmt.Sprintf("column %d: %s fields cannot be unique", cm.Column, cm.Kind))
		}
		if len(cm.Delimiter) > 3 {
			return validation.NewError("delimiter_too_long",
				fmt.Sprintf("column %d: delimiter longer than 3 characters", cm.Column))
		}
		if cm.Delimiter != "" && !cm.Kind.IsAsset() && !cm.Kind.IsChoice() {
			return validation.NewError("delimiter_on_scalar",
				fmt.Sprintf("column %d: %s fields take a single value", cm.Column, cm.Kind))
		}
	}
	return nil
}

// CheckValue inspects one trimmed cell against its field kind and reports
// what will happen to it on commit. Blank cells are always acceptable.
func (v *Validator) CheckValue(kind domain.FieldKind, value string) []Issue {
	if value == "" {
		return nil
	}

	switch kind {
	case domain.KindInteger:
		return checkInteger(value)
	case domain.KindDecimal:
		return checkDecimal(value)
	case domain.KindDate:
		return checkDate(value)
	case domain.KindShortText, domain.KindMediumText, domain.KindLongText:
		return checkLength(kind, value)
	}
	return nil
}

func checkInteger(value string) []Issue {
	if _, err := strconv.ParseInt(value, 10, 64); err == nil {
		return nil
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return []Issue{{
			Severity: domain.SeverityWarning,
			Message:  fmt.Sprintf("%q will be imported as %d", value, int64(f)),
		}}
	}
	return []Issue{{
		Severity: domain.SeverityWarning,
		Message:  fmt.Sprintf("%q is not a valid integer and will not be imported", value),
	}}
}

func checkDecimal(value string) []Issue {
	if _, err := strconv.ParseFloat(value, 64); err == nil {
		return nil
	}
	return []Issue{{
		Severity: domain.SeverityWarning,
		Message:  fmt.Sprintf("%q is not a valid decimal and will not be imported", value),
	}}
}

func checkDate(value string) []Issue {
	// Short digit strings parse as implausible dates, so reject them
	// before trying any layout.
	if digitsOnly.MatchString(value) {
		return []Issue{{
			Severity: domain.SeverityError,
			Message:  fmt.Sprintf("%q is ambiguous as a date", value),
		}}
	}
	if _, ok := ParseDate(value); ok {
		return nil
	}
	return []Issue{{
		Severity: domain.SeverityError,
		Message:  fmt.Sprintf("%q could not be parsed as a date", value),
	}}
}

func checkLength(kind domain.FieldKind, value string) []Issue {
	max := kind.MaxLength()
	if len(value) <= max {
		return nil
	}
	return []Issue{{
		Severity: domain.SeverityWarning,
		Message:  fmt.Sprintf("value is %d characters long and will be truncated to %d", len(value), max),
	}}
}

// CheckLabel inspects an option or tag label taken from a choice cell.
func (v *Validator) CheckLabel(label string) []Issue {
	if label == "" {
		return []Issue{{
			Severity: domain.SeverityWarning,
			Message:  "blank option label will be skipped",
		}}
	}
	if len(label) > MaxLabelLength {
		return []Issue{{
			Severity: domain.SeverityWarning,
			Message:  fmt.Sprintf("option label is %d characters long and will be truncated to %d", len(label), MaxLabelLength),
		}}
	}
	return nil
}

// ParseDate parses a date cell using the accepted layouts.
func ParseDate(value string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// CoerceValue converts a raw cell into the form stored for its kind. The
// bool result is false when the value cannot be stored at all.
func CoerceValue(kind domain.FieldKind, value string) (string, bool) {
	if value == "" {
		return "", true
	}

	switch kind {
	case domain.KindInteger:
		if _, err := strconv.ParseInt(value, 10, 64); err == nil {
			return value, true
		}
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return strconv.FormatInt(int64(f), 10), true
		}
		return "", false
	case domain.KindDecimal:
		if _, err := strconv.ParseFloat(value, 64); err == nil {
			return value, true
		}
		return "", false
	case domain.KindDate:
		if digitsOnly.MatchString(value) {
			return "", false
		}
		if t, ok := ParseDate(value); ok {
			return t.Format("2006-01-02"), true
		}
		return "", false
	case domain.KindBoolean:
		// Any nonblank cell selects the checkbox.
		return "1", true
	case domain.KindShortText, domain.KindMediumText, domain.KindLongText:
		if max := kind.MaxLength(); len(value) > max {
			return value[:max], true
		}
		return value, true
	}
	return value, true
}

// SplitCell splits a multi-value cell on its delimiter, trimming each part
// and dropping empties. An empty delimiter yields the whole cell.
func SplitCell(value, delimiter string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	if delimiter == "" {
		return []string{strings.TrimSpace(value)}
	}
	parts := strings.Split(value, delimiter)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
