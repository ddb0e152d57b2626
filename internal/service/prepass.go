package service

import (
	"fmt"

	"record-import-pipeline/internal/domain"
	"record-import-pipeline/internal/validator"
)

// prepass finds the problems only visible across rows: duplicate values in
// unique columns and the same asset file claimed by more than one row. It
// keeps one first-seen line per value, never whole rows, so arbitrarily
// large sources scan in bounded memory.
type prepass struct {
	mapping *domain.MappingConfig

	// column index -> value -> line it first appeared on
	seenValues map[int]map[string]int
	// asset file name -> line it first appeared on
	seenAssets map[string]int

	findings []prepassFinding
}

type prepassFinding struct {
	line     int
	category string
	message  string
}

func newPrepass(mapping *domain.MappingConfig) *prepass {
	p := &prepass{
		mapping:    mapping,
		seenValues: make(map[int]map[string]int),
		seenAssets: make(map[string]int),
	}
	for _, cm := range mapping.Columns {
		if cm.Unique {
			p.seenValues[cm.Column] = make(map[string]int)
		}
	}
	return p
}

func (p *prepass) scan(line int, row []string) {
	for _, cm := range p.mapping.Columns {
		value := cell(row, cm.Column)

		if cm.Unique && value != "" {
			seen := p.seenValues[cm.Column]
			if first, dup := seen[value]; dup {
				p.findings = append(p.findings, prepassFinding{
					line:     line,
					category: domain.CategoryUniqueness,
					message: fmt.Sprintf("column %q: value %q is a duplicate of line %d",
						cm.Header, value, first),
				})
			} else {
				seen[value] = line
			}
		}

		if cm.Kind.IsAsset() {
			for _, name := range validator.SplitCell(value, cm.Delimiter) {
				if first, dup := p.seenAssets[name]; dup {
					p.findings = append(p.findings, prepassFinding{
						line:     line,
						category: domain.CategoryAsset,
						message: fmt.Sprintf("file %q is already claimed by line %d",
							name, first),
					})
				} else {
					p.seenAssets[name] = line
				}
			}
		}
	}
}

func (p *prepass) entries(jobID, actor string) []*domain.JobError {
	entries := make([]*domain.JobError, 0, len(p.findings))
	for _, f := range p.findings {
		entries = append(entries, &domain.JobError{
			JobID:     jobID,
			Severity:  domain.SeverityError,
			LineNum:   f.line,
			Category:  f.category,
			Message:   f.message,
			CreatedBy: actor,
		})
	}
	return entries
}
