// Package pipeline wires the stages together and owns the run lifecycle:
// provision the target store when it is missing, extract, rename to the
// canonical model, transform, load, refresh the reporting views.
//
// Two conditions end a run early without error: nothing was extracted, and
// nothing survived validation. Both are normal for an incremental pipeline
// that may be triggered when no new data has arrived.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"salesetl/internal/audit"
	"salesetl/internal/config"
	"salesetl/internal/extract"
	"salesetl/internal/load"
	"salesetl/internal/metrics"
	"salesetl/internal/schema"
	"salesetl/internal/storage"
	"salesetl/internal/transform"
	"salesetl/internal/watermark"
	"salesetl/pkg/records"
)

// Summary reports per-table row counts for one run. Extracted and Cleaned are
// keyed by canonical table name; Loaded by target table name (the wide orders
// batch lands in both orders and order_lines).
type Summary struct {
	Extracted map[string]int
	Cleaned   map[string]int
	Rejected  map[string]int
	Loaded    map[string]int
}

// Pipeline runs the full ETL cycle. Construct with New, or populate the
// fields directly in tests.
type Pipeline struct {
	Config   config.Config
	Registry schema.Registry
	Audit    audit.Sink
	Marks    *watermark.Store
}

// New builds a Pipeline from configuration with the default registry, a
// file-based audit sink, and the watermark store.
func New(cfg config.Config) *Pipeline {
	return &Pipeline{
		Config:   cfg,
		Registry: schema.Default(),
		Audit:    audit.NewFileSink(cfg.LogDir),
		Marks:    watermark.New(cfg.WatermarkDir),
	}
}

// Run executes one pipeline cycle and returns its summary. The returned error
// is non-nil only for conditions that abort the run (target store unreachable,
// provisioning failure, lookup failure mid-transform); per-row problems are in
// the audit log and the Rejected counts.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	job := p.Config.Job
	sum := &Summary{
		Extracted: map[string]int{},
		Cleaned:   map[string]int{},
		Rejected:  map[string]int{},
		Loaded:    map[string]int{},
	}

	repo, err := storage.Open(ctx, p.Config.Store)
	if err != nil {
		return sum, fmt.Errorf("pipeline: open target store: %w", err)
	}
	defer repo.Close()

	if err := p.provision(ctx, repo); err != nil {
		return sum, err
	}

	// Extract.
	start := time.Now()
	ex := &extract.Extractor{
		Registry:   p.Registry,
		Marks:      p.Marks,
		Audit:      p.Audit,
		InboxDir:   p.Config.InboxDir,
		ArchiveDir: p.Config.ArchiveDir,
		SourceDB:   p.Config.SourceDB,
	}
	batches := ex.Extract(ctx)
	metrics.RecordStep(job, "extract", nil, time.Since(start))
	if len(batches) == 0 {
		log.Printf("pipeline: nothing to extract, run ends")
		return sum, nil
	}

	batches = p.rename(batches)
	for table, rows := range batches {
		sum.Extracted[table] = len(rows)
		metrics.RecordRows(job, table, "extracted", int64(len(rows)))
	}

	// Transform.
	start = time.Now()
	tr := &transform.Transformer{Registry: p.Registry, Store: repo, Audit: p.Audit}
	clean, rejected, err := tr.Transform(ctx, batches)
	metrics.RecordStep(job, "transform", err, time.Since(start))
	if err != nil {
		return sum, fmt.Errorf("pipeline: transform: %w", err)
	}
	for table, rows := range clean {
		sum.Cleaned[table] = len(rows)
		metrics.RecordRows(job, table, "cleaned", int64(len(rows)))
	}
	for table, ids := range rejected {
		if len(ids) > 0 {
			sum.Rejected[table] = len(ids)
			metrics.RecordRows(job, table, "rejected", int64(len(ids)))
		}
	}
	if len(clean) == 0 {
		p.Audit.Record("transform", "global", "no rows survived validation, nothing to load")
		log.Printf("pipeline: no rows survived validation, run ends")
		return sum, nil
	}

	// Load.
	start = time.Now()
	ld := &load.Loader{Registry: p.Registry, Repo: repo, Marks: p.Marks, Audit: p.Audit}
	loaded, err := ld.Load(ctx, clean)
	metrics.RecordStep(job, "load", err, time.Since(start))
	for table, n := range loaded {
		sum.Loaded[table] = n
		metrics.RecordRows(job, table, "loaded", int64(n))
	}
	if err != nil {
		return sum, fmt.Errorf("pipeline: load: %w", err)
	}

	// Reporting views are derived data; a refresh failure is logged but does
	// not fail a run whose loads already committed.
	start = time.Now()
	refreshErr := repo.RefreshViews(ctx)
	metrics.RecordStep(job, "refresh_views", refreshErr, time.Since(start))
	if refreshErr != nil {
		p.Audit.Record("post_etl", "views", refreshErr.Error())
		log.Printf("pipeline: refresh views: %v", refreshErr)
	} else {
		p.Audit.Record("post_etl", "views", "reporting views refreshed")
	}

	return sum, nil
}

// provision creates the target schema when the store is empty. Watermarks are
// purged first: a fresh store has no load history, so extraction must restart
// from the beginning.
func (p *Pipeline) provision(ctx context.Context, repo storage.Repository) error {
	exists, err := repo.Exists(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: check target store: %w", err)
	}
	if exists {
		return nil
	}
	if err := p.Marks.Purge(); err != nil {
		return fmt.Errorf("pipeline: purge watermarks: %w", err)
	}
	if err := repo.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("pipeline: provision schema: %w", err)
	}
	p.Audit.Record("provision", "global", "target schema created, watermarks reset")
	log.Printf("pipeline: target schema created")
	return nil
}

// rename translates source-side table and column names to the canonical
// model. Unknown names pass through untouched.
func (p *Pipeline) rename(batches map[string][]records.Row) map[string][]records.Row {
	out := make(map[string][]records.Row, len(batches))
	for table, rows := range batches {
		canonical := p.Registry.CanonicalTable(table)
		if canonical != table {
			p.Audit.Record("table_renamed", table, fmt.Sprintf("renamed to %q", canonical))
		}

		renames := p.Registry.ColumnRenames[canonical]
		if len(renames) > 0 {
			applied := map[string]struct{}{}
			for _, row := range rows {
				for src, dst := range renames {
					v, ok := row.Fields[src]
					if !ok || src == dst {
						continue
					}
					delete(row.Fields, src)
					row.Fields[dst] = v
					applied[src+" -> "+dst] = struct{}{}
				}
			}
			if len(applied) > 0 {
				p.Audit.Record("columns_renamed", canonical, fmt.Sprintf("%d column(s) renamed", len(applied)))
			}
		}
		out[canonical] = append(out[canonical], rows...)
	}
	return out
}
