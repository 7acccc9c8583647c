package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Metadata table names. They are the persisted contract with external
// readers and must not change.
const (
	TableTargetSchemas  = "target_schemas"
	TableFieldMappings  = "field_mappings"
	TableKnownMappings  = "known_field_mappings"
	TableRules          = "transformation_rules"
	TableBatches        = "silver_processing_log"
	TableWatermarks     = "processing_watermarks"
	TableQuarantine     = "quarantine_records"
	TableQualityMetrics = "data_quality_metrics"
	TablePrompts        = "llm_prompt_templates"
)

// DefaultPromptID names the prompt template seeded by Bootstrap.
const DefaultPromptID = "DEFAULT_FIELD_MAPPING"

// DefaultPromptText is the seeded semantic-mapping prompt.
const DefaultPromptText = `You are a data mapping expert. Map source fields from semi-structured raw data onto the columns of a target table.

Source fields: {source_fields}
Target columns: {target_columns}

Return ONLY a JSON array. Each element must be an object with the keys
"source_field", "target_column", "confidence" (a number between 0 and 1) and
"rationale" (one short sentence). Only map fields that clearly correspond.`

// metaTables returns the CREATE TABLE column definitions of every metadata
// table, in creation order.
func metaTables(t MetaTypes) []struct {
	name string
	defs []string
} {
	return []struct {
		name string
		defs []string
	}{
		{TableTargetSchemas, []string{
			"id " + t.ID,
			"table_name " + t.Key + " NOT NULL",
			"column_name " + t.Key + " NOT NULL",
			"data_type " + t.Key + " NOT NULL",
			"nullable " + t.Bool + " NOT NULL",
			"primary_key " + t.Bool + " NOT NULL",
			"default_value " + t.Text,
			"description " + t.Text,
			"ordinal " + t.Int + " NOT NULL",
			"active " + t.Bool + " NOT NULL",
			"created_at " + t.Time + " NOT NULL",
			"updated_at " + t.Time + " NOT NULL",
		}},
		{TableFieldMappings, []string{
			"id " + t.ID,
			"source_table " + t.Key + " NOT NULL",
			"source_field " + t.Key + " NOT NULL",
			"target_table " + t.Key + " NOT NULL",
			"target_column " + t.Key + " NOT NULL",
			"mapping_method " + t.Key + " NOT NULL",
			"confidence_score " + t.Float + " NOT NULL",
			"approved " + t.Bool + " NOT NULL",
			"approved_by " + t.Key,
			"approved_at " + t.Time,
			"transformation_logic " + t.Text,
			"description " + t.Text,
			"tpa " + t.Key,
			"created_at " + t.Time + " NOT NULL",
			"updated_at " + t.Time + " NOT NULL",
		}},
		{TableKnownMappings, []string{
			"id " + t.ID,
			"source_field " + t.Key + " NOT NULL",
			"target_field " + t.Key + " NOT NULL",
			"description " + t.Text,
			"active " + t.Bool + " NOT NULL",
			"created_at " + t.Time + " NOT NULL",
		}},
		{TableRules, []string{
			"rule_id " + t.Key + " NOT NULL PRIMARY KEY",
			"rule_name " + t.Key + " NOT NULL",
			"rule_type " + t.Key + " NOT NULL",
			"target_table " + t.Key,
			"target_column " + t.Key,
			"rule_logic " + t.Text + " NOT NULL",
			"rule_parameters " + t.Text,
			"priority " + t.Int + " NOT NULL",
			"error_action " + t.Key + " NOT NULL",
			"active " + t.Bool + " NOT NULL",
			"description " + t.Text,
			"created_at " + t.Time + " NOT NULL",
			"updated_at " + t.Time + " NOT NULL",
		}},
		{TableBatches, []string{
			"batch_id " + t.Key + " NOT NULL PRIMARY KEY",
			"source_table " + t.Key + " NOT NULL",
			"target_table " + t.Key + " NOT NULL",
			"status " + t.Key + " NOT NULL",
			"records_read " + t.Int + " NOT NULL",
			"records_processed " + t.Int + " NOT NULL",
			"records_rejected " + t.Int + " NOT NULL",
			"records_quarantined " + t.Int + " NOT NULL",
			"rules_applied " + t.Int + " NOT NULL",
			"watermark_from " + t.Key,
			"watermark_to " + t.Key,
			"start_time " + t.Time + " NOT NULL",
			"end_time " + t.Time,
			"error_message " + t.Text,
		}},
		{TableWatermarks, []string{
			"source_table " + t.Key + " NOT NULL",
			"target_table " + t.Key + " NOT NULL",
			"last_position " + t.Key,
			"last_batch_id " + t.Key,
			"locked_by " + t.Key,
			"locked_at " + t.Time,
			"updated_at " + t.Time + " NOT NULL",
			"PRIMARY KEY (source_table, target_table)",
		}},
		{TableQuarantine, []string{
			"id " + t.ID,
			"batch_id " + t.Key + " NOT NULL",
			"source_table " + t.Key + " NOT NULL",
			"target_table " + t.Key + " NOT NULL",
			"record_data " + t.Text + " NOT NULL",
			"rule_id " + t.Key,
			"error_detail " + t.Text + " NOT NULL",
			"quarantined_at " + t.Time + " NOT NULL",
			"resolved " + t.Bool + " NOT NULL",
			"resolved_by " + t.Key,
			"resolved_at " + t.Time,
		}},
		{TableQualityMetrics, []string{
			"id " + t.ID,
			"batch_id " + t.Key,
			"table_name " + t.Key + " NOT NULL",
			"rule_id " + t.Key,
			"metric_type " + t.Key + " NOT NULL",
			"metric_name " + t.Key + " NOT NULL",
			"passed " + t.Bool + " NOT NULL",
			"metric_value " + t.Float + " NOT NULL",
			"record_count " + t.Int + " NOT NULL",
			"measured_at " + t.Time + " NOT NULL",
		}},
		{TablePrompts, []string{
			"template_id " + t.Key + " NOT NULL PRIMARY KEY",
			"template_name " + t.Key + " NOT NULL",
			"template_text " + t.Text + " NOT NULL",
			"description " + t.Text,
			"active " + t.Bool + " NOT NULL",
			"created_at " + t.Time + " NOT NULL",
			"updated_at " + t.Time + " NOT NULL",
		}},
	}
}

// Bootstrap creates the schema and every missing metadata table, then seeds
// the default prompt template. It is safe to run repeatedly.
func Bootstrap(ctx context.Context, db *DB) error {
	if stmt := db.Dialect.CreateSchema(db.Schema); stmt != "" {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storage: create schema %s: %w", db.Schema, err)
		}
	}
	for _, tbl := range metaTables(db.Dialect.Meta()) {
		stmt := db.Dialect.CreateTable(db.Meta(tbl.name), tbl.defs)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storage: create %s: %w", tbl.name, err)
		}
	}

	var n int
	q := db.Rebind("SELECT COUNT(*) FROM " + db.Meta(TablePrompts) + " WHERE template_id = ?")
	if err := db.GetContext(ctx, &n, q, DefaultPromptID); err != nil {
		return fmt.Errorf("storage: check default prompt: %w", err)
	}
	if n == 0 {
		now := time.Now().UTC()
		ins := db.Rebind("INSERT INTO " + db.Meta(TablePrompts) +
			" (template_id, template_name, template_text, description, active, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)")
		if _, err := db.ExecContext(ctx, ins, DefaultPromptID, "Default field mapping",
			DefaultPromptText, "Seeded template for semantic field mapping", true, now, now); err != nil {
			return fmt.Errorf("storage: seed default prompt: %w", err)
		}
	}
	db.Log.Info("metadata bootstrapped", zap.String("dialect", db.Dialect.Name()), zap.String("schema", db.Schema))
	return nil
}
