// =============================================================================
// Billing Summary - Configuration Module
// =============================================================================
//
// This module loads the main YAML configuration file. One file describes:
//   - the billing line feed and how its columns map onto line items
//   - the ledger and tax feeds used by the reconciler
//   - the grouping mode and the condition taxonomy
//   - the text enrichment source and its throttling
//   - logging and output settings
//
// Defaults are applied after parsing and the result is validated before it is
// handed to the commands.
//
// =============================================================================

package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/ginjaninja78/billing-summary/internal/aggregation"
	"github.com/ginjaninja78/billing-summary/internal/enrichment"
	"github.com/ginjaninja78/billing-summary/internal/pagination"
	"github.com/ginjaninja78/billing-summary/internal/taxonomy"
	"github.com/ginjaninja78/billing-summary/internal/xlsxparser"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Feed types.
const (
	FeedCSV    = "csv"
	FeedXLSX   = "xlsx"
	FeedSQLite = "sqlite"
)

// =============================================================================
// MAIN CONFIGURATION STRUCTURE
// =============================================================================

// MainConfig holds the global application configuration.
type MainConfig struct {
	// LogFile is an optional JSON log file in addition to stderr.
	LogFile string `yaml:"log_file"`

	// LogLevel controls the verbosity of logging.
	// Valid values: "debug", "info", "warn", "error"
	// Default: "info"
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`

	// Feed is the billing line feed summarized by the summarize command.
	Feed FeedConfig `yaml:"feed"`

	// Reconcile holds the ledger and tax feeds of the reconcile command.
	Reconcile ReconcileConfig `yaml:"reconcile"`

	Grouping GroupingConfig  `yaml:"grouping"`
	Taxonomy []TaxonomyEntry `yaml:"taxonomy" validate:"dive"`

	// TaxonomyFile is an XLSX workbook maintaining the taxonomy. It takes
	// precedence over the taxonomy section.
	TaxonomyFile string `yaml:"taxonomy_file"`

	Enrichment EnrichmentConfig `yaml:"enrichment"`
	Pagination PaginationConfig `yaml:"pagination"`
	Output     OutputConfig     `yaml:"output"`

	// Schedule holds cron expressions for the schedule command.
	Schedule ScheduleConfig `yaml:"schedule"`
}

// =============================================================================
// FEED CONFIGURATION
// =============================================================================

// FeedConfig describes one paged record source.
type FeedConfig struct {
	// Type is one of "csv", "xlsx", "sqlite".
	Type string `yaml:"type" validate:"omitempty,oneof=csv xlsx sqlite"`

	// Path is the CSV/XLSX file or the SQLite database file.
	Path string `yaml:"path"`

	// Sheet is the worksheet name for xlsx feeds. Default: first sheet.
	Sheet string `yaml:"sheet,omitempty"`

	// Table is the table or view for sqlite feeds.
	Table string `yaml:"table,omitempty"`

	// OrderBy lists the sqlite columns that give a stable page order.
	// Default: rowid
	OrderBy []string `yaml:"order_by,omitempty"`

	// SkipTotal stops the source from reporting a total count, so paging
	// relies on the full-page heuristic.
	SkipTotal bool `yaml:"skip_total,omitempty"`

	// CSVSettings contains settings for csv feeds.
	CSVSettings CSVSettings `yaml:"csv_settings"`

	// Columns maps record fields onto source columns.
	Columns ColumnMapping `yaml:"columns"`

	// TransformationRules are applied to raw column values before mapping.
	TransformationRules []TransformationRule `yaml:"transformation_rules" validate:"dive"`

	// Filters are equality filters on source columns.
	Filters map[string]string `yaml:"filters,omitempty"`
}

// PaginationFilters returns the feed filters in the form sources expect.
func (f FeedConfig) PaginationFilters() pagination.Filters {
	if len(f.Filters) == 0 {
		return nil
	}
	out := make(pagination.Filters, len(f.Filters))
	for k, v := range f.Filters {
		out[k] = v
	}
	return out
}

// ColumnMapping maps record fields to source column headers. Only the fields
// relevant to a feed's record kind need to be set.
type ColumnMapping struct {
	// Billing line fields.
	PrimaryKey      string `yaml:"primary_key"`
	SecondaryKey    string `yaml:"secondary_key"`
	ConditionType   string `yaml:"condition_type"`
	ConditionAmount string `yaml:"condition_amount"`
	Quantity        string `yaml:"quantity"`
	Material        string `yaml:"material"`

	// Ledger / tax fields.
	Entity        string `yaml:"entity"`
	Document      string `yaml:"document"`
	Period        string `yaml:"period"`
	TaxableAmount string `yaml:"taxable_amount"`
	Reversed      string `yaml:"reversed"`
	Reference     string `yaml:"reference"`
	TaxCode       string `yaml:"tax_code"`
	TaxAmount     string `yaml:"tax_amount"`
	TaxBaseAmount string `yaml:"tax_base_amount"`

	// Attributes maps descriptive attribute names to columns.
	Attributes map[string]string `yaml:"attributes"`
}

// CSVSettings contains settings for parsing CSV files.
type CSVSettings struct {
	// Delimiter is the character used to separate fields in the CSV.
	// Common values: "," (comma), "|" (pipe), "\t" (tab)
	// Default: ","
	Delimiter string `yaml:"delimiter"`

	// HeaderRows is the number of header rows in the CSV file.
	// Default: 1
	HeaderRows int `yaml:"header_rows" validate:"gte=1"`

	// DataStartRow is the row number where the actual data begins.
	// Row numbering starts at 1.
	// Default: HeaderRows + 1
	DataStartRow int `yaml:"data_start_row" validate:"gtfield=HeaderRows"`
}

// ReconcileConfig holds the two feeds of a reconciliation pass.
type ReconcileConfig struct {
	Primary   FeedConfig `yaml:"primary"`
	Secondary FeedConfig `yaml:"secondary"`
}

// =============================================================================
// TRANSFORMATION RULE STRUCTURE
// =============================================================================

// TransformationRule defines a transformation to apply to a specific column.
type TransformationRule struct {
	// Field is the source column header.
	Field string `yaml:"field" validate:"required"`

	// Actions are applied in order.
	Actions []TransformationAction `yaml:"actions" validate:"min=1,dive"`
}

// TransformationAction defines a single transformation action.
type TransformationAction struct {
	// Type is the transformation to apply, e.g. "pad_zeros_to_length",
	// "trim", "uppercase", "replace", "lookup". See converter.ApplyTransformation.
	Type string `yaml:"type" validate:"required"`

	// Value is the parameter for the transformation.
	Value string `yaml:"value"`

	// Find is used for "replace" and "regex_replace".
	Find string `yaml:"find,omitempty"`

	// LookupTable is used for "lookup" and "lookup_with_default".
	LookupTable map[string]string `yaml:"lookup_table,omitempty"`
}

// =============================================================================
// GROUPING / TAXONOMY / ENRICHMENT
// =============================================================================

// GroupingConfig selects the grouping mode and its summation policy.
type GroupingConfig struct {
	// Mode is "item" (document + item) or "document".
	Mode string `yaml:"mode"`

	// QuantityPolicy is "sum", "first" or "sum_same_material".
	// Default: the mode's default.
	QuantityPolicy string `yaml:"quantity_policy"`

	// Separator joins key fields. Default: "_"
	Separator string `yaml:"separator"`

	// DefaultItem replaces a missing item number. Default: "000010"
	DefaultItem string `yaml:"default_item"`

	// ClampNegative clamps invoice amounts at zero. Default: true
	ClampNegative *bool `yaml:"clamp_negative"`
}

// TaxonomyEntry is one condition type in the configuration file.
type TaxonomyEntry struct {
	Code        string `yaml:"code" validate:"required"`
	Role        string `yaml:"role"`
	Sign        string `yaml:"sign,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// EnrichmentConfig configures text enrichment.
type EnrichmentConfig struct {
	Enabled    bool             `yaml:"enabled"`
	BatchSize  int              `yaml:"batch_size" validate:"gte=0"`
	BatchDelay time.Duration    `yaml:"batch_delay"`
	Source     TextSourceConfig `yaml:"source"`
}

// TextSourceConfig describes the SQLite text table.
type TextSourceConfig struct {
	Path      string `yaml:"path"`
	Table     string `yaml:"table"`
	KeyColumn string `yaml:"key_column"`

	// Columns maps text fields (header_text, item_text, material_text,
	// customer_name) to table columns.
	Columns map[string]string `yaml:"columns"`
}

// PaginationConfig configures paging.
type PaginationConfig struct {
	PageSize int `yaml:"page_size" validate:"gte=0"`

	// LoadAll keeps loading pages until the feed is exhausted. When false
	// only MaxPages pages are loaded.
	LoadAll  bool `yaml:"load_all"`
	MaxPages int  `yaml:"max_pages" validate:"gte=0"`
}

// OutputConfig configures exports.
type OutputConfig struct {
	// Dir is where XML exports and summary logs are written.
	// Default: "./output"
	Dir string `yaml:"dir" validate:"required"`

	// FileFormat names export files. Placeholders: {uuid}, {timestamp},
	// {kind}. Default: "{kind}_{timestamp}_{uuid}.xml"
	FileFormat string `yaml:"file_format"`

	// WriteSummary writes a plain-text run summary next to the export.
	WriteSummary bool `yaml:"write_summary"`

	// IncludeLines writes the source lines under each group or document.
	IncludeLines bool `yaml:"include_lines"`

	// ArchiveDir receives a dated copy of every export. Empty disables
	// archiving.
	ArchiveDir string `yaml:"archive_dir"`

	// ArchiveRetention removes archived exports older than this after each
	// run. Zero keeps everything.
	ArchiveRetention time.Duration `yaml:"archive_retention" validate:"gte=0"`
}

// ScheduleConfig holds standard five-field cron expressions. An empty
// expression disables that job.
type ScheduleConfig struct {
	Summarize string `yaml:"summarize"`
	Reconcile string `yaml:"reconcile"`
}

// =============================================================================
// CONFIGURATION LOADING FUNCTIONS
// =============================================================================

// LoadMainConfig loads, defaults and validates the configuration at path.
func LoadMainConfig(configPath string) (*MainConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse is LoadMainConfig for in-memory YAML.
func Parse(data []byte) (*MainConfig, error) {
	var config MainConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyMainConfigDefaults(&config)

	if err := validateMainConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// applyMainConfigDefaults sets default values for any unset configuration options.
func applyMainConfigDefaults(config *MainConfig) {
	config.LogLevel = strings.ToLower(strings.TrimSpace(config.LogLevel))
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.Grouping.Mode == "" {
		config.Grouping.Mode = string(aggregation.ModeItem)
	}
	if config.Grouping.Separator == "" {
		config.Grouping.Separator = aggregation.DefaultSeparator
	}
	if config.Grouping.DefaultItem == "" {
		config.Grouping.DefaultItem = aggregation.DefaultItemSentinel
	}
	if config.Grouping.ClampNegative == nil {
		clamp := true
		config.Grouping.ClampNegative = &clamp
	}
	if config.Enrichment.BatchSize == 0 {
		config.Enrichment.BatchSize = enrichment.DefaultBatchSize
	}
	if config.Enrichment.BatchDelay == 0 {
		config.Enrichment.BatchDelay = enrichment.DefaultBatchDelay
	}
	if config.Enrichment.Source.KeyColumn == "" {
		config.Enrichment.Source.KeyColumn = "group_key"
	}
	if config.Pagination.PageSize == 0 {
		config.Pagination.PageSize = pagination.DefaultPageSize
	}
	if config.Output.Dir == "" {
		config.Output.Dir = "./output"
	}
	if config.Output.FileFormat == "" {
		config.Output.FileFormat = "{kind}_{timestamp}_{uuid}.xml"
	}

	applyFeedDefaults(&config.Feed)
	applyFeedDefaults(&config.Reconcile.Primary)
	applyFeedDefaults(&config.Reconcile.Secondary)
}

// applyFeedDefaults sets default values for a feed.
func applyFeedDefaults(feed *FeedConfig) {
	feed.Type = strings.ToLower(strings.TrimSpace(feed.Type))
	if feed.CSVSettings.Delimiter == "" {
		feed.CSVSettings.Delimiter = ","
	}
	if feed.CSVSettings.HeaderRows == 0 {
		feed.CSVSettings.HeaderRows = 1
	}
	if feed.CSVSettings.DataStartRow == 0 {
		feed.CSVSettings.DataStartRow = feed.CSVSettings.HeaderRows + 1
	}
}

// structValidator checks the validate tags. Field names in its errors are
// the YAML keys.
var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// cronParser accepts the standard five cron fields and descriptors such as
// "@daily".
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// validateMainConfig validates the main configuration.
func validateMainConfig(config *MainConfig) error {
	if err := structValidator.Struct(config); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fe := verrs[0]
			rule := fe.Tag()
			if fe.Param() != "" {
				rule += "=" + fe.Param()
			}
			field := strings.TrimPrefix(fe.Namespace(), "MainConfig.")
			return fmt.Errorf("%w: %s fails %s (value %v)", ErrInvalidConfig, field, rule, fe.Value())
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	schedules := []struct{ name, expr string }{
		{"schedule.summarize", config.Schedule.Summarize},
		{"schedule.reconcile", config.Schedule.Reconcile},
	}
	for _, s := range schedules {
		if s.expr == "" {
			continue
		}
		if _, err := ParseSchedule(s.expr); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, s.name, err)
		}
	}

	if _, err := config.AggregationOptions(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := config.BuildTaxonomy(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if config.Enrichment.Enabled {
		src := config.Enrichment.Source
		if src.Path == "" || src.Table == "" {
			return fmt.Errorf("%w: enrichment.source needs path and table", ErrInvalidConfig)
		}
	}

	feeds := []struct {
		name string
		feed FeedConfig
	}{
		{"feed", config.Feed},
		{"reconcile.primary", config.Reconcile.Primary},
		{"reconcile.secondary", config.Reconcile.Secondary},
	}
	for _, f := range feeds {
		if f.feed.Type == "" {
			continue
		}
		if err := ValidateFeed(f.feed); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, f.name, err)
		}
	}
	return nil
}

// ValidateFeed checks that a configured feed can be opened.
func ValidateFeed(feed FeedConfig) error {
	switch feed.Type {
	case FeedCSV, FeedXLSX:
		if feed.Path == "" {
			return errors.New("path is required")
		}
	case FeedSQLite:
		if feed.Path == "" || feed.Table == "" {
			return errors.New("path and table are required")
		}
	default:
		return fmt.Errorf("unknown feed type %q", feed.Type)
	}
	if feed.CSVSettings.DataStartRow <= feed.CSVSettings.HeaderRows {
		return errors.New("csv_settings.data_start_row must follow the header rows")
	}
	return nil
}

// =============================================================================
// DERIVED SETTINGS
// =============================================================================

// AggregationOptions converts the grouping section into engine options.
func (c *MainConfig) AggregationOptions() (aggregation.Options, error) {
	mode := aggregation.Mode(strings.ToLower(c.Grouping.Mode))
	switch mode {
	case aggregation.ModeItem, aggregation.ModeDocument:
	default:
		return aggregation.Options{}, fmt.Errorf("grouping.mode %q", c.Grouping.Mode)
	}

	policy := aggregation.QuantityPolicy(strings.ToLower(c.Grouping.QuantityPolicy))
	switch policy {
	case "", aggregation.QuantitySum, aggregation.QuantityFirst, aggregation.QuantitySumSameMaterial:
	default:
		return aggregation.Options{}, fmt.Errorf("grouping.quantity_policy %q", c.Grouping.QuantityPolicy)
	}

	clamp := true
	if c.Grouping.ClampNegative != nil {
		clamp = *c.Grouping.ClampNegative
	}

	return aggregation.Options{
		Mode:           mode,
		QuantityPolicy: policy,
		Separator:      c.Grouping.Separator,
		DefaultItem:    c.Grouping.DefaultItem,
		ClampNegative:  clamp,
	}, nil
}

// BuildTaxonomy returns the configured taxonomy: the workbook when
// taxonomy_file is set, else the taxonomy section, else the default table.
func (c *MainConfig) BuildTaxonomy() (*taxonomy.Taxonomy, error) {
	if c.TaxonomyFile != "" {
		rules, err := xlsxparser.ParseTaxonomy(c.TaxonomyFile)
		if err != nil {
			return nil, fmt.Errorf("taxonomy_file: %w", err)
		}
		return taxonomy.New(rules)
	}
	if len(c.Taxonomy) == 0 {
		return taxonomy.Default(), nil
	}

	rules := make([]taxonomy.Rule, 0, len(c.Taxonomy))
	for _, e := range c.Taxonomy {
		role, err := taxonomy.ParseRole(e.Role)
		if err != nil {
			return nil, fmt.Errorf("taxonomy %s: %w", e.Code, err)
		}
		sign, err := taxonomy.ParseSign(e.Sign)
		if err != nil {
			return nil, fmt.Errorf("taxonomy %s: %w", e.Code, err)
		}
		rules = append(rules, taxonomy.Rule{Code: e.Code, Role: role, Sign: sign, Description: e.Description})
	}
	return taxonomy.New(rules)
}
