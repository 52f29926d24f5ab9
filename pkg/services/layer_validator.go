package services

import (
	"context"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-layers/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-layers/pkg/logging"
	"github.com/ekaya-inc/ekaya-layers/pkg/metrics"
	"github.com/ekaya-inc/ekaya-layers/pkg/models"
	"github.com/ekaya-inc/ekaya-layers/pkg/sql"
)

// Validation stage names, used in metrics labels.
const (
	StageSyntax   = "syntax"
	StageSemantic = "semantic"
	StagePlan     = "plan"
)

// ValidatorPolicy is the immutable configuration of a SecurityValidator.
type ValidatorPolicy struct {
	MaxQueryLength   int
	MaxPlanCost      float64
	DeniedKeywords   []string
	AllowedFunctions []string
}

// DefaultValidatorPolicy returns the built-in policy.
func DefaultValidatorPolicy() ValidatorPolicy {
	return ValidatorPolicy{
		MaxQueryLength: 10000,
		MaxPlanCost:    10000,
		DeniedKeywords: []string{
			"drop", "truncate", "alter", "create", "grant", "revoke",
			"exec", "execute", "union", "copy", "vacuum", "reindex", "cluster",
			"pg_sleep", "pg_sleep_for", "pg_sleep_until",
			"pg_read_file", "pg_read_binary_file", "pg_ls_dir",
			"pg_terminate_backend", "pg_cancel_backend", "pg_reload_conf",
			"pg_advisory_lock", "pg_advisory_xact_lock",
			"set_config", "setval", "nextval",
			"lo_import", "lo_export", "lo_unlink", "dblink", "dblink_exec", "xp_cmdshell",
			"<script", "</script", "javascript:", "onerror=", "onload=", "<iframe",
		},
		AllowedFunctions: []string{
			// constructors and accessors
			"st_makepoint", "st_point", "st_makeenvelope", "st_makeline", "st_makepolygon",
			"st_geomfromtext", "st_geomfromgeojson", "st_geomfromwkb", "st_setsrid", "st_srid",
			"st_x", "st_y", "st_xmin", "st_ymin", "st_xmax", "st_ymax",
			"st_geometrytype", "st_npoints", "st_numgeometries", "st_geometryn",
			"st_astext", "st_asgeojson", "st_asbinary", "st_isvalid", "st_makevalid",
			// measurement
			"st_area", "st_length", "st_perimeter", "st_distance", "st_dwithin",
			// predicates
			"st_intersects", "st_contains", "st_within", "st_touches", "st_overlaps",
			"st_crosses", "st_disjoint", "st_equals", "st_covers", "st_coveredby",
			// processing
			"st_transform", "st_buffer", "st_centroid", "st_pointonsurface", "st_envelope",
			"st_simplify", "st_simplifypreservetopology", "st_convexhull", "st_boundary",
			"st_intersection", "st_difference", "st_symdifference", "st_snaptogrid",
			// aggregates
			"st_union", "st_collect", "st_extent", "st_memunion",
		},
	}
}

// ValidatedQuery is layer query text that passed SecurityValidator.
// Only the validator constructs one, so code that accepts a *ValidatedQuery
// cannot be handed raw text by mistake.
type ValidatedQuery struct {
	query     models.Query
	text      string
	queryType sql.QueryType
	level     models.ValidationLevel
}

// SQL returns the normalized text (trailing semicolon removed) that is safe
// to embed as a subquery.
func (v *ValidatedQuery) SQL() string { return v.text }

// Query returns the original submitted query.
func (v *ValidatedQuery) Query() models.Query { return v.query }

// Type returns the detected statement type.
func (v *ValidatedQuery) Type() sql.QueryType { return v.queryType }

// Level returns the level the query was validated at.
func (v *ValidatedQuery) Level() models.ValidationLevel { return v.level }

// SecurityValidator gates untrusted layer query text.
type SecurityValidator interface {
	// Validate runs the syntax, semantic and plan stages in order. A failing
	// stage stops the pipeline; every error found up to that point is returned.
	// Policy violations are reported in the result, never as a Go error.
	// The *ValidatedQuery is non-nil only when the result is valid.
	//
	// conn may be nil, in which case the plan stage is skipped with a warning.
	Validate(ctx context.Context, query models.Query, level models.ValidationLevel, conn datasource.LayerConn) (*models.ValidationResult, *ValidatedQuery)
}

type securityValidator struct {
	maxQueryLength int
	maxPlanCost    float64
	denied         map[string]struct{}
	allowed        map[string]struct{}
	metrics        *metrics.LayerMetrics
	logger         *zap.Logger
}

// NewSecurityValidator builds a validator. The policy is copied, so later
// changes to the caller's slices have no effect.
func NewSecurityValidator(policy ValidatorPolicy, m *metrics.LayerMetrics, logger *zap.Logger) SecurityValidator {
	return &securityValidator{
		maxQueryLength: policy.MaxQueryLength,
		maxPlanCost:    policy.MaxPlanCost,
		denied:         toLowerSet(policy.DeniedKeywords),
		allowed:        toLowerSet(policy.AllowedFunctions),
		metrics:        m,
		logger:         logger.Named("layer-validator"),
	}
}

var _ SecurityValidator = (*securityValidator)(nil)

func (v *securityValidator) Validate(ctx context.Context, query models.Query, level models.ValidationLevel, conn datasource.LayerConn) (*models.ValidationResult, *ValidatedQuery) {
	start := time.Now()
	result := models.NewValidationResult(query, level)

	stage, text := v.run(ctx, query, level, conn, result)
	result.ElapsedTime = time.Since(start)

	v.metrics.ObserveValidation(string(level), result.IsValid)
	if !result.IsValid {
		v.metrics.ObserveRejection(stage)
		v.logger.Info("Layer query rejected",
			zap.String("query_hash", query.ShortHash()),
			zap.String("level", string(level)),
			zap.String("stage", stage),
			zap.Int("errors", len(result.Errors)),
			zap.String("query", logging.SanitizeQuery(query.Text)),
		)
		return result, nil
	}

	return result, &ValidatedQuery{
		query:     query,
		text:      text,
		queryType: result.QueryType,
		level:     level,
	}
}

// run executes the stages and returns the name of the last stage reached plus
// the normalized text.
func (v *securityValidator) run(ctx context.Context, query models.Query, level models.ValidationLevel, conn datasource.LayerConn, result *models.ValidationResult) (string, string) {
	text, ok := v.checkSyntax(query.Text, level, result)
	if !ok {
		return StageSyntax, ""
	}

	if !v.checkSemantics(text, level, result) {
		return StageSemantic, ""
	}

	if plannable(result.QueryType, text) {
		if !v.checkPlan(ctx, text, conn, result) {
			return StagePlan, ""
		}
	} else {
		result.AddWarning("%s statements cannot be planned: execution plan check skipped", sql.LeadingKeyword(text))
	}

	return StagePlan, text
}

// checkSyntax rejects empty, oversized, commented, stacked and unbalanced
// text and denied keywords. It returns the normalized text.
//
// The Strict SELECT-only gate also runs here: it depends only on the leading
// keyword, and a denied keyword like DROP must not hide it.
func (v *securityValidator) checkSyntax(raw string, level models.ValidationLevel, result *models.ValidationResult) (string, bool) {
	if strings.TrimSpace(raw) == "" {
		result.AddError("query is empty")
		return "", false
	}

	if v.maxQueryLength > 0 && len(raw) > v.maxQueryLength {
		result.AddError("query exceeds maximum length of %d characters", v.maxQueryLength)
		return "", false
	}

	text := raw
	if sql.HasComments(raw) {
		result.AddError("comments are not allowed in layer queries")
		text = sql.StripComments(raw)
	}

	if sql.HasStackedStatements(text) {
		result.AddError("stacked queries are not allowed: only a single statement with an optional terminal semicolon is permitted")
	}

	singleOK, doubleOK := sql.QuoteBalance(text)
	if !singleOK {
		result.AddError("unbalanced single quotes")
	}
	if !doubleOK {
		result.AddError("unbalanced double quotes")
	}

	for _, kw := range sql.MatchKeywords(text, v.denied) {
		result.AddError("forbidden keyword: %s", kw)
	}

	for _, hit := range sql.ScanLiterals(text) {
		result.AddWarning("string literal looks like an injection payload (fingerprint %s)", hit.Fingerprint)
	}

	result.QueryType = sql.DetectQueryType(text)
	if level == models.ValidationLevelStrict && result.QueryType != sql.QueryTypeSelect {
		result.AddError("only SELECT queries are allowed at strict level (got %s)", result.QueryType)
	}

	return sql.StripTrailingSemicolon(text), result.IsValid
}

// checkSemantics applies the level's statement-type rules and the function
// and qualifier allowlists.
func (v *securityValidator) checkSemantics(text string, level models.ValidationLevel, result *models.ValidationResult) bool {
	qt := result.QueryType

	switch {
	case qt == sql.QueryTypeDDL:
		result.AddError("DDL statements are not allowed")
	case qt.IsModifying():
		result.AddError("%s statements are not allowed: layer queries are read-only", qt)
	case qt == sql.QueryTypeCommand:
		result.AddError("%s statements are not allowed: layer queries must be read-only queries", commandName(text))
	case qt == sql.QueryTypeUnknown && level == models.ValidationLevelModerate:
		result.AddError("unrecognized statement type is not allowed at moderate level")
	case qt == sql.QueryTypeUnknown:
		result.AddWarning("unrecognized statement type: %s", commandName(text))
	}

	for _, fn := range sql.SpatialFunctions(text) {
		if _, ok := v.allowed[fn]; !ok {
			result.AddError("function not allowed: %s", fn)
		}
	}

	for _, q := range sql.Qualifiers(text) {
		if !sql.IsPlainIdentifier(q) {
			result.AddError("invalid identifier qualifier: %s", q)
		}
	}

	return result.IsValid
}

// mutatingPlanPattern finds table-modification nodes in EXPLAIN JSON output.
var mutatingPlanPattern = regexp.MustCompile(`"Node Type":\s*"ModifyTable"|"Operation":\s*"(Insert|Update|Delete|Merge)"`)

// checkPlan asks the database for the estimated plan without running the
// query, rejecting plans that modify tables or cost more than the limit.
func (v *securityValidator) checkPlan(ctx context.Context, text string, conn datasource.LayerConn, result *models.ValidationResult) bool {
	if conn == nil {
		result.AddWarning("no database connection: execution plan check skipped")
		return true
	}

	plan, err := conn.Explain(ctx, text)
	if err != nil {
		result.AddError("failed to plan query: %s", logging.SanitizeError(err))
		return false
	}

	result.Plan = plan.Plan
	cost := plan.TotalCost
	result.PlanCost = &cost

	if m := mutatingPlanPattern.Find(plan.Plan); m != nil {
		result.AddError("execution plan contains a data-modifying operation: %s", string(m))
	}

	if v.maxPlanCost > 0 && plan.TotalCost > v.maxPlanCost {
		result.AddError("estimated query cost %.2f exceeds limit of %.2f", plan.TotalCost, v.maxPlanCost)
	}

	return result.IsValid
}

// plannable reports whether EXPLAIN accepts the statement. SHOW is the only
// read that cannot be planned.
func plannable(qt sql.QueryType, text string) bool {
	switch qt {
	case sql.QueryTypeSelect:
		return true
	case sql.QueryTypeUnknown:
		return sql.LeadingKeyword(text) != "SHOW"
	default:
		return false
	}
}

func commandName(text string) string {
	if kw := sql.LeadingKeyword(text); kw != "" {
		return kw
	}
	return "unrecognized"
}

func toLowerSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}
