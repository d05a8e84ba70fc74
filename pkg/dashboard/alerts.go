package dashboard

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/paperledger/paperledger/pkg/store"
	"github.com/paperledger/paperledger/pkg/tenantcfg"
)

// DefaultRules apply when the tenant config declares none.
var DefaultRules = []tenantcfg.AlertRule{
	{
		ID:       "low_stock",
		Expr:     "on_hand < reorder_point && reorder_point > 0",
		Severity: "warning",
	},
}

// Alert is one fired rule for one part.
type Alert struct {
	RuleID           string `json:"rule_id"`
	Severity         string `json:"severity"`
	PartNumber       string `json:"part_number"`
	InternalItemName string `json:"internal_item_name,omitempty"`
	OnHand           int64  `json:"on_hand"`
	ReorderPoint     int64  `json:"reorder_point"`
}

// AlertEvaluator compiles and caches rule expressions. Rules are plain
// boolean CEL over one stock row's fields.
type AlertEvaluator struct {
	env *cel.Env

	mu       sync.Mutex
	programs map[string]cel.Program
}

// NewAlertEvaluator builds the evaluation environment.
func NewAlertEvaluator() (*AlertEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("part_number", cel.StringType),
		cel.Variable("internal_item_name", cel.StringType),
		cel.Variable("priority", cel.StringType),
		cel.Variable("current_stock", cel.IntType),
		cel.Variable("manual_adjustment", cel.IntType),
		cel.Variable("on_hand", cel.IntType),
		cel.Variable("reorder_point", cel.IntType),
		cel.Variable("total_value", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("dashboard: building alert env: %w", err)
	}
	return &AlertEvaluator{env: env, programs: make(map[string]cel.Program)}, nil
}

// Evaluate runs every rule over every level and returns the fired
// alerts. A rule that fails to compile or evaluate is reported as an
// error; tenant-authored expressions surface their mistakes instead of
// being silently skipped.
func (e *AlertEvaluator) Evaluate(rules []tenantcfg.AlertRule, levels []store.StockLevel) ([]Alert, error) {
	if len(rules) == 0 {
		rules = DefaultRules
	}

	var alerts []Alert
	for _, rule := range rules {
		prg, err := e.program(rule.Expr)
		if err != nil {
			return nil, fmt.Errorf("dashboard: rule %s: %w", rule.ID, err)
		}
		for _, lvl := range levels {
			fired, err := evalBool(prg, &lvl)
			if err != nil {
				return nil, fmt.Errorf("dashboard: rule %s on %s: %w", rule.ID, lvl.PartNumber, err)
			}
			if !fired {
				continue
			}
			alerts = append(alerts, Alert{
				RuleID:           rule.ID,
				Severity:         severityOr(rule.Severity),
				PartNumber:       lvl.PartNumber,
				InternalItemName: lvl.InternalItemName,
				OnHand:           lvl.OnHand(),
				ReorderPoint:     intOrZero(lvl.ReorderPoint),
			})
		}
	}
	return alerts, nil
}

func (e *AlertEvaluator) program(expr string) (cel.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, ok := e.programs[expr]; ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, err
	}
	e.programs[expr] = prg
	return prg, nil
}

func evalBool(prg cel.Program, lvl *store.StockLevel) (bool, error) {
	totalValue, _ := lvl.TotalValue.Float64()
	out, _, err := prg.Eval(map[string]any{
		"part_number":        lvl.PartNumber,
		"internal_item_name": lvl.InternalItemName,
		"priority":           strOrEmpty(lvl.Priority),
		"current_stock":      lvl.CurrentStock,
		"manual_adjustment":  lvl.ManualAdjustment,
		"on_hand":            lvl.OnHand(),
		"reorder_point":      intOrZero(lvl.ReorderPoint),
		"total_value":        totalValue,
	})
	if err != nil {
		return false, err
	}
	fired, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression is not boolean")
	}
	return fired, nil
}

func severityOr(s string) string {
	if s == "" {
		return "warning"
	}
	return s
}

func strOrEmpty(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func intOrZero(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
