package risk

import (
	"fmt"

	"escrowflow/internal/models"
)

// EvalFunc чистая функция правила: событие и история только на чтение
type EvalFunc func(ev *models.NormalizedEvent, h HistoryView) ([]models.AlertEvent, error)

// Rule правило с идентификатором и уровнем важности
type Rule struct {
	ID       string
	Severity models.Severity
	Eval     EvalFunc
}

// Registry правила в порядке регистрации
type Registry struct {
	rules []Rule
	ids   map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{ids: make(map[string]struct{})}
}

// Register добавляет правило; идентификаторы уникальны
func (r *Registry) Register(rule Rule) error {
	if rule.ID == "" || rule.Eval == nil {
		return fmt.Errorf("rule must have id and eval func")
	}
	if _, ok := r.ids[rule.ID]; ok {
		return fmt.Errorf("rule %q already registered", rule.ID)
	}
	r.ids[rule.ID] = struct{}{}
	r.rules = append(r.rules, rule)
	return nil
}

func (r *Registry) MustRegister(rule Rule) {
	if err := r.Register(rule); err != nil {
		panic(err)
	}
}

func (r *Registry) Rules() []Rule {
	return append([]Rule(nil), r.rules...)
}

func (r *Registry) Len() int { return len(r.rules) }
