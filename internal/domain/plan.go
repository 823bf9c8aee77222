package domain

import "encoding/json"

// ActionPlan — декларативный план действий.
//
// План — это упорядоченный список стадий. Стадии выполняются строго
// по порядку, шаги внутри стадии запускаются одновременно.
// После отправки план не изменяется.
type ActionPlan struct {
	// Name — имя плана (используется в ответе API и в логах).
	Name string `json:"action_plan_name" yaml:"action_plan_name"`

	// Stages — стадии в порядке выполнения.
	Stages []Stage `json:"stages" yaml:"stages"`
}

// Stage — группа шагов, запускаемых вместе.
//
// Порядок шагов внутри стадии не влияет на порядок выполнения:
// все шаги стартуют одновременно, частичный порядок задаётся только через DependsOn.
type Stage struct {
	// Name — имя стадии (пишется в лог-артефакт каждого шага).
	Name string `json:"name" yaml:"name"`

	// Steps — шаги стадии.
	Steps []Step `json:"steps" yaml:"steps"`
}

// Step — отдельный вызов команды.
type Step struct {
	// Name — имя шага, уникальное в рамках плана.
	Name string `json:"name" yaml:"name"`

	// Command — строка команды, выполняется через shell хоста.
	Command string `json:"command" yaml:"command"`

	// DependsOn — имена шагов, которые должны завершиться до старта этого шага.
	// Может ссылаться на шаги той же стадии или предыдущих.
	// Ссылка на несуществующий шаг не проверяется — такой шаг никогда не стартует.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// planAlias нужен, чтобы UnmarshalJSON не уходил в рекурсию.
type planAlias ActionPlan

// UnmarshalJSON принимает "name" как синоним "action_plan_name".
func (p *ActionPlan) UnmarshalJSON(data []byte) error {
	var raw struct {
		planAlias
		AltName string `json:"name"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*p = ActionPlan(raw.planAlias)
	if p.Name == "" {
		p.Name = raw.AltName
	}
	return nil
}

// StepCount возвращает общее количество шагов во всех стадиях.
func (p *ActionPlan) StepCount() int {
	n := 0
	for _, stage := range p.Stages {
		n += len(stage.Steps)
	}
	return n
}

// FindStep ищет шаг по имени. Возвращает стадию, шаг и признак наличия.
func (p *ActionPlan) FindStep(name string) (Stage, Step, bool) {
	for _, stage := range p.Stages {
		for _, step := range stage.Steps {
			if step.Name == name {
				return stage, step, true
			}
		}
	}
	return Stage{}, Step{}, false
}
