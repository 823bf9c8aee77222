package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/Actionrun/internal/domain"
)

// Format — формат описания плана.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath определяет формат по расширению файла.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
}

// ParsePlan разбирает план из JSON или YAML.
// Неизвестные поля игнорируются. Разобранный план не валидируется — для этого есть Validate.
func ParsePlan(data []byte, format Format) (*domain.ActionPlan, error) {
	var plan domain.ActionPlan

	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &plan); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrParse, err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &plan); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrParse, err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}

	return &plan, nil
}

// ParsePlanFile читает и разбирает файл плана. Формат — по расширению.
func ParsePlanFile(path string) (*domain.ActionPlan, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}

	return ParsePlan(data, format)
}

// Validate выполняет структурную валидацию ActionPlan.
//
// Проверяет:
// - Наличие имени и стадий
// - Имена стадий и шагов
// - Уникальность имён шагов в рамках всего плана
// - Наличие команды
// - Отсутствие зависимости шага от самого себя
//
// Ссылки depends_on на несуществующие шаги НЕ считаются ошибкой:
// такой шаг просто никогда не стартует. Их находит Analyze.
func Validate(plan *domain.ActionPlan) error {
	if plan == nil || len(plan.Stages) == 0 {
		return NewValidationError("", "", "stages", "action plan has no stages", ErrEmptyStages)
	}

	if strings.TrimSpace(plan.Name) == "" {
		return NewValidationError("", "", "action_plan_name", "action plan has empty name", ErrEmptyPlanName)
	}

	stepNames := make(map[string]bool)

	for i := range plan.Stages {
		stage := &plan.Stages[i]

		if strings.TrimSpace(stage.Name) == "" {
			return NewValidationError("", "", "name",
				fmt.Sprintf("stage #%d has empty name", i+1), ErrEmptyStageName)
		}

		for j := range stage.Steps {
			if err := ValidateStep(stage.Name, &stage.Steps[j], stepNames); err != nil {
				return err
			}
		}
	}

	return nil
}

// ValidateStep валидирует один шаг.
// stepNames — уже встреченные имена шагов (для проверки уникальности).
func ValidateStep(stage string, step *domain.Step, stepNames map[string]bool) error {
	if strings.TrimSpace(step.Name) == "" {
		return NewValidationError(stage, "", "name", "step has empty name", ErrEmptyStepName)
	}

	if stepNames[step.Name] {
		return NewValidationError(stage, step.Name, "name",
			fmt.Sprintf("duplicate step name: %s", step.Name), ErrDuplicateStepName)
	}
	stepNames[step.Name] = true

	if strings.TrimSpace(step.Command) == "" {
		return NewValidationError(stage, step.Name, "command", "step has empty command", ErrEmptyCommand)
	}

	for _, dep := range step.DependsOn {
		if dep == step.Name {
			return NewValidationError(stage, step.Name, "depends_on",
				"step depends on itself", ErrSelfDependency)
		}
	}

	return nil
}
