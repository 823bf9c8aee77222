// Package engine содержит разбор и статический анализ планов действий.
//
// Включает:
//   - parser.go — разбор ActionPlan из JSON и YAML, структурная валидация
//   - dag.go    — построение графа зависимостей и поиск шагов, которые никогда не стартуют
//
// Engine не выполняет планы: это делает пакет worker. Validate отклоняет
// только структурно некорректные планы, а Analyze лишь предупреждает
// о зависимостях, которые заблокируют исполнитель навсегда.
package engine
