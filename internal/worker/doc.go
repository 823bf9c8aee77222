// Package worker выполняет планы действий.
//
// # Обзор
//
// Worker — движок выполнения Actionrun. Он отвечает за:
//
//   - Последовательный запуск стадий плана (RunPlan)
//   - Одновременный запуск всех шагов стадии (RunStage)
//   - Выполнение одного шага: гейт зависимостей, команда, лог-артефакт (RunStep)
//   - Учёт завершённых шагов в CompletionRegistry
//
// # Ключевые компоненты
//
// ## Executor
//
// Создаётся через New(cfg Config):
//
//	exec := worker.New(worker.Config{
//	    Artifacts: worker.DirStore{Dir: "step_logs"},
//	    Logger:    logger,
//	})
//
//	result, err := exec.RunPlan(ctx, plan)
//
// ## CompletionRegistry
//
// Множество имён шагов, завершивших попытку выполнения. Один реестр на run.
// Гейты ждут сигнальные каналы реестра и просыпаются сразу после отметки.
//
// ## CommandRunner
//
// Интерфейс для выполнения команды. ShellRunner запускает `/bin/sh -c <command>`
// и захватывает stdout и stderr раздельно.
//
// ## ArtifactStore
//
// Хранилище лог-артефактов. DirStore пишет по одному файлу на шаг:
//
//	Step: <name>
//	Stage: <stage>
//	Start: <timestamp>
//
//	<stdout>
//	ERROR:            (только при непустом stderr)
//	<stderr>
//	End: <timestamp>
//
// # Ошибки
//
// Код выхода команды ошибкой не считается: шаг с ненулевым кодом попадает
// в реестр и разблокирует зависимые шаги. *StepExecutionError возвращается
// только при сбое раннера (артефакт, запуск процесса). Такой шаг в реестр
// не попадает, ошибка поднимается через RunStage в RunPlan и останавливает
// следующие стадии.
//
// Зависимость на имя, которое никогда не будет выполнено, блокирует шаг
// навсегда: таймаутов и детектора дедлоков нет.
package worker
