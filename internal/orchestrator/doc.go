// Package orchestrator принимает планы действий и ведёт записи о их выполнении.
//
// Orchestrator отвечает за:
//   - Приём плана и немедленный ответ с ID run (Submit)
//   - Фоновое выполнение в этом процессе или отправку воркеру через RabbitMQ
//   - Выполнение отправленных runs воркером (Execute, consumer plans.submitted)
//   - Учёт статуса run и каждого шага (Observer исполнителя)
//   - Запросы статуса и удаление завершённых записей (Get, List, Wait, Reap)
//   - Очистку устаревших записей по сроку хранения (Sweep)
//
// Ошибка выполнения плана не теряется: она записывается в run
// (Status FAILED, FailedStep, Error) и публикуется событием plan.finished.
package orchestrator
