// Package cli реализует инструмент командной строки Actionrun.
//
// # Обзор
//
// CLI отправляет планы действий в Actionrun API, показывает статус
// runs и лог-артефакты шагов. Команды lint и exec работают без сервера:
// разбирают файл плана и выполняют его в этом же процессе.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для Actionrun API. Инкапсулирует HTTP-запросы,
// парсинг ответов (DataResponse, ListResponse, ErrorResponse)
// и обработку ошибок. internal/api не импортирует.
//
//	client := cli.NewClient("http://localhost:8080")
//	runs, err := client.ListPlans(ctx, cli.ListPlansOpts{Status: "FAILED"})
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.MarshalIndent) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Warn/Error) — в stderr.
// Это позволяет использовать pipe: actionrun plan list --json | jq .
//
// ## Commands
//
// Группа plan: submit, list, show, reap, logs, lint, exec.
// Группа создаётся через NewPlanCmd, принимающую clientFn и outputFn —
// замыкания для ленивого создания Client и Output после парсинга
// PersistentFlags.
package cli
