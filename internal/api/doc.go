// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go      — Handler с DI (оркестратор, чтение логов, logger)
//   - routes.go       — регистрация маршрутов
//   - middleware.go   — middleware (logging, recovery, метрики запросов)
//   - response.go     — унифицированные JSON-ответы и обработка ошибок
//   - dto.go          — Data Transfer Objects (request/response)
//   - plan_handler.go — обработчики для /run-action-plan/ и /plans
//
// POST /run-action-plan/ отвечает сразу после приёма плана:
// план выполняется в фоне, его статус доступен по /api/v1/plans/{id}.
package api
