// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — соединение с автоматическим reconnect
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений
//   - consumer.go   — потребление сообщений несколькими горутинами
//
// Типы сообщений:
//   - plan.submitted — run ожидает выполнения воркером
//   - step.completed — шаг завершил попытку выполнения
//   - plan.finished  — run перешёл в SUCCEEDED или FAILED
//
// Exchanges:
//   - actionrun.plans  — отправка планов воркерам
//   - actionrun.events — события жизненного цикла (topic)
//   - actionrun.dlq    — dead letter queue
package mq
