// Package mq — обмен сообщениями с исполнителями через RabbitMQ.
//
// Оркестратор публикует назначенные task в очередь диспетчеризации,
// приложения исполнителей возвращают события жизненного цикла
// (started, heartbeat, result) в очередь результатов. Корреляция
// по correlation_id, присвоенному task при создании.
//
// Соединение переподключается автоматически; consumers перезапускают
// потребление после reconnect. Сообщения, которые не удалось
// разобрать, уходят в DLQ без requeue.
package mq
