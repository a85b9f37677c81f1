// Package orchestrator — координация жизненного цикла workflow и tasks.
//
// Orchestrator — единственный писатель переходов статусов. Он создаёт
// workflow с пакетом tasks, назначает исполнителей через assign.Engine,
// отправляет назначенные tasks в execution substrate и принимает
// события жизненного цикла (started, heartbeat, result) из очереди
// результатов. Повторные события того же исхода идемпотентны: переход
// защищён условным UPDATE, проигравший — no-op.
//
// Статус workflow — производная от статусов tasks и пересчитывается
// после каждого терминального перехода task. FAILED task с
// неизрасходованными retry не считается терминальным для агрегации.
package orchestrator
