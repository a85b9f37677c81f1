// Package telemetry — structured logging и метрики.
//
// Логирование строится на log/slog: уровень и формат берутся из
// LOG_LEVEL и LOG_FORMAT. Метрики — prometheus counters/histograms,
// отдаются через /metrics в main каждого бинаря.
package telemetry
