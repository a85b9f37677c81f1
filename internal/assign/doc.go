// Package assign выбирает исполнителя для task.
//
// Engine ранжирует eligible workers одной из взаимозаменяемых стратегий
// (skill_match, workload_balance, random, ai_match, manual) и
// транзакционно резервирует ёмкость победителя: резервирование идёт
// только после ранжирования, а проигранная гонка за ёмкость ведёт к
// следующему кандидату в ранге, до небольшого лимита попыток.
//
// Ёмкость и eligibility всегда проверяются локально — внешнему
// ранжировщику (ai_match) это не доверяется.
package assign
