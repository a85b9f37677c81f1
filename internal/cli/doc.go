// Package cli — команды операционного инструмента verger.
//
// В отличие от долгоживущих демонов, CLI подключается к Postgres и
// брокеру напрямую и выполняет одну операцию: создать или отменить
// workflow, посмотреть tasks, управлять workers и навыками, вручную
// назначить task. Без брокера назначение выполняется, но отправка
// откладывается до sweeper'а.
package cli
