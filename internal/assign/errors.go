package assign

import "errors"

// Ошибки назначения.
var (
	// ErrNoEligibleWorkers — нет workers, покрывающих требуемые навыки.
	ErrNoEligibleWorkers = errors.New("no eligible workers")

	// ErrAllReservationsFailed — все попытки резервирования проиграли гонку.
	ErrAllReservationsFailed = errors.New("all capacity reservations failed")

	// ErrUnknownStrategy — запрошена неизвестная стратегия.
	ErrUnknownStrategy = errors.New("unknown assignment strategy")

	// ErrWorkerNotEligible — указанный вручную worker не проходит eligibility.
	ErrWorkerNotEligible = errors.New("worker not eligible for task")

	// ErrTaskNotAssignable — task не в статусе, допускающем назначение.
	ErrTaskNotAssignable = errors.New("task does not allow assignment")
)
