package rating

import "errors"

// Ошибки доменного пакета rating.
var (
	// ErrEmptyGameCode - пустой код игры.
	ErrEmptyGameCode = errors.New("rating: game code cannot be empty")

	// ErrBadUserID - неположительный идентификатор пользователя.
	ErrBadUserID = errors.New("rating: user id must be positive")

	// ErrZeroPlayedAt - отсутствует дата игры.
	ErrZeroPlayedAt = errors.New("rating: played_at is required")

	// ErrNilLedger - калькулятору не передан журнал.
	ErrNilLedger = errors.New("rating: ledger writer is nil")
)
