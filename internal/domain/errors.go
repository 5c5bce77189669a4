package domain

import "errors"

var (
	// ErrNotFound запрошенный ресурс отсутствует.
	ErrNotFound = errors.New("not found")
	// ErrValidation некорректный ввод клиента.
	ErrValidation = errors.New("validation failed")
)
