package middleware

import "github.com/medevac/medevac/internal/platform/apperr"

func statusOf(err error) int {
	return apperr.StatusOf(err)
}
