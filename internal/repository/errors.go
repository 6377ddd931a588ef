package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound covers both absent rows and rows owned by someone else;
	// callers must not be able to tell the two apart.
	ErrNotFound = errors.New("not found")
	// ErrAnalysisExists reports a second analysis for the same media file,
	// which the 1:1 design treats as a caller error.
	ErrAnalysisExists = errors.New("analysis already exists for media file")
	// ErrCertificateExists reports a concurrent issuance that lost the race.
	ErrCertificateExists = errors.New("certificate already exists for media file")
	// ErrKeyInvalid means no active key matches the presented hash.
	ErrKeyInvalid = errors.New("invalid api key")
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
