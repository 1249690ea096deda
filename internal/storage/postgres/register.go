package postgres

import "elt/internal/storage"

func init() {
	storage.Register("postgres", New)
}
