package postgres

import "powerdash/internal/storage"

func init() {
	// registers the dynamic-table backend factory
	storage.Register(Kind, New)
}
