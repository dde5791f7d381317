//go:build !cgo

package dolt

import (
	"context"
	"errors"

	"github.com/steveyegge/portalsync/internal/storage/sqlstore"
)

func openEmbedded(context.Context, *Config) (*sqlstore.Store, error) {
	return nil, errors.New("dolt: embedded mode requires a cgo build; use server mode or the sqlite backend")
}
