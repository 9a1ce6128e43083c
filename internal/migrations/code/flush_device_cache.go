package code

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/devicehive/devicehive-server/internal/storage"
)

// FlushDeviceCache removes every cached device from Redis. It is needed
// when the cached device encoding changes between releases.
func FlushDeviceCache(db sqlx.Ext) error {
	var guids []string
	if err := sqlx.Select(db, &guids, `select guid from device`); err != nil {
		return errors.Wrap(err, "select device guids error")
	}

	for len(guids) > 0 {
		n := len(guids)
		if n > 500 {
			n = 500
		}
		if err := storage.FlushDeviceCache(context.Background(), guids[:n]...); err != nil {
			return errors.Wrap(err, "flush device cache error")
		}
		guids = guids[n:]
	}

	log.Info("migrations/code: device cache flushed")
	return nil
}
