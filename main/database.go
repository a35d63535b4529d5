// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"github.com/prometheus/client_golang/prometheus"

	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/leveldb"
	"github.com/ava-labs/avalanchego/database/memdb"
	"github.com/ava-labs/avalanchego/utils/logging"

	"github.com/sidechain-labs/sscvm/config"
	"github.com/sidechain-labs/sscvm/sscvm"
)

// openDatabase opens the leveldb store in the configured directory, or an
// in-memory store when no directory is set.
func openDatabase(cfg *config.Config) (database.Database, error) {
	if cfg.DBDir == "" {
		log.Warn("no database directory set: state will not survive a restart")
		return memdb.New(), nil
	}
	log.Info("opening database", "dir", cfg.DBDir)
	return leveldb.New(cfg.DBDir, nil, logging.NoLog{}, sscvm.Name, prometheus.NewRegistry())
}
