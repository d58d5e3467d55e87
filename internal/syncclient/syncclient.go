// Package syncclient coordinates a local vault with a sync server:
// pull every server record, keep the newer version of each, then push the
// local state back. Conflict resolution is last-writer-wins by the
// monotonic record version.
package syncclient

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/passmgr-tool/passmgr/internal/logging"
	"github.com/passmgr-tool/passmgr/internal/store"
	"github.com/passmgr-tool/passmgr/internal/syncrpc"
)

// Coordinator drives one vault's synchronization.
type Coordinator struct {
	db     *store.UserDB
	client *syncrpc.Client
	log    *slog.Logger
}

// Summary reports what one Run changed.
type Summary struct {
	Pulled    int // records adopted from the server
	Pushed    int // records uploaded
	Unchanged int // records already in agreement
}

// New builds a coordinator over an open vault and connected client.
func New(db *store.UserDB, client *syncrpc.Client, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Coordinator{
		db:     db,
		client: client,
		log:    logger.With(logging.KeyComponent, "sync"),
	}
}

// Run executes one full pull/merge/push cycle. It refreshes the nonce
// first: a reconnect or an earlier failed call may have left the local
// counter behind the server's.
func (c *Coordinator) Run(ctx context.Context) (*Summary, error) {
	if err := c.client.RefreshNonce(ctx); err != nil {
		return nil, fmt.Errorf("refresh nonce: %w", err)
	}

	sum := &Summary{}

	// Pull: adopt anything newer than (or absent from) the local vault.
	serverRecords, err := c.client.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("pull: %w", err)
	}

	localVers := make(map[uint64]uint64)
	metas, err := c.db.ListMeta()
	if err != nil {
		return nil, err
	}
	for _, m := range metas {
		localVers[m.ID] = m.Ver
	}

	for _, cr := range serverRecords {
		localVer, exists := localVers[cr.RecordID]
		switch {
		case !exists:
			if err := c.db.StoreCipherRecord(cr); err != nil {
				return nil, fmt.Errorf("adopt record %d: %w", cr.RecordID, err)
			}
			sum.Pulled++
			localVers[cr.RecordID] = cr.Ver
		case cr.Ver > localVer:
			if err := c.db.StoreCipherRecord(cr); err != nil {
				return nil, fmt.Errorf("overwrite record %d: %w", cr.RecordID, err)
			}
			sum.Pulled++
			localVers[cr.RecordID] = cr.Ver
		default:
			sum.Unchanged++
		}
	}

	// Push: upload the merged local state. Signed calls are sequential;
	// each success advances the shared nonce in lockstep with the server.
	ids, err := c.db.ListIDs()
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		cr, err := c.db.ReadCipherRecord(id)
		if err != nil {
			return nil, fmt.Errorf("read record %d: %w", id, err)
		}
		if err := c.client.SetOne(ctx, cr); err != nil {
			return nil, fmt.Errorf("push record %d: %w", id, err)
		}
		sum.Pushed++
	}

	c.log.Info("sync complete",
		"pulled", sum.Pulled,
		"pushed", sum.Pushed,
		"unchanged", sum.Unchanged)
	return sum, nil
}

// Restore pulls every server record into an empty local vault without
// pushing anything back. Used by the restore-from-server flow.
func (c *Coordinator) Restore(ctx context.Context) (int, error) {
	if err := c.client.RefreshNonce(ctx); err != nil {
		return 0, fmt.Errorf("refresh nonce: %w", err)
	}

	serverRecords, err := c.client.GetAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("pull: %w", err)
	}
	for _, cr := range serverRecords {
		if err := c.db.StoreCipherRecord(cr); err != nil {
			return 0, fmt.Errorf("restore record %d: %w", cr.RecordID, err)
		}
	}
	return len(serverRecords), nil
}
