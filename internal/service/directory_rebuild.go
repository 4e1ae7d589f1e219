package service

import (
	"context"

	"go.uber.org/zap"
)

// DefaultRebuildBatch is the page size used when none is given.
const DefaultRebuildBatch = 1000

// RebuildStats summarizes a directory rebuild.
type RebuildStats struct {
	Scanned int `json:"scanned"`
	Listed  int `json:"listed"`
	Pages   int `json:"pages"`
}

// RebuildDirectory walks every stored account in number order and applies
// the same directory update create and update use.  It is an operator tool
// for repairing a lost or diverged index and is never scheduled.  It stops
// at the first failed page or directory write.
func (m *AccountsManager) RebuildDirectory(ctx context.Context, batch int) (RebuildStats, error) {
	if batch <= 0 {
		batch = DefaultRebuildBatch
	}
	var (
		stats  RebuildStats
		cursor string
	)
	for {
		page, err := m.PageFrom(ctx, cursor, batch)
		if err != nil {
			return stats, err
		}
		stats.Pages++
		for _, a := range page {
			if err := m.updateDirectory(ctx, a); err != nil {
				return stats, err
			}
			stats.Scanned++
			if a.IsActiveAt(m.now()) {
				stats.Listed++
			}
		}
		if len(page) < batch {
			m.log.Info("directory rebuild finished",
				zap.Int("scanned", stats.Scanned),
				zap.Int("listed", stats.Listed),
				zap.Int("pages", stats.Pages))
			return stats, nil
		}
		cursor = page[len(page)-1].Number
	}
}
