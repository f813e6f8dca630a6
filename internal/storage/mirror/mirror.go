// Package mirror composes a primary shadow.Storage with an optional
// cold-archival secondary, exactly the pairing s3store's own package
// doc names ("wrap it behind a Mirror alongside a sqlitestore.Store
// for the primary read/write path").
package mirror

import (
	"context"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/nodefabric/shadowd/internal/shadow"
)

// Store reads from and writes to Primary, additionally best-effort
// mirroring every write to Secondary when one is configured. Secondary
// failures are logged, never returned: archival is a convenience, not
// a correctness requirement for the live shadow.
type Store struct {
	Primary   shadow.Storage
	Secondary shadow.Storage
}

// New returns a Store over primary, optionally mirroring to secondary.
// secondary may be nil, in which case Store behaves exactly like
// primary alone.
func New(primary, secondary shadow.Storage) *Store {
	return &Store{Primary: primary, Secondary: secondary}
}

// Load always reads from Primary; Secondary is write-only from this
// Store's perspective, a rehydration source for operators rather than
// a fallback read path.
func (s *Store) Load(ctx context.Context, node shadow.NodeId, path shadow.ClusterPath) (shadow.ClusterData, bool, error) {
	return s.Primary.Load(ctx, node, path)
}

// Store writes to Primary, then mirrors to Secondary if one is set.
func (s *Store) Store(ctx context.Context, node shadow.NodeId, clusters map[shadow.ClusterPath]shadow.ClusterData) error {
	if err := s.Primary.Store(ctx, node, clusters); err != nil {
		return err
	}
	if s.Secondary == nil {
		return nil
	}
	if err := s.Secondary.Store(ctx, node, clusters); err != nil {
		cclog.Warnf("mirror: secondary archive write failed for node %d: %v", node, err)
	}
	return nil
}
