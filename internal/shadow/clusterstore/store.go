// Package clusterstore implements the cluster data store (C1): the
// in-memory plus persisted map of (endpoint, cluster) to data version
// and attribute values that feeds subscription filter construction and
// decides what gets persisted.
//
// The eviction policy for the persisted half of the cache is borrowed
// from an LRU, the same shape cc-backend uses for its metric-query
// cache, because paging clusters back in from storage on a cache miss
// is cheap and the working set of "hot" clusters is small relative to
// a large fabric.
package clusterstore

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nodefabric/shadowd/internal/shadow"
)

// descriptorClusterID is the fixed Descriptor cluster used for the
// configuration-attribute allow-list below.
const descriptorClusterID = shadow.ClusterId(0x001D)

const (
	attrPartsList       = shadow.AttributeId(0x0001)
	attrServerList      = shadow.AttributeId(0x0007)
	attrDeviceTypeList  = shadow.AttributeId(0x0000)
	attrAcceptedCmdList = shadow.AttributeId(0xFFF9)
	attrAttributeList   = shadow.AttributeId(0xFFFB)
	attrClusterRevision = shadow.AttributeId(0xFFFD)
	attrFeatureMap      = shadow.AttributeId(0xFFFC)
)

// IsConfigurationAttribute reports whether a change to this attribute
// is flagged "affects device configuration" (spec §4.1): a fixed
// allow-list of Descriptor-cluster attributes plus the fixed set of
// global attributes present on every cluster.
func IsConfigurationAttribute(path shadow.AttributePath) bool {
	switch path.Attribute {
	case attrAcceptedCmdList, attrAttributeList, attrClusterRevision, attrFeatureMap:
		return true
	}
	if path.Cluster == descriptorClusterID {
		switch path.Attribute {
		case attrPartsList, attrServerList, attrDeviceTypeList:
			return true
		}
	}
	return false
}

// maxPersistedClusters bounds the persisted half of the cache; clusters
// evicted from it are simply re-paged from storage on the next Get,
// provided their path is a known persisted key.
const maxPersistedClusters = 512

// Store is one device's cluster data store. It is not safe to share
// across devices; each Device owns exactly one.
type Store struct {
	mu sync.Mutex

	node    shadow.NodeId
	storage shadow.Storage

	dirty              map[shadow.ClusterPath]shadow.ClusterData
	persisted          *lru.Cache[shadow.ClusterPath, shadow.ClusterData]
	knownPersistedKeys map[shadow.ClusterPath]struct{}
}

// New returns an empty store for node, backed by storage. storage may
// be nil, in which case flushes are skipped (spec §4.1 "only if ...
// storage is configured").
func New(node shadow.NodeId, storage shadow.Storage) *Store {
	persisted, err := lru.New[shadow.ClusterPath, shadow.ClusterData](maxPersistedClusters)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// maxPersistedClusters never is.
		panic(err)
	}
	return &Store{
		node:               node,
		storage:            storage,
		dirty:              make(map[shadow.ClusterPath]shadow.ClusterData),
		persisted:          persisted,
		knownPersistedKeys: make(map[shadow.ClusterPath]struct{}),
	}
}

// LoadPersisted seeds the store with a cluster already known to exist
// in storage, without marking it dirty. Used at startup to warm the
// cache from a prior session.
func (s *Store) LoadPersisted(path shadow.ClusterPath, data shadow.ClusterData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persisted.Add(path, data.Clone())
	s.knownPersistedKeys[path] = struct{}{}
}

// Get returns the dirty value if present, else the persisted value
// (paging from storage first if path is a known persisted key that
// fell out of the bounded cache). It never fabricates a default.
func (s *Store) Get(ctx context.Context, path shadow.AttributePath) (shadow.DataValue, bool) {
	cp := path.Path()

	s.mu.Lock()
	if cd, ok := s.dirty[cp]; ok {
		v, ok := cd.Attributes[path.Attribute]
		s.mu.Unlock()
		return v, ok
	}
	if cd, ok := s.persisted.Get(cp); ok {
		v, ok := cd.Attributes[path.Attribute]
		s.mu.Unlock()
		return v, ok
	}
	_, known := s.knownPersistedKeys[cp]
	storage := s.storage
	s.mu.Unlock()

	if !known || storage == nil {
		return shadow.DataValue{}, false
	}

	cd, found, err := storage.Load(ctx, s.node, cp)
	if err != nil || !found {
		return shadow.DataValue{}, false
	}

	s.mu.Lock()
	s.persisted.Add(cp, cd)
	s.mu.Unlock()

	v, ok := cd.Attributes[path.Attribute]
	return v, ok
}

// Set writes into the dirty map, creating a ClusterData if none
// exists yet. It never flushes.
func (s *Store) Set(path shadow.AttributePath, value shadow.DataValue) {
	cp := path.Path()
	s.mu.Lock()
	defer s.mu.Unlock()
	cd, ok := s.dirty[cp]
	if !ok {
		if base, ok := s.persisted.Get(cp); ok {
			cd = base.Clone()
		} else {
			cd = shadow.ClusterData{Attributes: make(map[shadow.AttributeId]shadow.DataValue)}
		}
	}
	cd.Attributes[path.Attribute] = value
	s.dirty[cp] = cd
}

// NoteDataVersion updates a cluster's data version. Any change marks
// the cluster dirty.
func (s *Store) NoteDataVersion(cp shadow.ClusterPath, v shadow.DataVersion) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cd, ok := s.dirty[cp]
	if !ok {
		if base, ok := s.persisted.Get(cp); ok {
			if base.DataVersion != nil && *base.DataVersion == v {
				return
			}
			cd = base.Clone()
		} else {
			cd = shadow.ClusterData{Attributes: make(map[shadow.AttributeId]shadow.DataValue)}
		}
	} else if cd.DataVersion != nil && *cd.DataVersion == v {
		return
	}
	cd.DataVersion = &v
	s.dirty[cp] = cd
}

// SnapshotDirty returns a deep copy of the dirty clusters, safe to
// hand to storage.
func (s *Store) SnapshotDirty() map[shadow.ClusterPath]shadow.ClusterData {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[shadow.ClusterPath]shadow.ClusterData, len(s.dirty))
	for k, v := range s.dirty {
		out[k] = v.Clone()
	}
	return out
}

// Dirty reports whether there is anything to flush.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dirty) > 0
}

// FlushTo persists the dirty set through storage. On success, dirty
// entries are merged into persisted, their keys are added to
// knownPersistedKeys, and dirty is cleared. On failure dirty is left
// intact (spec §7) so nothing already cached is lost.
func (s *Store) FlushTo(ctx context.Context, storage shadow.Storage) error {
	snapshot := s.SnapshotDirty()
	if len(snapshot) == 0 || storage == nil {
		return nil
	}

	if err := storage.Store(ctx, s.node, snapshot); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for cp, cd := range snapshot {
		// Only clear entries that are unchanged since the snapshot was
		// taken; a concurrent Set/NoteDataVersion between snapshot and
		// here must survive the flush.
		if cur, ok := s.dirty[cp]; ok && cur.Equal(cd) {
			delete(s.dirty, cp)
		}
		s.persisted.Add(cp, cd)
		s.knownPersistedKeys[cp] = struct{}{}
	}
	return nil
}

// FlushIfDirty flushes the dirty set through the store's own configured
// storage, but only if there is anything dirty and storage is
// configured (spec §4.1 "Persistence trigger"). A nil storage or an
// empty dirty set is a no-op, not an error.
func (s *Store) FlushIfDirty(ctx context.Context) error {
	s.mu.Lock()
	storage := s.storage
	s.mu.Unlock()
	if storage == nil {
		return nil
	}
	return s.FlushTo(ctx, storage)
}

// DataVersionMap returns the union of dirty and persisted cluster
// versions, fueling subscription filter construction.
func (s *Store) DataVersionMap() map[shadow.ClusterPath]shadow.DataVersion {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[shadow.ClusterPath]shadow.DataVersion, len(s.dirty)+s.persisted.Len())
	for _, cp := range s.persisted.Keys() {
		if cd, ok := s.persisted.Peek(cp); ok && cd.DataVersion != nil {
			out[cp] = *cd.DataVersion
		}
	}
	for cp, cd := range s.dirty {
		if cd.DataVersion != nil {
			out[cp] = *cd.DataVersion
		}
	}
	return out
}

// IngestBatch applies a batch of (path, value-or-error) results from
// the node to the store, implementing the delta-report algorithm of
// spec §4.1: errors clear the cached entry and report the prior value
// as Previous; unchanged values are filtered out. Entries carry no
// data version, and IngestBatch leaves cluster data versions as they
// are (NoteDataVersion is the only setter). It returns
// the outbound reports and whether any configuration-affecting
// attribute changed.
func (s *Store) IngestBatch(entries []shadow.AttributeReport) ([]shadow.AttributeReport, bool) {
	var reports []shadow.AttributeReport
	configChanged := false
	for _, entry := range entries {
		prevVal, hadPrev := s.Get(context.Background(), entry.Path)
		var previous *shadow.DataValue
		if hadPrev {
			p := prevVal
			previous = &p
		}

		if entry.Err != nil {
			s.clear(entry.Path)
			reports = append(reports, shadow.AttributeReport{
				Path: entry.Path, Previous: previous, Err: entry.Err,
			})
			continue
		}

		if hadPrev && prevVal.Equal(entry.Value) {
			continue
		}

		s.Set(entry.Path, entry.Value)
		if IsConfigurationAttribute(entry.Path) {
			configChanged = true
		}
		reports = append(reports, shadow.AttributeReport{
			Path: entry.Path, Value: entry.Value, Previous: previous,
		})
	}
	return reports, configChanged
}

func (s *Store) clear(path shadow.AttributePath) {
	cp := path.Path()
	s.mu.Lock()
	defer s.mu.Unlock()
	if cd, ok := s.dirty[cp]; ok {
		delete(cd.Attributes, path.Attribute)
		s.dirty[cp] = cd
	}
	if cd, ok := s.persisted.Peek(cp); ok {
		delete(cd.Attributes, path.Attribute)
		s.persisted.Add(cp, cd)
	}
}
