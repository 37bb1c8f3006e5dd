// Package pricing implements the price service (spec §4.6, C6): it
// validates extracted observations, upserts items by game-id, inserts
// price entries one at a time, and keeps the item/latest-price
// caches coherent with the store.
package pricing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/hdvpipeline/internal/cache"
	"github.com/sawpanic/hdvpipeline/internal/protocol"
	"github.com/sawpanic/hdvpipeline/internal/storage"
)

// BatchFailure reports a processBatch where every input failed; Persisted
// counts successful entries, Failed counts inputs that raised an error.
type BatchFailure struct {
	Persisted int
	Failed    int
}

func (e *BatchFailure) Error() string {
	return fmt.Sprintf("pricing: batch failed entirely (persisted=%d failed=%d)", e.Persisted, e.Failed)
}

// Service is the C6 price service.
type Service struct {
	items         storage.ItemsRepo
	prices        storage.PriceEntriesRepo
	subCategories storage.SubCategoriesRepo

	itemCache       *cache.TTLCache
	latestPrice     *cache.TTLCache
	itemsWithPrices *cache.TTLCache

	parser *protocol.Parser

	txTimeout   time.Duration
	dedupWindow time.Duration

	dedupMu  sync.Mutex
	lastSeen map[string]dedupRecord
}

// ItemWithPrices is the combined read the itemsWithPrices cache serves:
// an item's catalogue row alongside its latest price at each tier.
type ItemWithPrices struct {
	Item   storage.Item
	Latest map[int32]*storage.PriceEntry // keyed by quantity tier
}

// dedupRecord remembers the last observed price for a gid/quantity pair
// so an identical observation arriving again inside dedupWindow never
// reaches the store at all. This is distinct from the three named read
// caches in spec §4.9: it exists purely to suppress duplicate writes,
// not to serve reads.
type dedupRecord struct {
	price      int64
	observedAt time.Time
}

// New builds a price service. itemCache is keyed by gid; latestPrice is
// keyed by "gid:quantity" (spec §4.9). dedupWindow is the soft-dedup
// horizon (spec §3/§6): an observation identical to the last price this
// service persisted for its gid/quantity within this window is treated
// as a benign duplicate without round-tripping to the store. The store's
// unique index (minute-truncated) is the hard backstop for entries that
// this in-service record does not cover, e.g. after a restart. ids and
// maxDecompressionRatio configure the parser (spec §6 protocol.*); the
// parser itself holds no state across calls, so one instance is built
// here and reused for every ProcessPacket.
func New(items storage.ItemsRepo, prices storage.PriceEntriesRepo, subCategories storage.SubCategoriesRepo, itemCache, latestPrice, itemsWithPrices *cache.TTLCache, txTimeout, dedupWindow time.Duration, ids protocol.MessageIDs, maxDecompressionRatio int) *Service {
	return &Service{
		items:           items,
		prices:          prices,
		subCategories:   subCategories,
		itemCache:       itemCache,
		latestPrice:     latestPrice,
		itemsWithPrices: itemsWithPrices,
		parser:          protocol.NewParser(ids, maxDecompressionRatio),
		txTimeout:       txTimeout,
		dedupWindow:     dedupWindow,
		lastSeen:        make(map[string]dedupRecord),
	}
}

// ProcessPacket implements spec §4.6 processPacket: parses raw, extracts
// observations from a price-carrying message, validates and persists
// each, and returns the count actually persisted (dedup conflicts don't
// count). A parse failure is returned as an error; the caller (consumer)
// drops the packet and continues.
func (s *Service) ProcessPacket(ctx context.Context, raw []byte) (int, error) {
	if len(raw) == 0 {
		return 0, nil
	}

	result := s.parser.Parse(raw)
	if result.Err != nil {
		return 0, fmt.Errorf("pricing: parse: %w", result.Err)
	}

	if result.Message == nil {
		return 0, nil
	}

	if result.Message.Kind == protocol.KindCategoryDescription {
		return 0, s.persistCategoryDescription(ctx, result.Message.CategoryDescription)
	}

	if result.Message.Kind != protocol.KindPriceList {
		return 0, nil
	}

	observations := protocol.ExtractObservations(result.Message.PriceList)
	if len(observations) == 0 {
		return 0, nil
	}
	return s.persist(ctx, observations)
}

// ProcessBatch folds ProcessPacket across raw inputs (spec §4.6); each
// packet is persisted on its own, with no outer transaction. Partial
// failure is tolerated; if every input fails, it raises BatchFailure.
func (s *Service) ProcessBatch(ctx context.Context, raws [][]byte) (int, error) {
	persisted := 0
	failed := 0
	for _, raw := range raws {
		n, err := s.ProcessPacket(ctx, raw)
		if err != nil {
			failed++
			log.Debug().Err(err).Msg("pricing: packet dropped")
			continue
		}
		persisted += n
	}
	if len(raws) > 0 && failed == len(raws) {
		return persisted, &BatchFailure{Persisted: persisted, Failed: failed}
	}
	return persisted, nil
}

// persist validates each observation, upserts its item, inserts its
// entry, and invalidates the touched gids' caches. Entries are inserted
// one at a time and are not wrapped in a store transaction, so an error
// part-way through leaves the packet's earlier entries persisted.
func (s *Service) persist(ctx context.Context, observations []protocol.PriceObservation) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	persisted := 0
	touched := make(map[int32]struct{})

	for _, obs := range observations {
		if !valid(obs) {
			log.Debug().Int32("gid", obs.ItemGid).Msg("pricing: validation failed, skipping observation")
			continue
		}

		if s.isDuplicate(obs) {
			continue
		}

		item, err := s.getOrCreateItem(ctx, obs.ItemGid, obs.Category)
		if err != nil {
			return persisted, fmt.Errorf("pricing: get or create item %d: %w", obs.ItemGid, err)
		}

		entry := storage.PriceEntry{
			ItemID:   item.ID,
			Price:    int64(obs.Price),
			Quantity: obs.Quantity,
		}
		err = s.prices.Insert(ctx, entry)
		if err != nil {
			if err == storage.ErrConflict {
				touched[obs.ItemGid] = struct{}{}
				continue
			}
			return persisted, fmt.Errorf("pricing: insert entry for gid %d: %w", obs.ItemGid, err)
		}
		persisted++
		touched[obs.ItemGid] = struct{}{}
		s.markSeen(obs)
	}

	for gid := range touched {
		s.evictItemCache(gid)
	}
	return persisted, nil
}

// isDuplicate reports whether obs repeats the last price seen for its
// gid/quantity within dedupWindow. A zero dedupWindow disables the
// check entirely, leaving dedup to the store's unique index alone.
func (s *Service) isDuplicate(o protocol.PriceObservation) bool {
	if s.dedupWindow <= 0 {
		return false
	}
	key := latestPriceKey(o.ItemGid, o.Quantity)
	s.dedupMu.Lock()
	defer s.dedupMu.Unlock()
	rec, ok := s.lastSeen[key]
	if !ok {
		return false
	}
	return rec.price == int64(o.Price) && time.Since(rec.observedAt) < s.dedupWindow
}

func (s *Service) markSeen(o protocol.PriceObservation) {
	if s.dedupWindow <= 0 {
		return
	}
	key := latestPriceKey(o.ItemGid, o.Quantity)
	s.dedupMu.Lock()
	s.lastSeen[key] = dedupRecord{price: int64(o.Price), observedAt: time.Now()}
	s.dedupMu.Unlock()
}

// persistCategoryDescription upserts the named category (spec §12
// subcategory supplement) and evicts any cached subcategory lookup so
// a renamed category is reflected on the next item creation.
func (s *Service) persistCategoryDescription(ctx context.Context, desc *protocol.CategoryDescription) error {
	if desc == nil || !desc.HasDescription {
		return nil
	}
	if _, err := s.subCategories.Upsert(ctx, desc.ObjectType, desc.Description); err != nil {
		return fmt.Errorf("pricing: upsert subcategory %d: %w", desc.ObjectType, err)
	}
	s.itemCache.Invalidate(subCategoryCacheKey(desc.ObjectType))
	return nil
}

// getOrCreateSubCategory resolves a category's row by its game-assigned
// dofus id, creating a placeholder-named row on first sight. Reuses the
// item cache under a distinct key prefix rather than adding a fourth
// named cache the spec doesn't enumerate.
func (s *Service) getOrCreateSubCategory(ctx context.Context, dofusID int32) (*storage.SubCategory, error) {
	if dofusID <= 0 {
		return nil, nil
	}
	key := subCategoryCacheKey(dofusID)
	v, err := s.itemCache.GetOrLoadJSON(key,
		func() interface{} { return &storage.SubCategory{} },
		func() (interface{}, error) {
			sub, err := s.subCategories.GetByDofusID(ctx, dofusID)
			if err == nil {
				return sub, nil
			}
			if err != storage.ErrNotFound {
				return nil, err
			}
			return s.subCategories.Upsert(ctx, dofusID, storage.PlaceholderCategoryName(dofusID))
		})
	if err != nil {
		return nil, err
	}
	return v.(*storage.SubCategory), nil
}

func subCategoryCacheKey(dofusID int32) string {
	return fmt.Sprintf("subcat:%d", dofusID)
}

func valid(o protocol.PriceObservation) bool {
	return o.ItemGid > 0 && o.Price > 0 && storage.ValidQuantities[o.Quantity]
}

// getOrCreateItem implements spec §4.6: lookup-by-gid in cache, else in
// store; on miss insert a placeholder row, resolving category to its
// subcategory id when this is the observation that creates the item. A
// concurrent first-observer racing us is resolved by retrying the
// lookup after a conflict.
func (s *Service) getOrCreateItem(ctx context.Context, gid int32, category int32) (*storage.Item, error) {
	v, err := s.itemCache.GetOrLoadJSON(itemCacheKey(gid),
		func() interface{} { return &storage.Item{} },
		func() (interface{}, error) {
			item, err := s.items.GetByGid(ctx, gid)
			if err == nil {
				return item, nil
			}
			if err != storage.ErrNotFound {
				return nil, err
			}

			newItem := storage.Item{ItemGid: gid}
			name := storage.PlaceholderName(gid)
			newItem.ItemName = &name
			if s.subCategories != nil {
				if sub, err := s.getOrCreateSubCategory(ctx, category); err == nil && sub != nil {
					newItem.SubCategoryID = &sub.ID
				}
			}

			created, err := s.items.Insert(ctx, newItem)
			if err == storage.ErrConflict {
				// lost the race: another consumer inserted first, retry the lookup
				return s.items.GetByGid(ctx, gid)
			}
			if err != nil {
				return nil, err
			}
			return created, nil
		})
	if err != nil {
		return nil, err
	}
	return v.(*storage.Item), nil
}

// GetLatestPrice is a cached read of the most recent entry for gid at
// quantity.
func (s *Service) GetLatestPrice(ctx context.Context, gid int32, quantity int32) (*storage.PriceEntry, error) {
	key := latestPriceKey(gid, quantity)
	v, err := s.latestPrice.GetOrLoadJSON(key,
		func() interface{} { return &storage.PriceEntry{} },
		func() (interface{}, error) {
			item, err := s.getOrCreateItem(ctx, gid, 0)
			if err != nil {
				return nil, err
			}
			return s.prices.Latest(ctx, item.ID, quantity)
		})
	if err == storage.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v.(*storage.PriceEntry), nil
}

// GetItemWithPrices is a cached combined read of an item and its latest
// price at every quantity tier (spec §4.9's itemsWithPrices cache).
func (s *Service) GetItemWithPrices(ctx context.Context, gid int32) (*ItemWithPrices, error) {
	v, err := s.itemsWithPrices.GetOrLoadJSON(itemCacheKey(gid),
		func() interface{} { return &ItemWithPrices{} },
		func() (interface{}, error) {
			item, err := s.items.GetByGid(ctx, gid)
			if err != nil {
				return nil, err
			}

			latest := make(map[int32]*storage.PriceEntry, len(protocol.QuantityTiers))
			for _, q := range protocol.QuantityTiers {
				entry, err := s.prices.Latest(ctx, item.ID, q)
				if err != nil && err != storage.ErrNotFound {
					return nil, err
				}
				if err == nil {
					latest[q] = entry
				}
			}
			return &ItemWithPrices{Item: *item, Latest: latest}, nil
		})
	if err != nil {
		return nil, err
	}
	return v.(*ItemWithPrices), nil
}

// GetPriceHistory returns entries for gid at quantity within [from, to].
// Not cached: history windows are too varied to benefit from a fixed-TTL
// cache.
func (s *Service) GetPriceHistory(ctx context.Context, gid int32, quantity int32, from, to time.Time) ([]storage.PriceEntry, error) {
	item, err := s.items.GetByGid(ctx, gid)
	if err == storage.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.prices.History(ctx, item.ID, quantity, from, to)
}

// EvictItemCache drops gid from every cache the price service keeps
// (spec §4.6 evictItemCache).
func (s *Service) EvictItemCache(gid int32) {
	s.evictItemCache(gid)
}

func (s *Service) evictItemCache(gid int32) {
	s.itemCache.Invalidate(itemCacheKey(gid))
	s.itemsWithPrices.Invalidate(itemCacheKey(gid))
	for _, q := range protocol.QuantityTiers {
		s.latestPrice.Invalidate(latestPriceKey(gid, q))
	}
}

func itemCacheKey(gid int32) string {
	return fmt.Sprintf("%d", gid)
}

func latestPriceKey(gid int32, quantity int32) string {
	return fmt.Sprintf("%d:%d", gid, quantity)
}
