package queue

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/muaviaUsmani/plantain/internal/cache"
	"github.com/muaviaUsmani/plantain/internal/logger"
	"github.com/muaviaUsmani/plantain/internal/model"
	"github.com/muaviaUsmani/plantain/internal/storage"
)

// NewCacheSyncFunc builds the persistence function the write-back flusher
// calls with a batch of dirty entries. The whole batch goes to Redis in
// one transaction so a queue's metadata and item list land together.
// Entries that fail to serialize are logged and skipped; failing the batch
// for one bad value would park every other dirty entry behind it.
func NewCacheSyncFunc(store *storage.Store, log logger.Logger) cache.SyncFunc {
	if log == nil {
		log = &logger.NoOpLogger{}
	}
	log = log.WithComponent(logger.ComponentCache)

	return func(ctx context.Context, writes []cache.Write) error {
		const op = "queue.cacheSync"
		if len(writes) == 0 {
			return nil
		}
		_, err := store.TxPipelined(ctx, op, func(pipe redis.Pipeliner) error {
			for _, w := range writes {
				switch w.Kind {
				case cache.KindQueue:
					q, ok := w.Value.(*model.Queue)
					if !ok || q == nil {
						log.Warn("skipping malformed queue sync entry", "queue_id", w.QueueID)
						continue
					}
					pipe.HSet(ctx, storage.QueueMetaKey(w.QueueID), q.ToHash())
				case cache.KindItems:
					items, ok := w.Value.([]*model.Item)
					if !ok {
						log.Warn("skipping malformed item list sync entry", "queue_id", w.QueueID)
						continue
					}
					key := storage.QueueItemsKey(w.QueueID)
					blobs := make([]interface{}, 0, len(items))
					for _, item := range items {
						body, err := item.JSON()
						if err != nil {
							log.Warn("skipping unserializable item in sync",
								"queue_id", w.QueueID, "item_id", item.ID, "error", err.Error())
							continue
						}
						blobs = append(blobs, body)
					}
					// The slice is held in list order, so a forward push
					// rebuilds the same head and tail.
					pipe.Del(ctx, key)
					if len(blobs) > 0 {
						pipe.RPush(ctx, key, blobs...)
					}
				}
			}
			return nil
		})
		return err
	}
}
