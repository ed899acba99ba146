package kafkaconsumer

import (
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultDedupeSize = 1024

// offsetDedupe remembers the last applied offset per topic partition so a
// redelivered batch after a rebalance is not applied twice
type offsetDedupe struct {
	mu  sync.Mutex
	lru *lru.Cache[string, int64]
}

func newOffsetDedupe(size int) *offsetDedupe {
	if size <= 0 {
		size = defaultDedupeSize
	}
	c, _ := lru.New[string, int64](size)
	return &offsetDedupe{lru: c}
}

func partitionKey(topic string, partition int32) string {
	return topic + "/" + strconv.FormatInt(int64(partition), 10)
}

// applied reports whether offset was already applied for the partition
func (d *offsetDedupe) applied(key string, offset int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.lru.Get(key)
	return ok && offset <= last
}

func (d *offsetDedupe) record(key string, offset int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lru.Get(key); ok && offset <= last {
		return
	}
	d.lru.Add(key, offset)
}
