package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const retryCount = 3

var (
	addr  = flag.String("address", "localhost:6380", "Admin protocol address of pendingq")
	uid   = flag.String("user", "demo", "Queue owner")
	count = flag.Int("count", 10, "Number of batches to write")
)

var backoffDuration = 100 * time.Millisecond

// A small walkthrough of the queue lifecycle: write batches, read them back,
// acknowledge half and remove what was acknowledged.
func main() {
	flag.Parse()
	ctx := context.Background()

	rdb := redis.NewClient(&redis.Options{
		Addr:            *addr,
		MaxRetries:      retryCount,
		MinRetryBackoff: backoffDuration,
		PoolSize:        1,
	})
	defer rdb.Close()

	if err := rdb.Do(ctx, "PQ.USER", *uid).Err(); err != nil {
		log.Fatalf("PQ.USER failed: %v", err)
	}

	ids := make([]int64, 0, *count)
	for i := 0; i < *count; i++ {
		key := "demo/doc-" + strconv.Itoa(i)
		id, err := rdb.Do(ctx, "PQ.SET", key, fmt.Sprintf(`{"written":%q}`, time.Now().Format(time.RFC3339Nano))).Int64()
		if err != nil {
			log.Fatalf("PQ.SET failed: %v", err)
		}
		fmt.Printf("added batch %d for %s\n", id, key)
		ids = append(ids, id)
	}

	for _, id := range ids {
		batch, err := rdb.Do(ctx, "PQ.GET", id).Text()
		if err != nil {
			log.Fatalf("PQ.GET failed: %v", err)
		}
		fmt.Printf("batch %d: %s\n", id, batch)
	}

	if len(ids) == 0 {
		return
	}
	half := ids[len(ids)/2]
	if err := rdb.Do(ctx, "PQ.ACK", half, "demo-token-"+strconv.FormatInt(half, 10)).Err(); err != nil {
		log.Fatalf("PQ.ACK failed: %v", err)
	}

	acked := make([]any, 0, len(ids))
	acked = append(acked, "PQ.REMOVE")
	for _, id := range ids {
		if id <= half {
			acked = append(acked, id)
		}
	}
	removed, err := rdb.Do(ctx, acked...).Int64()
	if err != nil {
		log.Fatalf("PQ.REMOVE failed: %v", err)
	}

	left, err := rdb.Do(ctx, "PQ.LEN").Int64()
	if err != nil {
		log.Fatalf("PQ.LEN failed: %v", err)
	}
	fmt.Printf("acknowledged through %d, removed %d, %d pending\n", half, removed, left)
}
