package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	dedupe "github.com/okian/podium/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	Convey("Given a new InMemoryDeduper", t, func() {
		ctx := context.Background()
		d := dedupe.NewInMemoryDeduper()

		Convey("Then it starts empty", func() {
			So(d.Size(), ShouldEqual, int64(0))
		})

		Convey("When a key is new", func() {
			seen := d.SeenAndRecord(ctx, "k1")

			Convey("Then it is recorded", func() {
				So(seen, ShouldBeFalse)
				So(d.Size(), ShouldEqual, int64(1))
			})
		})

		Convey("When a key is replayed", func() {
			d.SeenAndRecord(ctx, "k1")
			seen := d.SeenAndRecord(ctx, "k1")

			Convey("Then it is reported as seen", func() {
				So(seen, ShouldBeTrue)
				So(d.Size(), ShouldEqual, int64(1))
			})
		})

		Convey("When a key is unrecorded", func() {
			d.SeenAndRecord(ctx, "k1")
			d.Unrecord(ctx, "k1")
			d.Unrecord(ctx, "missing")

			Convey("Then it can be recorded again", func() {
				So(d.Size(), ShouldEqual, int64(0))
				So(d.SeenAndRecord(ctx, "k1"), ShouldBeFalse)
			})
		})
	})
}

func TestBoundedEviction(t *testing.T) {
	Convey("Given a deduper bounded to three keys", t, func() {
		ctx := context.Background()
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))
		for _, k := range []string{"a", "b", "c", "d"} {
			d.SeenAndRecord(ctx, k)
		}

		Convey("Then the oldest key was evicted", func() {
			So(d.Size(), ShouldEqual, int64(3))
			So(d.SeenAndRecord(ctx, "d"), ShouldBeTrue)
			So(d.SeenAndRecord(ctx, "a"), ShouldBeFalse)
		})
	})
}

func TestTTL(t *testing.T) {
	Convey("Given a deduper with a one minute ttl", t, func() {
		ctx := context.Background()
		now := time.Unix(1_700_000_000, 0)
		d := dedupe.NewInMemoryDeduper(
			dedupe.WithTTL(time.Minute),
			dedupe.WithClock(func() time.Time { return now }),
		)
		d.SeenAndRecord(ctx, "k")

		Convey("When less than the ttl has passed", func() {
			now = now.Add(30 * time.Second)
			So(d.SeenAndRecord(ctx, "k"), ShouldBeTrue)
		})

		Convey("When the ttl has passed", func() {
			now = now.Add(2 * time.Minute)
			So(d.SeenAndRecord(ctx, "k"), ShouldBeFalse)
		})
	})
}

func TestConcurrentRecord(t *testing.T) {
	Convey("Given many goroutines racing on the same keys", t, func() {
		ctx := context.Background()
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
		var mu sync.Mutex
		fresh := 0

		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 100; i++ {
					if !d.SeenAndRecord(ctx, fmt.Sprintf("k-%d", i)) {
						mu.Lock()
						fresh++
						mu.Unlock()
					}
				}
			}()
		}
		wg.Wait()

		Convey("Then each key is fresh exactly once", func() {
			So(fresh, ShouldEqual, 100)
			So(d.Size(), ShouldEqual, int64(100))
		})
	})
}
