package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options on a private registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it registers its collectors there", func() {
				So(manager, ShouldNotBeNil)
				manager.submissions.WithLabelValues("ok").Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				So(len(families), ShouldBeGreaterThan, 0)
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("board"),
				WithHistogramBuckets([]float64{1, 2, 3}),
				WithConstLabels(map[string]string{"instance": "a"}),
				WithPrometheusRegistry(registry),
			)
			manager.duplicates.Inc()

			Convey("Then names and labels follow the options", func() {
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				found := false
				for _, f := range families {
					if f.GetName() == "test_board_submissions_duplicate_total" {
						found = true
						So(f.GetMetric()[0].GetLabel()[0].GetValue(), ShouldEqual, "a")
					}
				}
				So(found, ShouldBeTrue)
			})
		})

		Convey("When passing empty values", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithNamespace(""), WithSubsystem(""), WithHistogramBuckets(nil), WithPrometheusRegistry(nil), WithPrometheusRegistry(registry))

			Convey("Then defaults are kept", func() {
				So(manager.namespace, ShouldEqual, "podium")
				So(manager.subsystem, ShouldEqual, "ranking")
				So(len(manager.histogramBuckets), ShouldBeGreaterThan, 0)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording submissions", func() {
			before := testutil.ToFloat64(globalManager.submissions.WithLabelValues("ok"))
			RecordSubmission("ok", 1.5)
			RecordSubmission("ok", 2.5)

			Convey("Then the outcome counter grows", func() {
				So(testutil.ToFloat64(globalManager.submissions.WithLabelValues("ok")), ShouldEqual, before+2)
			})
		})

		Convey("When updating gauges", func() {
			UpdateStoreSize(42, 3)
			UpdateQueueSize(7)
			UpdateSubscribers(5, 2)

			Convey("Then they hold the last value", func() {
				So(testutil.ToFloat64(globalManager.storeRecords), ShouldEqual, 42.0)
				So(testutil.ToFloat64(globalManager.storeLeaderboards), ShouldEqual, 3.0)
				So(testutil.ToFloat64(globalManager.queueSize), ShouldEqual, 7.0)
				So(testutil.ToFloat64(globalManager.subscribers), ShouldEqual, 5.0)
			})
		})

		Convey("When recording drops and rejections", func() {
			before := testutil.ToFloat64(globalManager.notificationsDropped.WithLabelValues("drop_oldest"))
			RecordNotificationDropped("drop_oldest")
			RecordQueueEnqueueError("full")
			RecordRateLimited()

			Convey("Then the counters move", func() {
				So(testutil.ToFloat64(globalManager.notificationsDropped.WithLabelValues("drop_oldest")), ShouldEqual, before+1)
				So(testutil.ToFloat64(globalManager.queueEnqueueErrors.WithLabelValues("full")), ShouldBeGreaterThanOrEqualTo, 1)
			})
		})

		Convey("When recording histograms and vectors", func() {
			So(func() {
				RecordStoreLatency("upsert", 0.2)
				RecordRebuild("ok", 12, 1000)
				RecordRebuild("error", 3, -1)
				RecordJob("ok", 1, 4)
				RecordLedgerLatency("fetch_top", 2)
				UpdateBreakerState(2)
				RecordHTTPRequest("/leaderboards/{leaderboardID}/top", "GET", "200")
				RecordHTTPRequestDuration("/leaderboards/{leaderboardID}/top", "GET", "200", 1.1)
				RecordErrorByComponent("store", "unavailable")
				RecordNotificationPublished("score:updated", 3)
				RecordStoreEviction()
				RecordDuplicate()
				RecordQueueEnqueue()
				UpdateQueueCapacity(10)
				UpdateWorkerCount(4)
			}, ShouldNotPanic)
		})
	})
}

func TestRegistryExposition(t *testing.T) {
	Convey("Given the shared registry", t, func() {
		RecordSubmission("invalid", 0.1)

		Convey("Then the submission counter is exported", func() {
			n, err := testutil.GatherAndCount(GetRegistry(), "podium_ranking_submissions_total")
			So(err, ShouldBeNil)
			So(n, ShouldBeGreaterThan, 0)
		})

		Convey("Then runtime collectors are registered", func() {
			families, err := GetRegistry().Gather()
			So(err, ShouldBeNil)
			hasGo := false
			for _, f := range families {
				if strings.HasPrefix(f.GetName(), "go_") {
					hasGo = true
				}
			}
			So(hasGo, ShouldBeTrue)
		})
	})
}

func TestMetricsConcurrency(t *testing.T) {
	Convey("Given concurrent recorders", t, func() {
		done := make(chan struct{}, 10)
		for i := 0; i < 10; i++ {
			go func() {
				for j := 0; j < 100; j++ {
					RecordSubmission("ok", float64(j))
					UpdateQueueSize(j)
					RecordHTTPRequest("/x", "GET", "200")
				}
				done <- struct{}{}
			}()
		}
		for i := 0; i < 10; i++ {
			<-done
		}
		So(testutil.ToFloat64(globalManager.submissions.WithLabelValues("ok")), ShouldBeGreaterThanOrEqualTo, 1000)
	})
}
