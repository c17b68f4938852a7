package service_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	service "github.com/okian/podium/internal/app"
	"github.com/okian/podium/internal/adapters/ledger"
	"github.com/okian/podium/internal/adapters/mq/riverq"
	"github.com/okian/podium/internal/domain/model"
	"github.com/okian/podium/pkg/logger"
)

// TestServiceIntegration runs the engine against PostgreSQL with River as
// the durability queue. Set PODIUM_INTEGRATION=1 to enable it.
func TestServiceIntegration(t *testing.T) {
	if os.Getenv("PODIUM_INTEGRATION") != "1" {
		t.Skip("set PODIUM_INTEGRATION=1 to run container tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("podium"),
		postgres.WithUsername("podium"),
		postgres.WithPassword("podium"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("dsn: %v", err)
	}

	Convey("Given the engine on PostgreSQL and River", t, func() {
		base, err := ledger.Open(ctx, ledger.DriverPostgres, dsn, ledger.WithLogger(logger.Nop()))
		So(err, ShouldBeNil)
		defer func() { _ = base.Close() }()
		So(base.CreateSchema(ctx), ShouldBeNil)
		led := ledger.NewBreaker(base, 5, time.Second, logger.Nop())

		So(riverq.Migrate(ctx, dsn), ShouldBeNil)
		jobs, err := riverq.New(ctx, dsn, led, riverq.WithMaxWorkers(4), riverq.WithLogger(logger.Nop()))
		So(err, ShouldBeNil)
		So(jobs.Start(ctx), ShouldBeNil)
		defer func() { _ = jobs.Shutdown(context.Background()) }()

		svc := service.New(
			service.WithLedger(led),
			service.WithJobQueue(jobs),
			service.WithLogger(logger.Nop()),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		lb, err := svc.CreateLeaderboard(ctx, model.Leaderboard{Name: "integration"})
		So(err, ShouldBeNil)

		Convey("When many players submit scores", func() {
			for i := 0; i < 20; i++ {
				_, err := svc.SubmitScore(ctx, model.ScoreSubmission{
					LeaderboardID: lb.ID,
					PlayerID:      fmt.Sprintf("player-%02d", i),
					Score:         float64(i * 10),
				})
				So(err, ShouldBeNil)
			}

			Convey("Then the ranking is served from memory", func() {
				top, err := svc.GetTopPlayers(ctx, lb.ID, service.TopOptions{Limit: 3})
				So(err, ShouldBeNil)
				So(top, ShouldHaveLength, 3)
				So(top[0].PlayerID, ShouldEqual, "player-19")
			})

			Convey("Then River persists every score to the ledger", func() {
				So(eventually(func() bool {
					rows, err := led.FetchTopByLeaderboard(ctx, lb.ID, 100)
					return err == nil && len(rows) == 20
				}), ShouldBeTrue)
			})
		})
	})
}
