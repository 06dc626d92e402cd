package boot

import (
	"context"
	"log"

	"arts/src/common"
	"arts/src/config"
	"arts/src/db"
	"arts/src/lib"
	"arts/src/models"

	"gorm.io/gorm"
)

func InitDb() *gorm.DB {
	db := db.GetDb()

	err := db.AutoMigrate(
		&models.Ticket{},
	)
	if err != nil {
		log.Fatalf("error migration: %s", err.Error())
	}

	return db
}

// InitScheduler registers the periodic intake drain and the expiry sweep,
// then starts the scheduler.
func InitScheduler(cfg *config.Config, manager *common.TicketManager) {
	sched, err := lib.GetScheduler()
	if err != nil {
		log.Println("An error has occurred. Check logs for info")
		return
	}
	_, err = lib.CreateCronJob("intake-drain", cfg.IntakeInterval, func() {
		count, err := manager.IngestAll(context.Background())
		if err != nil {
			log.Printf("Error draining intake: %s\n", err.Error())
		}
		if count > 0 {
			log.Printf("Ingested %d new tickets\n", count)
		}
	})
	if err != nil {
		log.Printf("Error registering intake job: %s\n", err.Error())
	}
	_, err = lib.CreateCronJob("ticket-sweep", cfg.SweepInterval, func() {
		if _, err := manager.ExpireAndPurge(context.Background()); err != nil {
			log.Printf("Error running sweep: %s\n", err.Error())
		}
	})
	if err != nil {
		log.Printf("Error registering sweep job: %s\n", err.Error())
	}
	sched.Start()
}

func StopScheduler() {
	sched, err := lib.GetScheduler()
	if err != nil {
		log.Println("Error retrieving Scheduler. Check logs for info")
		return
	}
	if err := sched.Shutdown(); err != nil {
		log.Println("An error has occurred while stopping Scheduler. Check logs for info")
	}
}

// InitBroker starts the decision-event consumer.
func InitBroker(cfg *config.Config, manager *common.TicketManager) {
	common.DecisionsConsumer(cfg, manager)
}
