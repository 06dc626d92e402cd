package main

import (
	"log"
	"os"

	"arts/src/boot"
	"arts/src/common"
	"arts/src/config"
	"arts/src/db"
	"arts/src/middlewares"
	"arts/src/types"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	_ "github.com/joho/godotenv/autoload"
)

const (
	apiPrefix string = "/api/v1"
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("ticketstatus", types.ValidTicketStatus)
	}
}

var (
	appConfig *config.Config
	manager   *common.TicketManager
)

func main() {
	appConfig = config.Load()

	boot.InitDb()
	store := common.NewTicketStore(db.GetDb())
	manager = common.NewTicketManager(
		appConfig,
		store,
		common.NewS3Intake(appConfig),
		common.NewMailNotifier(appConfig),
	)

	boot.InitScheduler(appConfig, manager)
	defer boot.StopScheduler()
	go boot.InitBroker(appConfig, manager)

	if config.API_ENV == string(types.Production) {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.Use(cors.Default())

	public := router.Group(apiPrefix)
	public.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	api := router.Group(apiPrefix)
	api.Use(middlewares.RequireReviewer)
	ticketHandlers(api)

	addr := ":9090"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	if err := router.Run(addr); err != nil {
		log.Fatalf("Error starting server: %s\n", err.Error())
	}
}
