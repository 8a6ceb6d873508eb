package router

import (
	"github.com/wb-go/wbf/ginext"

	"github.com/fixtrack/notifier/internal/api/handlers/reminders"
	"github.com/fixtrack/notifier/internal/api/handlers/scheduler"
	"github.com/fixtrack/notifier/internal/middlewares"
)

func New(schedHandler *scheduler.Handler, remHandler *reminders.Handler, triggerToken string) *ginext.Engine {
	e := ginext.New()
	e.Use(middlewares.CORSMiddleware())
	e.Use(ginext.Logger())
	e.Use(ginext.Recovery())

	api := e.Group("/api")
	{
		api.GET("/tickets/:id/reminders", remHandler.GetByTicket)

		sched := api.Group("/scheduler")
		sched.POST("/run", middlewares.TriggerAuth(triggerToken), schedHandler.Run)
		sched.GET("/runs", schedHandler.ListRuns)
		sched.GET("/runs/latest", schedHandler.LatestRun)
	}

	return e
}
