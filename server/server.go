// Package server exposes the operational HTTP surface: liveness, Prometheus
// metrics, and a read-only view of the delivery log.
package server

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"plebfeed/store"
)

type ServerConfig struct {

	// Bot account username, reported on the status endpoint
	BotUsername string

	// Delivery log to expose read-only; nil disables the endpoint
	Deliveries *store.Store
}

// Server returns a fiber.App instance serving the operational endpoints
func Server(config *ServerConfig) *fiber.App {

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	// Middleware to track the latency of each request
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		stop := time.Now()

		log.WithFields(log.Fields{
			"method":  c.Method(),
			"route":   c.Route().Path,
			"latency": stop.Sub(start),
		}).Debug("Request")
		return err
	})

	app.Use(requestid.New(requestid.ConfigDefault))
	app.Use(compress.New())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(map[string]interface{}{
			"status": "ok",
			"bot":    config.BotUsername,
		})
	})

	metricsHandler := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	app.Get("/metrics", func(c *fiber.Ctx) error {
		metricsHandler(c.Context())
		return nil
	})

	app.Get("/deliveries", func(c *fiber.Ctx) error {
		if config.Deliveries == nil {
			return c.Status(404).SendString("Delivery log disabled")
		}

		limit, err := strconv.Atoi(c.Query("limit", "50"))
		if err != nil || limit < 1 || limit > 1000 {
			limit = 50
		}

		deliveries, err := config.Deliveries.RecentDeliveries(c.Context(), limit)
		if err != nil {
			log.WithFields(log.Fields{
				"error": err,
			}).Error("Error reading delivery log")
			return c.Status(500).SendString("Error reading delivery log")
		}

		return c.JSON(deliveries)
	})

	return app
}
