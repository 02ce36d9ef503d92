package httpapi

import (
	"bytes"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/i474232898/sensor-data-aggregation/internal/export"
	"github.com/i474232898/sensor-data-aggregation/internal/scheduler"
	"github.com/i474232898/sensor-data-aggregation/internal/sensors"
)

var validate = validator.New()

// DefaultWindow is the query window used when start_time is omitted.
const DefaultWindow = 48 * time.Hour

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 200
)

// Deps are the services the routes need. Scheduler, Runs and Metrics may be nil.
type Deps struct {
	Engine    *sensors.Engine
	Scheduler *scheduler.Scheduler
	Runs      sensors.RunRecorder
	Metrics   http.Handler
	Now       func() time.Time
}

// ErrorHandler renders every error as {"error": true, "message": ...}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, deps Deps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(deps.Metrics))
	}

	v1 := app.Group("/api/v1")

	v1.Get("/sources", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"sources": deps.Engine.Registry().Describe(c.UserContext()),
		})
	})

	v1.Get("/sources/:source/sensors", func(c *fiber.Ctx) error {
		source := c.Params("source")
		descs, err := deps.Engine.ListSensors(c.UserContext(), source)
		if err != nil {
			return queryError(err)
		}
		return c.JSON(fiber.Map{
			"source":  source,
			"sensors": descs,
		})
	})

	v1.Post("/preview", func(c *fiber.Ctx) error {
		var req queryRequest
		if err := req.bind(c, deps.Now()); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		res, err := deps.Engine.Query(c.UserContext(), req.Source, req.selection(), req.From, req.To)
		if err != nil {
			return queryError(err)
		}

		body := fiber.Map{
			"source":     res.SourceID,
			"start_time": req.From,
			"end_time":   req.To,
			"preview":    previewRows(res.Head(sensors.PreviewRows)),
			"total_rows": res.TotalRowCount,
			"columns":    res.Columns,
			"status":     res.Status(),
		}
		if res.Warning != nil {
			body["warning"] = res.Warning.Message()
		}
		return c.JSON(body)
	})

	v1.Post("/download", func(c *fiber.Ctx) error {
		var req queryRequest
		if err := req.bind(c, deps.Now()); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		format := req.Format
		if format == "" {
			format = "csv"
		}
		enc, err := export.Get(format)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		res, err := deps.Engine.Query(c.UserContext(), req.Source, req.selection(), req.From, req.To)
		if err != nil {
			return queryError(err)
		}

		var buf bytes.Buffer
		if err := enc.Encode(&buf, res); err != nil {
			log.Printf("api: encode %s download for %s: %v", format, req.Source, err)
			return fiber.NewError(fiber.StatusInternalServerError, "file generation failed")
		}

		c.Attachment(export.Filename(req.Source, deps.Now(), enc))
		c.Set(fiber.HeaderContentType, enc.ContentType())
		c.Set("X-Total-Rows", strconv.Itoa(res.TotalRowCount))
		c.Set("X-Result-Status", res.Status())
		if res.Warning != nil {
			c.Set("X-Result-Warning", res.Warning.Message())
		}
		return c.Send(buf.Bytes())
	})

	v1.Get("/collections/runs", func(c *fiber.Ctx) error {
		limit := c.QueryInt("limit", defaultRunsLimit)
		if limit <= 0 || limit > maxRunsLimit {
			return fiber.NewError(fiber.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxRunsLimit))
		}
		runs := []*sensors.CollectionRun{}
		if deps.Runs != nil {
			recent, err := deps.Runs.Recent(c.UserContext(), limit)
			if err != nil {
				log.Printf("api: list runs: %v", err)
				return fiber.NewError(fiber.StatusInternalServerError, "failed to list collection runs")
			}
			runs = append(runs, recent...)
		}
		return c.JSON(fiber.Map{"runs": runs})
	})

	v1.Post("/collections/:source/run", func(c *fiber.Ctx) error {
		if deps.Scheduler == nil {
			return fiber.NewError(fiber.StatusNotFound, "no scheduled sources")
		}
		collector, err := deps.Scheduler.Collector(c.Params("source"))
		if err != nil {
			return queryError(err)
		}
		run, err := collector.Tick(c.UserContext())
		if err != nil {
			return queryError(err)
		}
		return c.JSON(fiber.Map{
			"run":     run,
			"outcome": run.Outcome(),
		})
	})
}

// queryError maps domain errors to HTTP errors.
func queryError(err error) error {
	var (
		cfgErr   *sensors.ConfigError
		fetchErr *sensors.FetchFailedError
	)
	switch {
	case errors.Is(err, sensors.ErrUnknownSource):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, sensors.ErrInvalidRange):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, sensors.ErrRunInProgress):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, scheduler.ErrStopped):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	case errors.As(err, &cfgErr):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	case errors.As(err, &fetchErr):
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	default:
		log.Printf("api: query failed: %v", err)
		return fiber.NewError(fiber.StatusInternalServerError, "failed to query sensor data")
	}
}

func previewRows(rows []sensors.Row) []fiber.Map {
	out := make([]fiber.Map, 0, len(rows))
	for _, r := range rows {
		m := fiber.Map{
			sensors.ColumnSensorID:  r.SensorID,
			sensors.ColumnTimestamp: r.Timestamp.UTC().Format(time.RFC3339),
		}
		for name, v := range r.Values {
			m[name] = v
		}
		out = append(out, m)
	}
	return out
}
