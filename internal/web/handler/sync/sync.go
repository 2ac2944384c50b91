// Package sync provides the handler triggering an on-demand sync run
// for one connection.
package sync

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/GateWarden/GateWarden/internal/db/controller/connection"
	"github.com/GateWarden/GateWarden/internal/dirsync"
)

// Path is the route of the sync trigger endpoint.
const Path = "/api/v1/connections/:id/sync"

type handler struct{}

// Handler is the sync trigger handler instance.
var Handler handler

// Init registers the sync trigger route.
func (handler) Init(app *fiber.App, db *gorm.DB, sched *dirsync.Scheduler) {
	app.Post(Path, trigger(db, sched))
}

func trigger(db *gorm.DB, sched *dirsync.Scheduler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := c.ParamsInt("id")
		if err != nil || id <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid connection id",
			})
		}

		conn, err := connection.Get(db, uint(id))
		if err != nil {
			if errors.Is(err, connection.ErrConnectionNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
					"error": "connection not found",
				})
			}

			return err
		}

		if conn.IsDisabled {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error":           "connection is disabled",
				"disabled_reason": conn.DisabledReason,
			})
		}

		queued := sched.Enqueue(conn.ID)

		// a false result means a run is already queued or in flight and
		// this trigger coalesced into it
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"connection_id": conn.ID,
			"queued":        queued,
			"coalesced":     !queued,
		})
	}
}
