// Package health provides the handler exposing a connection's sync
// health record.
package health

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/GateWarden/GateWarden/internal/db/controller/connection"
)

// Path is the route of the connection health endpoint.
const Path = "/api/v1/connections/:id/health"

// Response is the health record of one connection.
type Response struct {
	ConnectionID        uint       `json:"connection_id"`
	Provider            string     `json:"provider"`
	SyncedAt            *time.Time `json:"synced_at"`
	ErroredAt           *time.Time `json:"errored_at"`
	ErrorMessage        string     `json:"error_message,omitempty"`
	ConsecutiveFailures uint       `json:"consecutive_failures"`
	IsDisabled          bool       `json:"is_disabled"`
	DisabledReason      string     `json:"disabled_reason,omitempty"`
}

type handler struct{}

// Handler is the connection health handler instance.
var Handler handler

// Init registers the connection health route.
func (handler) Init(app *fiber.App, db *gorm.DB) {
	app.Get(Path, get(db))
}

func get(db *gorm.DB) fiber.Handler {
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

		return c.JSON(Response{
			ConnectionID:        conn.ID,
			Provider:            string(conn.Provider),
			SyncedAt:            conn.SyncedAt,
			ErroredAt:           conn.ErroredAt,
			ErrorMessage:        conn.ErrorMessage,
			ConsecutiveFailures: conn.ConsecutiveFailures,
			IsDisabled:          conn.IsDisabled,
			DisabledReason:      conn.DisabledReason,
		})
	}
}
