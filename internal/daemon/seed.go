package daemon

import (
	"gorm.io/gorm"

	"github.com/GateWarden/GateWarden/internal/config"
	"github.com/GateWarden/GateWarden/internal/db/models"
)

func seed(cfg *config.Config, db *gorm.DB) {
	// Seed a default tenant if the tenant table is empty, so a fresh
	// install can register connections right away.

	var count int64
	db.Model(&models.Tenant{}).Count(&count)

	if count == 0 {
		name := cfg.Title
		if name == "" {
			name = "default"
		}

		db.Create(
			&models.Tenant{
				Name: name,
				Slug: "default",
			},
		)
	}
}
