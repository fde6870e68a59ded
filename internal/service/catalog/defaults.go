package catalog

import (
	"github.com/jmehdipour/tokengen/internal/model"
	"github.com/jmehdipour/tokengen/internal/util"
)

// DefaultTiers is the plan lineup written by `tokengen seed`. Prices are IDR.
func DefaultTiers() []model.Tier {
	return []model.Tier{
		{
			ID:          util.NewID(),
			Name:        "Starter",
			Description: "For trying things out",
			Price:       50000,
			Requests:    100,
			Duration:    30,
			Active:      true,
		},
		{
			ID:          util.NewID(),
			Name:        "Professional",
			Description: "For regular weekly use",
			Price:       150000,
			Requests:    500,
			Duration:    60,
			Popular:     true,
			Active:      true,
		},
		{
			ID:          util.NewID(),
			Name:        "Enterprise",
			Description: "Practically unlimited for a full year",
			Price:       500000,
			Requests:    999999,
			Duration:    365,
			Active:      true,
		},
	}
}
