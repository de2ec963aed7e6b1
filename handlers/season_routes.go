// handlers/season_routes.go
package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rotisserie/eris"

	"tournament-orchestrator/middleware"
	"tournament-orchestrator/services"
)

type joinRequest struct {
	PlayerID string `json:"player_id"`
}

func SetupSeasonRoutes(app *fiber.App, seasons *services.SeasonService, brackets *services.BracketService) {
	// 🔓 Read-only views, Gateway auth only
	app.Get("/tournaments/:tournamentID/seasons/:seasonID/matches", func(c *fiber.Ctx) error {
		round := c.QueryInt("round", 0)
		matches, err := brackets.SeasonMatches(c.UserContext(), c.Params("tournamentID"), c.Params("seasonID"), round)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"matches": matches, "count": len(matches)})
	})

	app.Get("/seasons/:seasonID/bracket", func(c *fiber.Ctx) error {
		bracket, err := brackets.Bracket(c.UserContext(), c.Params("seasonID"))
		if err != nil {
			return err
		}
		return c.JSON(bracket)
	})

	app.Get("/seasons/:seasonID", func(c *fiber.Ctx) error {
		season, err := seasons.GetSeason(c.UserContext(), c.Params("seasonID"))
		if err != nil {
			return err
		}
		return c.JSON(season)
	})

	// 🔐 Season commands
	secured := app.Group("/seasons", middleware.UserContextMiddleware())

	secured.Post("/", func(c *fiber.Ctx) error {
		if err := requireService(c); err != nil {
			return err
		}
		var req services.CreateSeasonInput
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		season, err := seasons.CreateSeason(c.UserContext(), req)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(season)
	})

	secured.Post("/:seasonID/join", func(c *fiber.Ctx) error {
		p := middleware.PrincipalFrom(c)
		var req joinRequest
		if err := parseOptional(c, &req); err != nil {
			return err
		}
		playerID := p.ID
		if req.PlayerID != "" && req.PlayerID != p.ID {
			if !p.Service {
				return eris.Wrap(services.ErrAuthorizationDenied, "players may only join for themselves")
			}
			playerID = req.PlayerID
		}
		entry, err := seasons.JoinSeason(c.UserContext(), c.Params("seasonID"), playerID)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(entry)
	})

	secured.Post("/:seasonID/start", func(c *fiber.Ctx) error {
		if err := requireService(c); err != nil {
			return err
		}
		season, matches, err := seasons.StartSeason(c.UserContext(), c.Params("seasonID"))
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"season": season, "matches": matches})
	})

	secured.Post("/:seasonID/cancel", func(c *fiber.Ctx) error {
		if err := requireService(c); err != nil {
			return err
		}
		var req cancelRequest
		if err := parseOptional(c, &req); err != nil {
			return err
		}
		if req.Reason == "" {
			req.Reason = "cancelled_by_organizer"
		}
		season, err := seasons.CancelSeason(c.UserContext(), c.Params("seasonID"), req.Reason)
		if err != nil {
			return err
		}
		return c.JSON(season)
	})
}

func requireService(c *fiber.Ctx) error {
	if !middleware.PrincipalFrom(c).Service {
		return eris.Wrap(services.ErrAuthorizationDenied, "service role required")
	}
	return nil
}
