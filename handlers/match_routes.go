// handlers/match_routes.go
package handlers

import (
	"github.com/gofiber/fiber/v2"

	"tournament-orchestrator/middleware"
	"tournament-orchestrator/services"
)

type readyRequest struct {
	PlayerID string `json:"player_id"`
}

type scoresRequest struct {
	Player1Score int `json:"player1_score"`
	Player2Score int `json:"player2_score"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type verifyRequest struct {
	Token string `json:"token"`
	Nonce string `json:"nonce"`
}

func SetupMatchRoutes(app *fiber.App, engine *services.Engine, brackets *services.BracketService, verifier *services.VerificationManager) {
	// 🔐 Every match command needs the caller identity from the Gateway
	secured := app.Group("/matches", middleware.UserContextMiddleware())

	secured.Get("/:matchID", func(c *fiber.Ctx) error {
		m, err := brackets.Match(c.UserContext(), c.Params("matchID"))
		if err != nil {
			return err
		}
		return c.JSON(m)
	})

	secured.Post("/:matchID/ready", func(c *fiber.Ctx) error {
		var req readyRequest
		if err := parseOptional(c, &req); err != nil {
			return err
		}
		m, err := engine.MarkReady(c.UserContext(), c.Params("matchID"), req.PlayerID, middleware.PrincipalFrom(c))
		if err != nil {
			return err
		}
		return c.JSON(m)
	})

	secured.Post("/:matchID/start", func(c *fiber.Ctx) error {
		m, err := engine.StartMatch(c.UserContext(), c.Params("matchID"), middleware.PrincipalFrom(c))
		if err != nil {
			return err
		}
		return c.JSON(m)
	})

	secured.Post("/:matchID/scores", func(c *fiber.Ctx) error {
		var req scoresRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		m, err := engine.RecordScores(c.UserContext(), c.Params("matchID"), req.Player1Score, req.Player2Score, middleware.PrincipalFrom(c))
		if err != nil {
			return err
		}
		return c.JSON(m)
	})

	// ✅ Result reporting: idempotent, a replay returns the stored match
	secured.Post("/:matchID/result", func(c *fiber.Ctx) error {
		var req services.MatchResult
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		m, err := engine.CompleteMatch(c.UserContext(), c.Params("matchID"), req, middleware.PrincipalFrom(c))
		if err != nil {
			return err
		}
		return c.JSON(m)
	})

	secured.Post("/:matchID/cancel", func(c *fiber.Ctx) error {
		var req cancelRequest
		if err := parseOptional(c, &req); err != nil {
			return err
		}
		m, err := engine.CancelMatch(c.UserContext(), c.Params("matchID"), req.Reason, middleware.PrincipalFrom(c))
		if err != nil {
			return err
		}
		return c.JSON(m)
	})

	// 🔑 Device pairing
	secured.Post("/:matchID/verification/issue", func(c *fiber.Ctx) error {
		issued, err := verifier.Issue(c.UserContext(), c.Params("matchID"), middleware.PrincipalFrom(c))
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(issued)
	})

	secured.Get("/:matchID/verification/nonce", func(c *fiber.Ctx) error {
		pending, err := verifier.OpponentNonce(c.UserContext(), c.Params("matchID"), middleware.PrincipalFrom(c))
		if err != nil {
			return err
		}
		return c.JSON(pending)
	})

	secured.Post("/:matchID/verification/verify", func(c *fiber.Ctx) error {
		var req verifyRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		m, err := verifier.Verify(c.UserContext(), c.Params("matchID"), req.Token, req.Nonce, middleware.PrincipalFrom(c))
		if err != nil {
			return err
		}
		return c.JSON(m)
	})
}

// parseOptional decodes the body only when one was sent.
func parseOptional(c *fiber.Ctx, out interface{}) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	return nil
}
