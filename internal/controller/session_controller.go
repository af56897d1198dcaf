package controller

import (
	"errors"
	"io"

	"bioinsight-be/internal/dto"
	"bioinsight-be/internal/pkg/serverutils"
	"bioinsight-be/internal/service"
	"bioinsight-be/pkg/hitl"

	"github.com/gofiber/fiber/v2"
)

type ISessionController interface {
	RegisterRoutes(r fiber.Router, auth fiber.Handler)
	Create(ctx *fiber.Ctx) error
	SendTurn(ctx *fiber.Ctx) error
	Respond(ctx *fiber.Ctx) error
	Upload(ctx *fiber.Ctx) error
	End(ctx *fiber.Ctx) error
	Transcript(ctx *fiber.Ctx) error
	Stats(ctx *fiber.Ctx) error
}

type sessionController struct {
	service   service.ITurnService
	telemetry *service.TelemetryService
}

func NewSessionController(service service.ITurnService, telemetry *service.TelemetryService) ISessionController {
	return &sessionController{service: service, telemetry: telemetry}
}

func (c *sessionController) RegisterRoutes(r fiber.Router, auth fiber.Handler) {
	h := r.Group("/sessions")
	h.Use(auth)
	h.Post("", c.Create)
	h.Delete(":id", c.End)
	h.Post(":id/turns", c.SendTurn)
	h.Get(":id/turns", c.Transcript)
	h.Post(":id/interactions/:requestId", c.Respond)
	h.Post(":id/uploads", c.Upload)

	r.Get("/stats", auth, c.Stats)
}

func (c *sessionController) Create(ctx *fiber.Ctx) error {
	res, err := c.service.CreateSession(ctx.UserContext())
	if err != nil {
		return err
	}
	return ctx.Status(fiber.StatusCreated).JSON(serverutils.SuccessResponse("Success create session", res))
}

func (c *sessionController) SendTurn(ctx *fiber.Ctx) error {
	var req dto.SendTurnRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.service.RunTurn(ctx.UserContext(), ctx.Params("id"), &req)
	if err != nil {
		return toHTTPError(err)
	}
	return ctx.JSON(serverutils.SuccessResponse("Success run turn", res))
}

func (c *sessionController) Respond(ctx *fiber.Ctx) error {
	var req dto.InteractionRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	if err := c.service.Respond(ctx.UserContext(), ctx.Params("id"), ctx.Params("requestId"), &req); err != nil {
		return toHTTPError(err)
	}
	return ctx.JSON(serverutils.SuccessResponse("Success deliver response", nil))
}

func (c *sessionController) Upload(ctx *fiber.Ctx) error {
	fh, err := ctx.FormFile("file")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Missing form file 'file'")
	}
	f, err := fh.Open()
	if err != nil {
		return err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return err
	}

	res, err := c.service.Upload(ctx.UserContext(), ctx.Params("id"), fh.Filename, fh.Header.Get("Content-Type"), data)
	if err != nil {
		return toHTTPError(err)
	}
	return ctx.Status(fiber.StatusCreated).JSON(serverutils.SuccessResponse("Success upload file", res))
}

func (c *sessionController) End(ctx *fiber.Ctx) error {
	if err := c.service.EndSession(ctx.UserContext(), ctx.Params("id"), ctx.QueryBool("purge")); err != nil {
		return toHTTPError(err)
	}
	return ctx.JSON(serverutils.SuccessResponse("Success end session", nil))
}

func (c *sessionController) Transcript(ctx *fiber.Ctx) error {
	res, err := c.service.Transcript(ctx.UserContext(), ctx.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get transcript", res))
}

func (c *sessionController) Stats(ctx *fiber.Ctx) error {
	return ctx.JSON(serverutils.SuccessResponse("Success get stats", c.telemetry.Stats()))
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, hitl.ErrUnknownRequest):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrTurnInProgress):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, service.ErrEmptyUpload):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrTranscriptDisabled):
		return fiber.NewError(fiber.StatusNotImplemented, err.Error())
	}
	return err
}
