package controller

import (
	"errors"
	"mime"
	"path"

	"bioinsight-be/pkg/storage"

	"github.com/gofiber/fiber/v2"
)

// BlobController serves exported artifacts (chart specs, CSVs, harmonized
// files) when the blob store is local.
type BlobController struct {
	store storage.Reader
}

func NewBlobController(store storage.Reader) *BlobController {
	return &BlobController{store: store}
}

func (c *BlobController) RegisterRoutes(r fiber.Router) {
	r.Get("/blobs/*", c.Get)
}

func (c *BlobController) Get(ctx *fiber.Ctx) error {
	key := ctx.Params("*")
	if key == "" {
		return fiber.ErrNotFound
	}
	data, err := c.store.Get(ctx.UserContext(), key)
	if errors.Is(err, storage.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "blob not found")
	}
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		ctx.Set(fiber.HeaderContentType, ct)
	} else {
		ctx.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
	}
	return ctx.Send(data)
}
