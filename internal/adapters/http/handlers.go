package http

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/digitalmaps/internal/core/domain"
)

// envelope is the response body for writes and near queries.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

type pointRef struct {
	Point struct {
		UUID string `json:"uuid"`
	} `json:"point"`
}

func refTo(id string) pointRef {
	var r pointRef
	r.Point.UUID = id
	return r
}

// parsePoint decodes and validates a create/update body. Errors are meant
// for the client.
func parsePoint(c *fiber.Ctx, id string) (*domain.Point, error) {
	var req pointRequest
	if err := c.BodyParser(&req); err != nil {
		return nil, errors.New("invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return nil, errors.New(validationMessage(err))
	}
	return req.toPoint(id)
}

// pointID reads and validates the :id path parameter.
func pointID(c *fiber.Ctx) (string, error) {
	id := strings.Clone(c.Params("id"))
	if err := validate.Var(id, "required,uuid"); err != nil {
		return "", errors.New("id must be a UUID")
	}
	return id, nil
}

// CreatePointHandler stores a new point and returns its id.
func CreatePointHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := parsePoint(c, "")
		if err != nil {
			return errBadRequest(c, err.Error())
		}

		created, err := deps.Points.Create(c.UserContext(), p)
		if err != nil {
			return serviceError(c, err)
		}

		return c.Status(fiber.StatusCreated).JSON(envelope{
			Success: true,
			Message: "Point created successfully",
			Data:    refTo(created.ID),
		})
	}
}

// ListPointsHandler returns every point.
func ListPointsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		points, err := deps.Points.List(c.UserContext())
		if err != nil {
			return serviceError(c, err)
		}
		if points == nil {
			points = []domain.Point{}
		}
		return c.JSON(points)
	}
}

// UpdatePointHandler replaces a point.
func UpdatePointHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := pointID(c)
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		p, err := parsePoint(c, id)
		if err != nil {
			return errBadRequest(c, err.Error())
		}

		updated, err := deps.Points.Update(c.UserContext(), p)
		if err != nil {
			return serviceError(c, err)
		}

		return c.JSON(envelope{
			Success: true,
			Message: "Point updated successfully",
			Data:    refTo(updated.ID),
		})
	}
}

// DeletePointHandler removes a point. Unknown ids succeed.
func DeletePointHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := pointID(c)
		if err != nil {
			return errBadRequest(c, err.Error())
		}

		if _, err := deps.Points.Delete(c.UserContext(), id); err != nil {
			return serviceError(c, err)
		}

		return c.JSON(envelope{
			Success: true,
			Message: "Point deleted successfully",
			Data:    []any{},
		})
	}
}

// NearPointsHandler returns points around a location, flagged open or closed
// at the requested hour.
func NearPointsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var params nearParams
		var err error
		if params.Latitude, err = c.ParamsInt("latitude"); err != nil {
			return errBadRequest(c, "latitude must be an integer")
		}
		if params.Longitude, err = c.ParamsInt("longitude"); err != nil {
			return errBadRequest(c, "longitude must be an integer")
		}
		if params.Distance, err = c.ParamsInt("distance"); err != nil {
			return errBadRequest(c, "distance must be an integer")
		}
		params.Hour = strings.Clone(c.Params("hour"))
		if err := validate.Struct(&params); err != nil {
			return errBadRequest(c, validationMessage(err))
		}

		at, err := domain.ParseTimeOfDay(params.Hour)
		if err != nil {
			return errBadRequest(c, "hour must be HH:MM")
		}

		points, err := deps.Points.Near(c.UserContext(), params.Latitude, params.Longitude, params.Distance, at)
		if err != nil {
			return serviceError(c, err)
		}
		if points == nil {
			points = []domain.Point{}
		}

		return c.JSON(envelope{
			Success: true,
			Message: "Points found successfully",
			Data:    points,
		})
	}
}
