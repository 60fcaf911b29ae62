package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/samirrijal/digitalmaps/internal/core/domain"
)

// gqlError hides storage details from GraphQL clients.
func gqlError(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return errors.New("point not found")
	case domain.IsStorageError(err):
		return errors.New("storage is unavailable, try again later")
	}
	return err
}

// pointArgs are the arguments shared by createPoint and updatePoint.
func pointArgs() graphql.FieldConfigArgument {
	return graphql.FieldConfigArgument{
		"name":       &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
		"latitude":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Int)},
		"longitude":  &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Int)},
		"open_hour":  &graphql.ArgumentConfig{Type: graphql.String},
		"close_hour": &graphql.ArgumentConfig{Type: graphql.String},
	}
}

// pointFromArgs validates mutation arguments the same way as the REST body.
func pointFromArgs(args map[string]interface{}, id string) (*domain.Point, error) {
	lat := args["latitude"].(int)
	lon := args["longitude"].(int)
	req := pointRequest{
		Name:      args["name"].(string),
		Latitude:  &lat,
		Longitude: &lon,
	}
	if v, ok := args["open_hour"].(string); ok {
		req.OpenHour = &v
	}
	if v, ok := args["close_hour"].(string); ok {
		req.CloseHour = &v
	}
	if err := validate.Struct(&req); err != nil {
		return nil, errors.New(validationMessage(err))
	}
	return req.toPoint(id)
}

// buildSchema creates the GraphQL schema wired to our services.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	pointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Point",
		Fields: graphql.Fields{
			"id":         &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"name":       &graphql.Field{Type: graphql.String},
			"latitude":   &graphql.Field{Type: graphql.Int},
			"longitude":  &graphql.Field{Type: graphql.Int},
			"open_hour":  &graphql.Field{Type: graphql.String},
			"close_hour": &graphql.Field{Type: graphql.String},
			"is_closed":  &graphql.Field{Type: graphql.Int, Description: "1 when closed at the queried hour; near queries only"},
			"created_at": &graphql.Field{Type: graphql.DateTime},
			"updated_at": &graphql.Field{Type: graphql.DateTime},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"points": &graphql.Field{
				Type:        graphql.NewList(pointType),
				Description: "List all points",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					points, err := deps.Points.List(p.Context)
					if err != nil {
						return nil, gqlError(err)
					}
					return points, nil
				},
			},
			"pointsNear": &graphql.Field{
				Type:        graphql.NewList(pointType),
				Description: "Points around a location, flagged open or closed at hour (HH:MM)",
				Args: graphql.FieldConfigArgument{
					"latitude":  &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Int)},
					"longitude": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Int)},
					"distance":  &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Int)},
					"hour":      &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					params := nearParams{
						Latitude:  p.Args["latitude"].(int),
						Longitude: p.Args["longitude"].(int),
						Distance:  p.Args["distance"].(int),
						Hour:      p.Args["hour"].(string),
					}
					if err := validate.Struct(&params); err != nil {
						return nil, errors.New(validationMessage(err))
					}
					at, err := domain.ParseTimeOfDay(params.Hour)
					if err != nil {
						return nil, err
					}
					points, err := deps.Points.Near(p.Context, params.Latitude, params.Longitude, params.Distance, at)
					if err != nil {
						return nil, gqlError(err)
					}
					return points, nil
				},
			},
		},
	})

	mutationType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"createPoint": &graphql.Field{
				Type:        pointType,
				Description: "Create a point",
				Args:        pointArgs(),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					point, err := pointFromArgs(p.Args, "")
					if err != nil {
						return nil, err
					}
					created, err := deps.Points.Create(p.Context, point)
					if err != nil {
						return nil, gqlError(err)
					}
					return created, nil
				},
			},
			"updatePoint": &graphql.Field{
				Type:        pointType,
				Description: "Replace every field of a point",
				Args: func() graphql.FieldConfigArgument {
					args := pointArgs()
					args["id"] = &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)}
					return args
				}(),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id := p.Args["id"].(string)
					if err := validate.Var(id, "uuid"); err != nil {
						return nil, errors.New("id must be a UUID")
					}
					point, err := pointFromArgs(p.Args, id)
					if err != nil {
						return nil, err
					}
					updated, err := deps.Points.Update(p.Context, point)
					if err != nil {
						return nil, gqlError(err)
					}
					return updated, nil
				},
			},
			"deletePoint": &graphql.Field{
				Type:        graphql.Boolean,
				Description: "Delete a point; unknown ids succeed",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id := p.Args["id"].(string)
					if err := validate.Var(id, "uuid"); err != nil {
						return nil, errors.New("id must be a UUID")
					}
					ok, err := deps.Points.Delete(p.Context, id)
					if err != nil {
						return nil, gqlError(err)
					}
					return ok, nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query:    queryType,
		Mutation: mutationType,
	})
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// This would be a programming error in the schema definition
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.UserContext(),
		})

		return c.JSON(result)
	}
}
