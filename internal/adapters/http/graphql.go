package http

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/samirrijal/civicmap/internal/core/domain"
)

// buildSchema creates the GraphQL schema wired to our services.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	geoPointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "GeoPoint",
		Fields: graphql.Fields{
			"lat": &graphql.Field{Type: graphql.Float},
			"lng": &graphql.Field{Type: graphql.Float},
		},
	})

	viewpointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Viewpoint",
		Fields: graphql.Fields{
			"lat":   &graphql.Field{Type: graphql.Float},
			"lng":   &graphql.Field{Type: graphql.Float},
			"label": &graphql.Field{Type: graphql.String},
		},
	})

	placeType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Place",
		Fields: graphql.Fields{
			"display_name": &graphql.Field{Type: graphql.String},
			"short_name":   &graphql.Field{Type: graphql.String},
			"lat":          &graphql.Field{Type: graphql.Float},
			"lng":          &graphql.Field{Type: graphql.Float},
		},
	})

	issueType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Issue",
		Fields: graphql.Fields{
			"id":             &graphql.Field{Type: graphql.String},
			"title":          &graphql.Field{Type: graphql.String},
			"description":    &graphql.Field{Type: graphql.String},
			"category":       &graphql.Field{Type: graphql.String},
			"status":         &graphql.Field{Type: graphql.String},
			"status_display": &graphql.Field{Type: graphql.String},
			"upvotes":        &graphql.Field{Type: graphql.Int},
			"downvotes":      &graphql.Field{Type: graphql.Int},
			"location":       &graphql.Field{Type: geoPointType},
			"distance_m":     &graphql.Field{Type: graphql.Float},
		},
	})

	solutionType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Solution",
		Fields: graphql.Fields{
			"id":           &graphql.Field{Type: graphql.String},
			"title":        &graphql.Field{Type: graphql.String},
			"category":     &graphql.Field{Type: graphql.String},
			"language":     &graphql.Field{Type: graphql.String},
			"success_rate": &graphql.Field{Type: graphql.Float},
			"upvotes":      &graphql.Field{Type: graphql.Int},
			"downvotes":    &graphql.Field{Type: graphql.Int},
			"is_verified":  &graphql.Field{Type: graphql.Boolean},
			"steps":        &graphql.Field{Type: graphql.NewList(graphql.String)},
		},
	})

	categoryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Category",
		Fields: graphql.Fields{
			"id":   &graphql.Field{Type: graphql.String},
			"name": &graphql.Field{Type: graphql.String},
			"slug": &graphql.Field{Type: graphql.String},
		},
	})

	nearbyType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Nearby",
		Fields: graphql.Fields{
			"issues":    &graphql.Field{Type: graphql.NewList(issueType)},
			"solutions": &graphql.Field{Type: graphql.NewList(solutionType)},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"viewpoint": &graphql.Field{
				Type:        viewpointType,
				Description: "A client's stored viewpoint, null when none is stored",
				Args: graphql.FieldConfigArgument{
					"client_id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					clientID := p.Args["client_id"].(string)
					if err := validClientID(clientID); err != nil {
						return nil, err
					}
					v, err := deps.Viewpoints.Get(p.Context, clientID)
					if errors.Is(err, domain.ErrNotFound) {
						return nil, nil
					}
					return v, err
				},
			},
			"nearby": &graphql.Field{
				Type:        nearbyType,
				Description: "Most supported open issues and top solutions around a point",
				Args: graphql.FieldConfigArgument{
					"lat": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"lng": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					pt := domain.GeoPoint{Lat: p.Args["lat"].(float64), Lng: p.Args["lng"].(float64)}
					if !pt.Valid() {
						return nil, errors.New("lat must be within ±90 and lng within ±180")
					}
					return deps.Nearby.Find(p.Context, pt)
				},
			},
			"places": &graphql.Field{
				Type:        graphql.NewList(placeType),
				Description: "Forward-geocode a query; short queries return no places",
				Args: graphql.FieldConfigArgument{
					"query": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					q := strings.TrimSpace(p.Args["query"].(string))
					n := utf8.RuneCountInString(q)
					if n > maxQueryLength {
						return nil, errors.New("query too long (max 200 characters)")
					}
					if n < deps.searchMinLength() {
						return []map[string]interface{}{}, nil
					}
					limit := deps.SearchLimit
					if limit <= 0 {
						limit = defaultSearchSize
					}
					places, err := deps.Geocoder.Search(p.Context, q, limit)
					if err != nil {
						return nil, err
					}
					// Coordinates arrive as strings; expose the parsed point.
					result := make([]map[string]interface{}, 0, len(places))
					for _, pl := range places {
						m := map[string]interface{}{
							"display_name": pl.DisplayName,
							"short_name":   pl.ShortName(),
						}
						if v, ok := pl.Viewpoint(); ok {
							m["lat"] = v.Lat
							m["lng"] = v.Lng
						}
						result = append(result, m)
					}
					return result, nil
				},
			},
			"issues": &graphql.Field{
				Type:        graphql.NewList(issueType),
				Description: "Issues inside a bbox (minLng,minLat,maxLng,maxLat)",
				Args: graphql.FieldConfigArgument{
					"bbox":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"status": &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: ""},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					b, err := domain.ParseBBox(p.Args["bbox"].(string))
					if err != nil {
						return nil, err
					}
					status, _ := p.Args["status"].(string)
					return deps.Issues.ListInBounds(p.Context, b, status)
				},
			},
			"solution": &graphql.Field{
				Type:        solutionType,
				Description: "Get a solution by ID",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Solutions.Get(p.Context, p.Args["id"].(string))
				},
			},
			"categories": &graphql.Field{
				Type:        graphql.NewList(categoryType),
				Description: "Issue and solution categories",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Solutions.Categories(p.Context)
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
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
		if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.Query) == "" {
			return errBadRequest(c, "invalid request body")
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.UserContext(),
		})
		if result.HasErrors() {
			LoggerFromCtx(c.UserContext()).Debug("graphql errors", "count", len(result.Errors), "first", result.Errors[0].Message)
		}

		c.Set(fiber.HeaderCacheControl, "private, max-age=0")
		return c.JSON(result)
	}
}
