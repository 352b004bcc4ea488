package http

import (
	"errors"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/civicmap/internal/core/domain"
	"github.com/samirrijal/civicmap/internal/core/placesearch"
	"github.com/samirrijal/civicmap/internal/pkg/geospatial"
)

const (
	maxQueryLength      = 200
	maxIssueRadiusM     = 50000
	defaultIssueRadiusM = 5000
	defaultSearchSize   = placesearch.DefaultLimit
	maxClientIDLength   = 128
)

// GatewayStats holds counts of the gateway's own records.
type GatewayStats struct {
	Viewpoints   int    `json:"viewpoints"`
	Preferences  int    `json:"preferences"`
	LiveSessions int    `json:"live_sessions"`
	LastUpdate   string `json:"last_update,omitempty"`
}

// StatsHandler returns row counts from the gateway tables and the number of
// live sessions on this instance.
func StatsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var stats GatewayStats
		if deps.Hub != nil {
			stats.LiveSessions = deps.Hub.Count()
		}
		if deps.DB != nil {
			row := deps.DB.Pool.QueryRow(c.UserContext(), `
				SELECT
					(SELECT count(*) FROM viewpoints),
					(SELECT count(*) FROM preferences),
					COALESCE((SELECT max(updated_at)::text FROM viewpoints), '')
			`)
			if err := row.Scan(&stats.Viewpoints, &stats.Preferences, &stats.LastUpdate); err != nil {
				return errInternal(c, err.Error())
			}
		}

		c.Set("Cache-Control", "public, max-age=60")
		return c.JSON(stats)
	}
}

// --- places ---

// SearchPlacesHandler forward-geocodes q. Queries shorter than the search
// minimum return an empty list without calling the geocoder.
func SearchPlacesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		q := strings.TrimSpace(c.Query("q"))
		if utf8.RuneCountInString(q) > maxQueryLength {
			return errBadRequest(c, "query too long (max 200 characters)")
		}
		if utf8.RuneCountInString(q) < deps.searchMinLength() {
			return c.JSON([]domain.Place{})
		}
		limit := deps.SearchLimit
		if limit <= 0 {
			limit = defaultSearchSize
		}

		places, err := deps.Geocoder.Search(c.UserContext(), q, limit)
		if err != nil {
			return errFromDomain(c, err)
		}
		if places == nil {
			places = []domain.Place{}
		}
		return c.JSON(places)
	}
}

// ReversePlace is the answer of the reverse geocode endpoint.
type ReversePlace struct {
	Label       string         `json:"label"`
	DisplayName string         `json:"display_name"`
	Address     domain.Address `json:"address"`
}

// ReversePlaceHandler labels a point the way the live map does at the given
// zoom.
func ReversePlaceHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := queryPoint(c)
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		zoom := c.QueryInt("zoom", 15)
		if zoom < 0 || zoom > 20 {
			return errBadRequest(c, "zoom must be between 0 and 20")
		}

		rp, err := deps.Geocoder.Reverse(c.UserContext(), p, zoom)
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(ReversePlace{Label: rp.Label(zoom), DisplayName: rp.DisplayName, Address: rp.Address})
	}
}

// --- issues ---

// ListIssuesHandler lists issues inside bbox, or within radius metres of
// lat/lng when no bbox is given.
func ListIssuesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var b domain.Bounds
		if raw := c.Query("bbox"); raw != "" {
			parsed, err := domain.ParseBBox(raw)
			if err != nil {
				return errBadRequest(c, err.Error())
			}
			b = parsed
		} else {
			p, err := queryPoint(c)
			if err != nil {
				return errBadRequest(c, "bbox or lat and lng are required")
			}
			radius := c.QueryFloat("radius", defaultIssueRadiusM)
			if radius <= 0 || radius > maxIssueRadiusM {
				return errBadRequest(c, "radius must be between 1 and 50000 meters")
			}
			b.MinLat, b.MinLng, b.MaxLat, b.MaxLng = geospatial.BoundingBox(p.Lat, p.Lng, radius)
		}

		issues, err := deps.Issues.ListInBounds(c.UserContext(), b, c.Query("status"))
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(paginate(c, issues))
	}
}

// GetIssueHandler returns one issue.
func GetIssueHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if id == "" {
			return errBadRequest(c, "issue id is required")
		}
		issue, err := deps.Issues.Get(c.UserContext(), id)
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(issue)
	}
}

// ReportIssueHandler submits a citizen report. A client_id query parameter
// fills in the client's stored viewpoint when the body has no location.
func ReportIssueHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var draft domain.IssueDraft
		if err := c.BodyParser(&draft); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		if clientID := c.Query("client_id"); clientID != "" {
			if err := validClientID(clientID); err != nil {
				return errBadRequest(c, err.Error())
			}
			draft.ReporterID = clientID
			if draft.Location == nil && deps.Viewpoints != nil {
				if v, err := deps.Viewpoints.Get(c.UserContext(), clientID); err == nil {
					p := v.Point()
					draft.Location = &p
				}
			}
		}

		issue, err := deps.Reports.Report(c.UserContext(), draft)
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(issue)
	}
}

type voteRequest struct {
	Direction string `json:"direction"`
}

// VoteIssueHandler records an up or down vote on an issue.
func VoteIssueHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		dir, err := parseVote(c)
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		tally, err := deps.Issues.Vote(c.UserContext(), c.Params("id"), dir)
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(tally)
	}
}

// --- solutions ---

// ListSolutionsHandler lists solutions with optional filters.
func ListSolutionsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		q := domain.SolutionQuery{
			Category: c.Query("category"),
			Language: c.Query("language"),
			Search:   strings.TrimSpace(c.Query("search")),
		}
		if utf8.RuneCountInString(q.Search) > maxQueryLength {
			return errBadRequest(c, "search too long (max 200 characters)")
		}
		sols, err := deps.Solutions.List(c.UserContext(), q)
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(paginate(c, sols))
	}
}

// GetSolutionHandler returns one solution with its steps.
func GetSolutionHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if id == "" {
			return errBadRequest(c, "solution id is required")
		}
		sol, err := deps.Solutions.Get(c.UserContext(), id)
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(sol)
	}
}

// VoteSolutionHandler records an up or down vote on a solution.
func VoteSolutionHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		dir, err := parseVote(c)
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		tally, err := deps.Solutions.Vote(c.UserContext(), c.Params("id"), dir)
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(tally)
	}
}

// SuggestEditHandler forwards an edit suggestion for a solution.
func SuggestEditHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body struct {
			Text string `json:"suggestion_text"`
		}
		if err := c.BodyParser(&body); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		sg := domain.EditSuggestion{SolutionID: c.Params("id"), Text: body.Text}
		if err := deps.Solutions.SuggestEdit(c.UserContext(), sg); err != nil {
			return errFromDomain(c, err)
		}
		return c.SendStatus(fiber.StatusAccepted)
	}
}

// CategoriesHandler lists issue and solution categories.
func CategoriesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		cats, err := deps.Solutions.Categories(c.UserContext())
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(cats)
	}
}

// --- nearby ---

// NearbyHandler returns the top unresolved issues and top solutions around
// lat/lng.
func NearbyHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := queryPoint(c)
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		res, err := deps.Nearby.Find(c.UserContext(), p)
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(res)
	}
}

// --- per-client records ---

// GetViewpointHandler returns a client's stored viewpoint.
func GetViewpointHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		clientID := c.Params("client_id")
		if err := validClientID(clientID); err != nil {
			return errBadRequest(c, err.Error())
		}
		v, err := deps.Viewpoints.Get(c.UserContext(), clientID)
		if errors.Is(err, domain.ErrNotFound) {
			return errNotFound(c, "no stored viewpoint")
		}
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(v)
	}
}

// PutViewpointHandler replaces a client's stored viewpoint.
func PutViewpointHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		clientID := c.Params("client_id")
		if err := validClientID(clientID); err != nil {
			return errBadRequest(c, err.Error())
		}
		var v domain.Viewpoint
		if err := c.BodyParser(&v); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		if err := deps.Viewpoints.Put(c.UserContext(), clientID, v); err != nil {
			return errFromDomain(c, err)
		}
		stored, err := deps.Viewpoints.Get(c.UserContext(), clientID)
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(stored)
	}
}

// DeleteViewpointHandler clears a client's stored viewpoint.
func DeleteViewpointHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		clientID := c.Params("client_id")
		if err := validClientID(clientID); err != nil {
			return errBadRequest(c, err.Error())
		}
		if err := deps.Viewpoints.Delete(c.UserContext(), clientID); err != nil {
			return errFromDomain(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

type languageBody struct {
	Language string `json:"language"`
}

// GetLanguageHandler returns a client's interface language.
func GetLanguageHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		clientID := c.Params("client_id")
		if err := validClientID(clientID); err != nil {
			return errBadRequest(c, err.Error())
		}
		lang, err := deps.Prefs.Language(c.UserContext(), clientID)
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(languageBody{Language: lang})
	}
}

// PutLanguageHandler stores a client's interface language.
func PutLanguageHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		clientID := c.Params("client_id")
		if err := validClientID(clientID); err != nil {
			return errBadRequest(c, err.Error())
		}
		var body languageBody
		if err := c.BodyParser(&body); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		if err := deps.Prefs.SetLanguage(c.UserContext(), clientID, body.Language); err != nil {
			return errFromDomain(c, err)
		}
		lang, err := deps.Prefs.Language(c.UserContext(), clientID)
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(languageBody{Language: lang})
	}
}

// --- helpers ---

// queryPoint reads the lat and lng query parameters. Both are required;
// zero is a valid coordinate.
func queryPoint(c *fiber.Ctx) (domain.GeoPoint, error) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		return domain.GeoPoint{}, errors.New("lat and lng are required")
	}
	p := domain.GeoPoint{Lat: lat, Lng: lng}
	if !p.Valid() {
		return domain.GeoPoint{}, errors.New("lat must be within ±90 and lng within ±180")
	}
	return p, nil
}

func parseVote(c *fiber.Ctx) (domain.VoteDirection, error) {
	var body voteRequest
	if err := c.BodyParser(&body); err != nil {
		return "", errors.New("invalid request body")
	}
	return domain.ParseVoteDirection(body.Direction)
}

func validClientID(id string) error {
	if id == "" {
		return errors.New("client id is required")
	}
	if len(id) > maxClientIDLength {
		return errors.New("client id too long (max 128 characters)")
	}
	for _, r := range id {
		if r <= ' ' || r == '/' || r == 0x7f {
			return errors.New("client id contains invalid characters")
		}
	}
	return nil
}
