package peloton

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// serializeDepth is how far the served JSON descends into the object graph:
// a workout and its immediate children (ride, metrics, achievements).
const serializeDepth = 2

// Handler serves the client's object graph as read-only JSON.
type Handler struct {
	client *Client
}

func NewHandler(client *Client) *Handler {
	return &Handler{client: client}
}

// Register wires the handler's routes onto the echo instance.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/workouts", h.Workouts)
	e.GET("/workouts/:id", h.Workout)
	e.GET("/workouts/:id/performance", h.Performance)
}

// Workouts lists the user's workout history.
func (h *Handler) Workouts(c echo.Context) error {
	workouts, err := h.client.Workouts(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	out := make([]map[string]any, 0, len(workouts))
	for _, w := range workouts {
		out = append(out, Serialize(w, serializeDepth, false))
	}
	return c.JSON(http.StatusOK, out)
}

// Workout returns one workout with its leaderboard standings and
// achievements resolved.
func (h *Handler) Workout(c echo.Context) error {
	ctx := c.Request().Context()
	workout, err := h.client.Workout(ctx, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	if _, err := workout.Achievements(ctx); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, Serialize(workout, serializeDepth, false))
}

// Performance returns the resolved performance metrics for a workout.
func (h *Handler) Performance(c echo.Context) error {
	ctx := c.Request().Context()
	workout, err := h.client.Workout(ctx, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	metrics, err := workout.Metrics(ctx)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, Serialize(metrics, serializeDepth, false))
}

// httpError maps the upstream error classification onto a response status:
// client faults keep their upstream status, everything else from the API is
// a bad gateway.
func httpError(err error) error {
	var (
		clientErr   *ClientError
		serverErr   *ServerError
		redirectErr *RedirectError
	)
	switch {
	case errors.As(err, &clientErr):
		return echo.NewHTTPError(clientErr.StatusCode, clientErr.Message)
	case errors.As(err, &serverErr):
		return echo.NewHTTPError(http.StatusBadGateway, serverErr.Message)
	case errors.As(err, &redirectErr):
		return echo.NewHTTPError(http.StatusBadGateway, redirectErr.Message)
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
