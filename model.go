package peloton

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// notLoaded marks a field that has never been fetched. Reading it through
// an accessor triggers the fetch.
type notLoaded struct{}

// dataMissing marks a field the service reported no data for (eg: no heart
// rate monitor used). It never triggers a fetch.
type dataMissing struct{}

type deferredState uint8

const (
	stateUnloaded deferredState = iota
	stateLoaded
	stateMissing
)

// deferred holds a lazily fetched field as an explicit tagged state, so an
// empty resolved value is never mistaken for "not fetched yet".
type deferred[T any] struct {
	mu    sync.Mutex
	state deferredState
	value T
}

func (d *deferred[T]) get() (T, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.value, d.state == stateLoaded
}

// resolved reports whether the field no longer needs a fetch, either
// because a value is present or because the service has none.
func (d *deferred[T]) resolved() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state != stateUnloaded
}

func (d *deferred[T]) store(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = stateLoaded
	d.value = v
}

func (d *deferred[T]) markMissing() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == stateUnloaded {
		d.state = stateMissing
	}
}

// adopt copies the source's value, or records that the upstream has none.
// The source is read directly, never through a resolving accessor.
func (d *deferred[T]) adopt(src *deferred[T]) {
	if v, ok := src.get(); ok {
		d.store(v)
		return
	}
	d.markMissing()
}

// raw returns the current value for serialization: the stored value when
// loaded, otherwise the state marker.
func (d *deferred[T]) raw() any {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.state {
	case stateLoaded:
		return d.value
	case stateMissing:
		return dataMissing{}
	default:
		return notLoaded{}
	}
}

// User describes a Peloton user.
type User struct {
	Username string
	ID       string
}

// NewUser builds a User from a raw API payload.
func NewUser(raw map[string]any) *User {
	return &User{
		Username: stringField(raw, "username"),
		ID:       stringField(raw, "id"),
	}
}

func (u *User) String() string { return u.Username }

func (u *User) attributes() []attribute {
	return []attribute{
		{"username", u.Username},
		{"id", u.ID},
	}
}

// Ride describes a ride (workout class).
type Ride struct {
	ID           string
	Title        string
	Description  string
	Duration     int // seconds
	InstructorID string
}

// NewRide builds a Ride from a raw API payload.
func NewRide(raw map[string]any) *Ride {
	return &Ride{
		ID:           stringField(raw, "id"),
		Title:        stringField(raw, "title"),
		Description:  stringField(raw, "description"),
		Duration:     intField(raw, "duration"),
		InstructorID: stringField(raw, "instructor_id"),
	}
}

func (r *Ride) String() string { return r.Title }

func (r *Ride) attributes() []attribute {
	return []attribute{
		{"id", r.ID},
		{"title", r.Title},
		{"description", r.Description},
		{"duration", r.Duration},
		{"instructor_id", r.InstructorID},
	}
}

// Metric is one fully resolved metric category of a workout.
type Metric struct {
	Slug    string
	Name    string
	Unit    string
	Average decimal.Decimal
	Max     decimal.Decimal
	Values  []float64
}

// NewMetric builds a Metric from a raw API payload.
func NewMetric(raw map[string]any) *Metric {
	return &Metric{
		Slug:    stringField(raw, "slug"),
		Name:    stringField(raw, "display_name"),
		Unit:    stringField(raw, "display_unit"),
		Average: decimalField(raw, "average_value"),
		Max:     decimalField(raw, "max_value"),
		Values:  floatSlice(raw, "values"),
	}
}

func (m *Metric) String() string { return m.Name }

func (m *Metric) attributes() []attribute {
	return []attribute{
		{"slug", m.Slug},
		{"name", m.Name},
		{"unit", m.Unit},
		{"average", m.Average},
		{"max", m.Max},
		{"values", m.Values},
	}
}

// MetricSummary is a display-oriented rollup of one metric.
type MetricSummary struct {
	Slug  string
	Name  string
	Unit  string
	Value decimal.Decimal
}

// NewMetricSummary builds a MetricSummary from a raw API payload.
func NewMetricSummary(raw map[string]any) *MetricSummary {
	return &MetricSummary{
		Slug:  stringField(raw, "slug"),
		Name:  stringField(raw, "display_name"),
		Unit:  stringField(raw, "display_unit"),
		Value: decimalField(raw, "value"),
	}
}

func (s *MetricSummary) String() string { return s.Name + " (" + s.Unit + ")" }

func (s *MetricSummary) attributes() []attribute {
	return []attribute{
		{"slug", s.Slug},
		{"name", s.Name},
		{"unit", s.Unit},
		{"value", s.Value},
	}
}

// WorkoutMetrics holds all metrics of a given workout. It is built fully
// populated, it is the resolved form of Workout's deferred metrics field.
type WorkoutMetrics struct {
	WorkoutDuration   int
	FitnessDiscipline string

	OutputSummary   *MetricSummary
	DistanceSummary *MetricSummary
	CaloriesSummary *MetricSummary

	Output     *Metric
	Cadence    *Metric
	Resistance *Metric
	Speed      *Metric
	HeartRate  *Metric
}

// NewWorkoutMetrics builds WorkoutMetrics from a raw performance graph
// payload. The payload must carry summaries, metrics, and a non-empty
// segment_list; missing keys elsewhere are tolerated. Unknown slugs are
// logged and dropped.
func NewWorkoutMetrics(raw map[string]any) (*WorkoutMetrics, error) {
	summaries, ok := raw["summaries"].([]any)
	if !ok {
		return nil, &ConstructionError{Entity: "WorkoutMetrics", Field: "summaries"}
	}
	metrics, ok := raw["metrics"].([]any)
	if !ok {
		return nil, &ConstructionError{Entity: "WorkoutMetrics", Field: "metrics"}
	}
	segments := mapSlice(raw, "segment_list")
	if len(segments) == 0 {
		return nil, &ConstructionError{Entity: "WorkoutMetrics", Field: "segment_list"}
	}

	wm := &WorkoutMetrics{
		WorkoutDuration:   intField(raw, "duration"),
		FitnessDiscipline: stringField(segments[0], "metrics_type"),
	}

	for _, el := range summaries {
		summary, ok := el.(map[string]any)
		if !ok {
			continue
		}
		switch slug := stringField(summary, "slug"); slug {
		case "total_output":
			wm.OutputSummary = NewMetricSummary(summary)
		case "distance":
			wm.DistanceSummary = NewMetricSummary(summary)
		case "calories":
			wm.CaloriesSummary = NewMetricSummary(summary)
		default:
			log.Warn().Str("slug", slug).Msg("unknown metric summary")
		}
	}

	for _, el := range metrics {
		metric, ok := el.(map[string]any)
		if !ok {
			continue
		}
		switch slug := stringField(metric, "slug"); slug {
		case "output":
			wm.Output = NewMetric(metric)
		case "cadence":
			wm.Cadence = NewMetric(metric)
		case "resistance":
			wm.Resistance = NewMetric(metric)
		case "speed":
			wm.Speed = NewMetric(metric)
		case "heart_rate":
			wm.HeartRate = NewMetric(metric)
		default:
			log.Warn().Str("slug", slug).Msg("unknown metric category")
		}
	}

	return wm, nil
}

func (wm *WorkoutMetrics) String() string { return wm.FitnessDiscipline }

func (wm *WorkoutMetrics) attributes() []attribute {
	attrs := []attribute{
		{"workout_duration", wm.WorkoutDuration},
		{"fitness_discipline", wm.FitnessDiscipline},
	}
	summaries := []struct {
		name    string
		summary *MetricSummary
	}{
		{"output_summary", wm.OutputSummary},
		{"distance_summary", wm.DistanceSummary},
		{"calories_summary", wm.CaloriesSummary},
	}
	for _, s := range summaries {
		if s.summary != nil {
			attrs = append(attrs, attribute{s.name, s.summary})
		}
	}
	categories := []struct {
		name   string
		metric *Metric
	}{
		{"output", wm.Output},
		{"cadence", wm.Cadence},
		{"resistance", wm.Resistance},
		{"speed", wm.Speed},
		{"heart_rate", wm.HeartRate},
	}
	for _, c := range categories {
		if c.metric != nil {
			attrs = append(attrs, attribute{c.name, c.metric})
		}
	}
	return attrs
}

// Achievement is one badge earned during a workout.
type Achievement struct {
	Name        string
	Description string
}

func (a *Achievement) String() string { return a.Name }

func (a *Achievement) attributes() []attribute {
	return []attribute{
		{"name", a.Name},
		{"description", a.Description},
	}
}

// Workout is one entry of a user's workout history. Metrics, achievements,
// and leaderboard standings are fetched on first access and cached for the
// lifetime of the instance; everything else is immutable once constructed.
type Workout struct {
	ID                string
	FitnessDiscipline string
	Status            string
	Created           time.Time
	CreatedAt         time.Time
	StartTime         time.Time
	EndTime           time.Time

	ride             deferred[*Ride]
	metrics          deferred[*WorkoutMetrics]
	achievements     deferred[[]*Achievement]
	leaderboardRank  deferred[int]
	leaderboardUsers deferred[int]

	fetcher Fetcher
	flight  singleflight.Group
}

// NewWorkout builds a Workout from a raw API payload and binds it to the
// fetcher used to resolve its deferred fields. The fetcher may be nil when
// the deferred accessors will never be used.
func NewWorkout(raw map[string]any, fetcher Fetcher) *Workout {
	w := &Workout{
		ID:                stringField(raw, "id"),
		FitnessDiscipline: stringField(raw, "fitness_discipline"),
		Status:            stringField(raw, "status"),
		Created:           epochField(raw, "created"),
		CreatedAt:         epochField(raw, "created_at"),
		StartTime:         epochField(raw, "start_time"),
		EndTime:           epochField(raw, "end_time"),
		fetcher:           fetcher,
	}

	// Ride details only come up from the workout list via a join.
	if ride, ok := raw["ride"].(map[string]any); ok {
		w.ride.store(NewRide(ride))
	}

	if templates, ok := raw["achievement_templates"].([]any); ok {
		achievements := make([]*Achievement, 0, len(templates))
		for _, el := range templates {
			t, ok := el.(map[string]any)
			if !ok {
				continue
			}
			achievements = append(achievements, &Achievement{
				Name:        stringField(t, "name"),
				Description: stringField(t, "description"),
			})
		}
		w.achievements.store(achievements)
	}

	// Only the per-workout detail payload carries leaderboard standings.
	if _, ok := raw["leaderboard_rank"]; ok {
		w.leaderboardRank.store(intField(raw, "leaderboard_rank"))
	}
	if _, ok := raw["total_leaderboard_users"]; ok {
		w.leaderboardUsers.store(intField(raw, "total_leaderboard_users"))
	}

	return w
}

func (w *Workout) String() string { return w.FitnessDiscipline }

// Ride returns the joined ride. The second return value is false when the
// listing did not join it; there is no fetch path for rides.
func (w *Workout) Ride() (*Ride, bool) {
	return w.ride.get()
}

// Metrics returns the workout's performance metrics, fetching them on first
// access.
func (w *Workout) Metrics(ctx context.Context) (*WorkoutMetrics, error) {
	if w.metrics.resolved() {
		m, _ := w.metrics.get()
		return m, nil
	}
	v, err, _ := w.flight.Do("metrics", func() (any, error) {
		raw, err := w.fetcher.WorkoutMetrics(ctx, w.ID)
		if err != nil {
			return nil, err
		}
		m, err := NewWorkoutMetrics(raw)
		if err != nil {
			return nil, err
		}
		w.metrics.store(m)
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*WorkoutMetrics), nil
}

// Achievements returns the badges earned during the workout, fetching the
// workout detail on first access.
func (w *Workout) Achievements(ctx context.Context) ([]*Achievement, error) {
	if !w.achievements.resolved() {
		if err := w.resolveDetail(ctx); err != nil {
			return nil, err
		}
	}
	a, _ := w.achievements.get()
	return a, nil
}

// LeaderboardRank returns the user's rank on the workout leaderboard,
// fetching the workout detail on first access. The rank is zero when the
// service has no leaderboard for the workout.
func (w *Workout) LeaderboardRank(ctx context.Context) (int, error) {
	if !w.leaderboardRank.resolved() {
		if err := w.resolveDetail(ctx); err != nil {
			return 0, err
		}
	}
	rank, _ := w.leaderboardRank.get()
	return rank, nil
}

// LeaderboardUsers returns the leaderboard size, fetching the workout
// detail on first access.
func (w *Workout) LeaderboardUsers(ctx context.Context) (int, error) {
	if !w.leaderboardUsers.resolved() {
		if err := w.resolveDetail(ctx); err != nil {
			return 0, err
		}
	}
	users, _ := w.leaderboardUsers.get()
	return users, nil
}

// resolveDetail fetches the workout detail payload once and fills the
// leaderboard standings and achievements together, they share the same
// upstream response. Concurrent callers share a single fetch and see the
// same error; a failed fetch commits nothing so the next access retries.
func (w *Workout) resolveDetail(ctx context.Context) error {
	_, err, _ := w.flight.Do("detail", func() (any, error) {
		raw, err := w.fetcher.WorkoutDetail(ctx, w.ID)
		if err != nil {
			return nil, err
		}
		detail := NewWorkout(raw, nil)
		w.leaderboardRank.adopt(&detail.leaderboardRank)
		w.leaderboardUsers.adopt(&detail.leaderboardUsers)
		w.achievements.adopt(&detail.achievements)
		return nil, nil
	})
	return err
}

func (w *Workout) attributes() []attribute {
	return []attribute{
		{"id", w.ID},
		{"ride", w.ride.raw()},
		{"metrics", w.metrics.raw()},
		{"achievements", w.achievements.raw()},
		{"created", w.Created},
		{"created_at", w.CreatedAt},
		{"start_time", w.StartTime},
		{"end_time", w.EndTime},
		{"fitness_discipline", w.FitnessDiscipline},
		{"leaderboard_rank", w.leaderboardRank.raw()},
		{"leaderboard_users", w.leaderboardUsers.raw()},
		{"status", w.Status},
	}
}
