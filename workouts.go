package peloton

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// concurrency bounds the parallel page fetches during a listing.
const concurrency = 8

// Workouts returns the user's complete workout history, newest first, with
// rides joined. The first page reveals the page count; the remaining pages
// are fetched concurrently and stitched back together in page order.
func (c *Client) Workouts(ctx context.Context) ([]*Workout, error) {
	if err := c.authenticate(ctx); err != nil {
		return nil, err
	}
	userID := c.UserID()

	first, pages, err := c.WorkoutsPage(ctx, userID, 0, c.pageSize)
	if err != nil {
		return nil, err
	}

	pageData := make([][]map[string]any, pages)
	if pages > 0 {
		pageData[0] = first
	} else {
		pageData = [][]map[string]any{first}
	}

	grp, ctx := errgroup.WithContext(ctx)
	grp.SetLimit(concurrency)
	for page := 1; page < pages; page++ {
		page := page
		grp.Go(func() error {
			data, _, err := c.WorkoutsPage(ctx, userID, page, c.pageSize)
			if err != nil {
				return err
			}
			pageData[page] = data
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}

	var workouts []*Workout
	for _, data := range pageData {
		for _, raw := range data {
			workouts = append(workouts, NewWorkout(raw, c))
		}
	}
	return workouts, nil
}

// Workout fetches a single workout by id, bound to the client for lazy
// resolution of its deferred fields.
func (c *Client) Workout(ctx context.Context, workoutID string) (*Workout, error) {
	raw, err := c.WorkoutByID(ctx, workoutID)
	if err != nil {
		return nil, err
	}
	return NewWorkout(raw, c), nil
}
