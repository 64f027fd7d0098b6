package dashboard

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tetbloom/tetbloom/internal/access"
	"github.com/tetbloom/tetbloom/internal/groups"
	"github.com/tetbloom/tetbloom/internal/observations"
)

// UpcomingDays is the window of the upcoming list on every dashboard.
const UpcomingDays = 7

// UserCounter counts active users per role.
type UserCounter interface {
	CountByRole(ctx context.Context) (map[access.Role]int, error)
}

// GroupCounter counts groups visible to a viewer.
type GroupCounter interface {
	Count(ctx context.Context, v groups.Viewer) (int, error)
}

// ObservationReader reads observation figures scoped to a session.
type ObservationReader interface {
	CountUpcoming(ctx context.Context, sess access.Session) (int, error)
	CountStatus(ctx context.Context, sess access.Session, status observations.Status) (int, error)
	Upcoming(ctx context.Context, sess access.Session, days int) ([]observations.Observation, error)
}

// Card is one figure on a dashboard.
type Card struct {
	Label string
	Value int
	Link  string
}

// Dashboard is the landing page content of a role.
type Dashboard struct {
	Role     access.Role
	Cards    []Card
	Upcoming []observations.Observation
}

// Service assembles dashboards.
type Service struct {
	users        UserCounter
	groups       GroupCounter
	observations ObservationReader
	resolver     *access.Resolver
}

// NewService builds a Service.
func NewService(users UserCounter, groups GroupCounter, obs ObservationReader, resolver *access.Resolver) *Service {
	if resolver == nil {
		resolver = access.NewResolver(nil)
	}
	return &Service{users: users, groups: groups, observations: obs, resolver: resolver}
}

// For builds the dashboard of sess. The figures are loaded concurrently;
// the first failure cancels the rest.
func (s *Service) For(ctx context.Context, sess access.Session) (*Dashboard, error) {
	role := sess.Role()
	home := access.DefaultRoute(role)
	d := &Dashboard{Role: role}

	var mu sync.Mutex
	cards := make(map[int]Card)
	add := func(pos int, c Card) {
		mu.Lock()
		cards[pos] = c
		mu.Unlock()
	}

	g, ctx := errgroup.WithContext(ctx)
	if s.resolver.HasPermission(sess, access.PermManageUsers) {
		g.Go(func() error {
			counts, err := s.users.CountByRole(ctx)
			if err != nil {
				return err
			}
			add(0, Card{Label: "Teachers", Value: counts[access.RoleTeacher], Link: home + "/users?role=teacher"})
			add(1, Card{Label: "Administrators", Value: counts[access.RoleAdministrator], Link: home + "/users?role=administrator"})
			return nil
		})
	}
	if s.resolver.HasPermission(sess, access.PermManageGroups) {
		g.Go(func() error {
			n, err := s.groups.Count(ctx, groups.Viewer{ID: sess.User.ID, Role: role})
			if err != nil {
				return err
			}
			add(2, Card{Label: "Observation groups", Value: n, Link: home + "/groups"})
			return nil
		})
	}
	g.Go(func() error {
		n, err := s.observations.CountUpcoming(ctx, sess)
		if err != nil {
			return err
		}
		add(3, Card{Label: "Upcoming observations", Value: n, Link: home + "/observations?status=scheduled"})
		return nil
	})
	g.Go(func() error {
		n, err := s.observations.CountStatus(ctx, sess, observations.StatusCompleted)
		if err != nil {
			return err
		}
		add(4, Card{Label: "Completed observations", Value: n, Link: home + "/observations?status=completed"})
		return nil
	})
	g.Go(func() error {
		items, err := s.observations.Upcoming(ctx, sess, UpcomingDays)
		if err != nil {
			return err
		}
		d.Upcoming = items
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for pos := 0; pos <= 4; pos++ {
		if c, ok := cards[pos]; ok {
			d.Cards = append(d.Cards, c)
		}
	}
	return d, nil
}
