// Package fanout turns a mutation into notification records, one per
// interested user, and writes them to the remote store.
//
// Writes are fire-and-forget relative to the mutation that caused them.
// Every record is written independently; failures are logged and counted but
// never returned to the caller.
package fanout

import (
	"context"
	"strings"
	"time"

	"github.com/mschirtzinger/tracksync/internal/model"
	"github.com/mschirtzinger/tracksync/internal/remote"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// Descriptor describes a mutation worth notifying about.
type Descriptor struct {
	Action    model.ActionType
	Actor     string
	Targets   []string
	ProjectID string
	TaskID    string
	Title     string
	Message   string
}

// Compute derives the notification records for d. Targets are deduplicated,
// blank ids dropped, and the actor never notifies themselves.
func Compute(d Descriptor, now time.Time) []*model.Notification {
	seen := make(map[string]bool, len(d.Targets))
	var out []*model.Notification
	for _, target := range d.Targets {
		target = strings.TrimSpace(target)
		if target == "" || target == d.Actor || seen[target] {
			continue
		}
		seen[target] = true
		out = append(out, &model.Notification{
			Title:      d.Title,
			Message:    d.Message,
			Type:       typeFor(d.Action),
			UserID:     target,
			ProjectID:  d.ProjectID,
			TaskID:     d.TaskID,
			ActionType: d.Action,
			CreatedAt:  now.UTC(),
		})
	}
	return out
}

func typeFor(a model.ActionType) string {
	switch a {
	case model.ActionTaskAssigned, model.ActionTaskStatusChanged, model.ActionTaskCommentAdded:
		return "task"
	}
	return "project"
}

// Result counts what Publish did.
type Result struct {
	Written int
	Failed  int
}

// Options configures a Service.
type Options struct {
	MaxFailures uint32
	Timeout     time.Duration
	Now         func() time.Time
}

// Service writes notifications through a circuit breaker.
type Service struct {
	store   remote.Store
	breaker *gobreaker.CircuitBreaker
	log     logrus.FieldLogger
	now     func() time.Time
}

// New creates a Service writing to store.
func New(store remote.Store, log logrus.FieldLogger, opts Options) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "fanout")
	if opts.MaxFailures == 0 {
		opts.MaxFailures = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	maxFailures := opts.MaxFailures
	return &Service{
		store: store,
		log:   log,
		now:   opts.Now,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "notifications",
			MaxRequests: 1,
			Timeout:     opts.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > maxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.WithFields(logrus.Fields{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				}).Warn("circuit breaker state changed")
			},
		}),
	}
}

// Publish writes every notification derived from d.
func (s *Service) Publish(ctx context.Context, d Descriptor) Result {
	var res Result
	for _, n := range Compute(d, s.now()) {
		_, err := s.breaker.Execute(func() (interface{}, error) {
			return s.store.Create(ctx, remote.CollectionNotifications, n.Fields())
		})
		if err != nil {
			res.Failed++
			s.log.WithError(err).WithFields(logrus.Fields{
				"action":  d.Action,
				"user_id": n.UserID,
			}).Warn("notification write failed")
			continue
		}
		res.Written++
	}
	if res.Written+res.Failed > 0 {
		s.log.WithFields(logrus.Fields{
			"action":  d.Action,
			"written": res.Written,
			"failed":  res.Failed,
		}).Debug("fan-out complete")
	}
	return res
}
