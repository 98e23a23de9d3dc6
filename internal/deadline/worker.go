package deadline

import (
	"context"

	"folibot/internal/eventbus"
	logx "folibot/pkg/logx"
)

// run walks rec's checkpoint table. It returns when the record leaves the
// registry, when the scheduler shuts down, or after the terminal action.
func (s *Service) run(ctx context.Context, rec *record) {
	defer close(rec.done)
	log := s.log.With(logx.Folio(rec.item), logx.Owner(rec.owner))

	for _, cp := range rec.sched.steps {
		if wait := rec.started.Add(cp.At).Sub(s.clock.Now()); wait > 0 {
			select {
			case <-ctx.Done():
				return
			case <-rec.cancel:
				return
			case <-s.clock.After(wait):
			}
		}

		if cp.Terminal {
			s.expire(ctx, rec, log)
			return
		}
		if !s.reg.current(rec) {
			return
		}
		s.remind(ctx, rec, cp, log)
	}
}

func (s *Service) remind(ctx context.Context, rec *record, cp Checkpoint, log logx.Logger) {
	cfg := s.config()
	sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	out := s.sink.Send(sctx, rec.owner, s.format.Reminder(rec.item, cp.Remaining))
	cancel()
	if !out.OK {
		log.Warn("reminder not delivered", logx.Duration("remaining", cp.Remaining), logx.String("reason", out.Reason))
	} else {
		log.Debug("reminder sent", logx.Duration("remaining", cp.Remaining))
	}
	s.publish(eventbus.DeadlineReminder, Event{Item: rec.item, Owner: rec.owner, Remaining: cp.Remaining, Reason: out.Reason})
}

// expire claims the record and, only if the claim wins against Cancel,
// deletes the item and tells the owner.
func (s *Service) expire(ctx context.Context, rec *record, log logx.Logger) {
	if !s.reg.removeIf(rec) {
		return
	}
	cfg := s.config()

	if s.store != nil {
		dctx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
		if err := s.store.Delete(dctx, rec.item); err != nil {
			log.Error("expired item delete failed", logx.Err(err))
		}
		cancel()
	}

	sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	out := s.sink.Send(sctx, rec.owner, s.format.Expired(rec.item))
	cancel()
	if !out.OK {
		log.Warn("expiry notice not delivered", logx.String("reason", out.Reason))
	}

	log.Info("timer expired")
	s.publish(eventbus.DeadlineExpired, Event{Item: rec.item, Owner: rec.owner, Reason: out.Reason})
}
