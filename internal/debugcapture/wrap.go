package debugcapture

import (
	"context"

	"github.com/hochfrequenz/posterbadge/internal/engine"
)

// Wrap returns an engine that records every call made for jobID while a
// session is live. The wrapped engine's results are passed through unchanged.
func (c *Capture) Wrap(jobID string, e engine.Engine) engine.Engine {
	return engine.Func(func(ctx context.Context, itemID string, badgeTypes []string) (engine.Result, error) {
		start := c.now()
		res, err := e.Enhance(ctx, itemID, badgeTypes)
		body := ""
		if err != nil {
			body = engine.ErrorBody(err)
		}
		c.Record(jobID, itemID, engine.StatusCode(err), body, c.now().Sub(start))
		return res, err
	})
}
