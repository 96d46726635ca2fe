package runtime

import "log"

// InterventionHandler is a pre-delivery hook applied, in registration
// order, to every envelope before dispatch. Each method returns the
// (possibly mutated) message and an explicit drop flag, removing the
// ambiguous nil-means-no-change contract the source's None return
// carried; an implementation that wants "no change" simply returns
// the message it was given unchanged with drop=false.
type InterventionHandler interface {
	OnSend(message any, mctx interface{}) (out any, drop bool, err error)
	OnPublish(message any, mctx interface{}) (out any, drop bool, err error)
	OnResponse(message any, mctx interface{}) (out any, drop bool, err error)
}

// interventionChain runs an ordered list of handlers over one
// envelope kind, logging and swallowing handler errors (treated as an
// implicit drop) and warning on an unexpected nil pass-through.
type interventionChain struct {
	handlers []InterventionHandler
}

func newInterventionChain() *interventionChain {
	return &interventionChain{}
}

func (c *interventionChain) add(h InterventionHandler) {
	c.handlers = append(c.handlers, h)
}

// runSend applies every handler's OnSend in order, short-circuiting
// on the first drop or error.
func (c *interventionChain) runSend(message any, mctx interface{}) (any, bool) {
	return c.run(message, mctx, func(h InterventionHandler, m any) (any, bool, error) {
		return h.OnSend(m, mctx)
	})
}

func (c *interventionChain) runPublish(message any, mctx interface{}) (any, bool) {
	return c.run(message, mctx, func(h InterventionHandler, m any) (any, bool, error) {
		return h.OnPublish(m, mctx)
	})
}

func (c *interventionChain) runResponse(message any, mctx interface{}) (any, bool) {
	return c.run(message, mctx, func(h InterventionHandler, m any) (any, bool, error) {
		return h.OnResponse(m, mctx)
	})
}

func (c *interventionChain) run(message any, mctx interface{}, call func(InterventionHandler, any) (any, bool, error)) (any, bool) {
	current := message
	for _, h := range c.handlers {
		out, drop, err := call(h, current)
		if err != nil {
			log.Printf("[runtime] intervention handler error, dropping envelope: %v", err)
			return nil, true
		}
		if drop {
			log.Printf("[runtime] intervention handler dropped message")
			return nil, true
		}
		if out == nil {
			log.Printf("[runtime] intervention handler returned nil without drop=true, treating as pass-through")
			continue
		}
		current = out
	}
	return current, false
}
