// Package navigation tracks the current question cursor of a session.
package navigation

// Controller keeps the cursor inside [0, count-1]. Out of range requests saturate.
type Controller struct {
	index int
	count int
}

// NewController builds a cursor over count questions, starting at 0.
func NewController(count int) *Controller {
	return &Controller{count: count}
}

// CurrentIndex returns the cursor position.
func (c *Controller) CurrentIndex() int {
	return c.index
}

// GoTo moves the cursor, clamping to the nearest bound.
func (c *Controller) GoTo(index int) int {
	switch {
	case c.count == 0 || index < 0:
		index = 0
	case index >= c.count:
		index = c.count - 1
	}
	c.index = index
	return c.index
}

// Next moves one question forward; a no-op on the last question.
func (c *Controller) Next() int {
	return c.GoTo(c.index + 1)
}

// Previous moves one question back; a no-op on the first question.
func (c *Controller) Previous() int {
	return c.GoTo(c.index - 1)
}
