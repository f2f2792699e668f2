package transcript

// Navigator is the match cursor for next/previous navigation.
// The zero value is ready to use.
type Navigator struct {
	query  string
	total  int
	cursor int
}

// SetQuery resets the cursor for a new query. Re-setting the same query
// only updates the total.
func (n *Navigator) SetQuery(query string, total int) {
	if query != n.query {
		n.query = query
		n.cursor = 0
	}
	n.SetTotal(total)
}

// SetTotal clamps the cursor into [0, total).
func (n *Navigator) SetTotal(total int) {
	if total < 0 {
		total = 0
	}
	n.total = total
	switch {
	case total == 0:
		n.cursor = 0
	case n.cursor >= total:
		n.cursor = total - 1
	case n.cursor < 0:
		n.cursor = 0
	}
}

// Seek moves to i, clamped.
func (n *Navigator) Seek(i int) int {
	n.cursor = i
	n.SetTotal(n.total)
	return n.cursor
}

func (n *Navigator) Next() int {
	if n.total > 0 {
		n.cursor = (n.cursor + 1) % n.total
	}
	return n.cursor
}

func (n *Navigator) Prev() int {
	if n.total > 0 {
		n.cursor = (n.cursor - 1 + n.total) % n.total
	}
	return n.cursor
}

func (n *Navigator) Cursor() int   { return n.cursor }
func (n *Navigator) Total() int    { return n.total }
func (n *Navigator) Query() string { return n.query }
