// Package planner finds shortest routes across an occupancy grid.
package planner

import (
	"container/heap"
	"errors"
	"image"

	"github.com/ayusman/gridpoint/internal/grid"
)

// ErrNoPath is returned when the goal cannot be reached from the start cell.
var ErrNoPath = errors.New("no path to goal")

// Waypoint is a path point in image pixels.
type Waypoint struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// StartCell returns the fixed entry cell: the middle of the right image edge.
func StartCell(g *grid.Grid) grid.Cell {
	return grid.Cell{Row: g.Rows() / 2, Col: g.Cols() - 1}
}

// DefaultGoal returns the middle of the left image edge.
func DefaultGoal(g *grid.Grid) grid.Cell {
	return grid.Cell{Row: g.Rows() / 2, Col: 0}
}

// GoalFromPixel maps a pixel, such as a marker center, to a goal cell.
func GoalFromPixel(g *grid.Grid, p image.Point) (*grid.Cell, bool) {
	c, ok := g.Cell(p.X, p.Y)
	if !ok {
		return nil, false
	}
	return &c, true
}

// FindPath runs a 4-connected A* search with a Manhattan heuristic and unit
// step cost from StartCell to goal, or to DefaultGoal when goal is nil. The
// returned waypoints are cell centers, start and goal inclusive.
func FindPath(g *grid.Grid, goal *grid.Cell) ([]Waypoint, error) {
	cells, err := FindCells(g, goal)
	if err != nil {
		return nil, err
	}

	path := make([]Waypoint, len(cells))
	for i, c := range cells {
		p, _ := g.CellCenter(c.Row, c.Col)
		path[i] = Waypoint{X: p.X, Y: p.Y}
	}
	return path, nil
}

// FindCells is FindPath returning grid cells instead of pixels.
func FindCells(g *grid.Grid, goal *grid.Cell) ([]grid.Cell, error) {
	start := StartCell(g)
	end := DefaultGoal(g)
	if goal != nil {
		end = *goal
	}

	if !g.InBounds(end.Row, end.Col) {
		return nil, ErrNoPath
	}
	if g.IsOccupied(start.Row, start.Col) || g.IsOccupied(end.Row, end.Col) {
		return nil, ErrNoPath
	}

	cols := g.Cols()
	idx := func(c grid.Cell) int { return c.Row*cols + c.Col }

	n := g.Rows() * cols
	cost := make([]int, n)
	from := make([]int, n)
	closed := make([]bool, n)
	for i := range cost {
		cost[i] = -1
		from[i] = -1
	}

	open := &queue{}
	seq := 0
	cost[idx(start)] = 0
	heap.Push(open, &node{cell: start, f: manhattan(start, end), seq: seq})

	for open.Len() > 0 {
		cur := heap.Pop(open).(*node)
		ci := idx(cur.cell)
		if closed[ci] {
			continue
		}
		closed[ci] = true

		if cur.cell == end {
			return reconstruct(from, ci, cols), nil
		}

		for _, d := range neighbors {
			next := grid.Cell{Row: cur.cell.Row + d.Row, Col: cur.cell.Col + d.Col}
			if !g.InBounds(next.Row, next.Col) || g.IsOccupied(next.Row, next.Col) {
				continue
			}
			ni := idx(next)
			if closed[ni] {
				continue
			}
			tentative := cost[ci] + 1
			if cost[ni] >= 0 && tentative >= cost[ni] {
				continue
			}
			cost[ni] = tentative
			from[ni] = ci
			seq++
			heap.Push(open, &node{cell: next, f: tentative + manhattan(next, end), seq: seq})
		}
	}

	return nil, ErrNoPath
}

var neighbors = []grid.Cell{
	{Row: -1, Col: 0},
	{Row: 1, Col: 0},
	{Row: 0, Col: -1},
	{Row: 0, Col: 1},
}

func manhattan(a, b grid.Cell) int {
	return abs(a.Row-b.Row) + abs(a.Col-b.Col)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func reconstruct(from []int, end, cols int) []grid.Cell {
	var rev []grid.Cell
	for i := end; i >= 0; i = from[i] {
		rev = append(rev, grid.Cell{Row: i / cols, Col: i % cols})
	}
	path := make([]grid.Cell, len(rev))
	for i, c := range rev {
		path[len(rev)-1-i] = c
	}
	return path
}
