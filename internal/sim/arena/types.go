package arena

import "sort"

// Components.

type Player struct {
	ID string `json:"id"`
}

type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type Velocity struct {
	DX int `json:"dx"`
	DY int `json:"dy"`
}

// Resources.

type Input struct {
	MoveX int `json:"move_x"`
	MoveY int `json:"move_y"`
}

// Inputs is the input set in effect for the current frame. Once a frame has
// been simulated its input set is authoritative: replays reuse it instead of
// recomputing it.
type Inputs struct {
	ByPlayer map[string]Input `json:"by_player"`
}

func (in Inputs) Clone() Inputs {
	out := Inputs{ByPlayer: make(map[string]Input, len(in.ByPlayer))}
	for k, v := range in.ByPlayer {
		out.ByPlayer[k] = v
	}
	return out
}

func (in Inputs) Players() []string {
	out := make([]string, 0, len(in.ByPlayer))
	for k := range in.ByPlayer {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Clock counts simulated frames.
type Clock struct {
	Frame uint64 `json:"frame"`
}

// Params is static configuration. It is not tracked.
type Params struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	Speed  int `json:"speed"`
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
