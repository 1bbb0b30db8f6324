// Package mockengine is a deterministic UCI engine for development and tests.
// Scores are material balance relative to the side to move, so a position and
// its color-reversed mirror always evaluate to exact negations.
package mockengine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/amoylab/evalcoach/internal/common/cnst"
	"github.com/amoylab/evalcoach/internal/rules"
	"github.com/amoylab/evalcoach/pkg/uci"
)

// Options tune the simulated search.
type Options struct {
	Name string
	// DepthDelay is the pause between completed depths.
	DepthDelay time.Duration
	// Noise interleaves malformed info lines with the real ones.
	Noise bool
	// PVLength caps the principal variation length.
	PVLength int
}

// Engine interprets UCI commands and writes responses through an emit func.
type Engine struct {
	opts  Options
	rules rules.Chess
	emit  func(string)

	mu       sync.Mutex
	multiPV  int
	fen      string
	moves    []string
	search   *search
	searchWG sync.WaitGroup
}

type search struct {
	stop chan struct{}
	once sync.Once
}

func (s *search) halt() { s.once.Do(func() { close(s.stop) }) }

// New creates an engine. emit must be safe for use from multiple goroutines.
func New(opts Options, emit func(string)) *Engine {
	if opts.Name == "" {
		opts.Name = "evalcoach mock"
	}
	if opts.PVLength <= 0 {
		opts.PVLength = 4
	}
	return &Engine{
		opts:    opts,
		rules:   rules.New(),
		emit:    emit,
		multiPV: 1,
		fen:     cnst.StartPosition,
	}
}

// Handle processes one command line. It returns false once the engine should exit.
func (e *Engine) Handle(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}

	switch fields[0] {
	case uci.CmdUCI:
		e.emit("id name " + e.opts.Name)
		e.emit("id author evalcoach")
		e.emit("option name MultiPV type spin default 1 min 1 max 500")
		e.emit(uci.RespUCIOK)
	case uci.CmdIsReady:
		e.emit(uci.RespReadyOK)
	case uci.CmdNewGame:
		e.halt()
	case "setoption":
		e.setOption(fields[1:])
	case "position":
		e.setPosition(fields[1:])
	case "go":
		e.goSearch(fields[1:])
	case uci.CmdStop:
		e.halt()
	case uci.CmdQuit:
		e.halt()
		e.searchWG.Wait()
		return false
	}
	return true
}

// Close stops any running search and waits for it.
func (e *Engine) Close() {
	e.halt()
	e.searchWG.Wait()
}

func (e *Engine) setOption(args []string) {
	// name <id> value <x>
	if len(args) < 4 || args[0] != "name" || args[2] != "value" {
		return
	}
	if strings.EqualFold(args[1], uci.OptionMultiPV) {
		if n, err := strconv.Atoi(args[3]); err == nil && n > 0 {
			e.mu.Lock()
			e.multiPV = n
			e.mu.Unlock()
		}
	}
}

func (e *Engine) setPosition(args []string) {
	var fen string
	var moves []string
	switch {
	case len(args) > 0 && args[0] == "startpos":
		fen = cnst.StartPosition
		args = args[1:]
	case len(args) > 0 && args[0] == "fen":
		end := len(args)
		for i, a := range args {
			if a == "moves" {
				end = i
				break
			}
		}
		fen = strings.Join(args[1:end], " ")
		args = args[end:]
	default:
		return
	}
	if len(args) > 0 && args[0] == "moves" {
		moves = append(moves, args[1:]...)
	}

	e.mu.Lock()
	e.fen, e.moves = fen, moves
	e.mu.Unlock()
}

func (e *Engine) goSearch(args []string) {
	depth := 10
	for i := 0; i+1 < len(args); i++ {
		if args[i] == "depth" {
			if d, err := strconv.Atoi(args[i+1]); err == nil && d > 0 {
				depth = d
			}
		}
	}

	e.halt()
	e.searchWG.Wait()

	e.mu.Lock()
	s := &search{stop: make(chan struct{})}
	e.search = s
	fen, moves, multiPV := e.fen, append([]string(nil), e.moves...), e.multiPV
	e.mu.Unlock()

	e.searchWG.Add(1)
	go func() {
		defer e.searchWG.Done()
		e.run(s, fen, moves, depth, multiPV)
	}()
}

func (e *Engine) halt() {
	e.mu.Lock()
	s := e.search
	e.mu.Unlock()
	if s != nil {
		s.halt()
	}
}

type candidate struct {
	pv    []string
	score int
}

func (e *Engine) run(s *search, fen string, moves []string, depth, multiPV int) {
	cur, err := e.rules.Replay(fen, moves)
	if err != nil {
		e.emit(uci.BestMoveNone)
		return
	}

	cands := e.candidates(cur, multiPV)
	if len(cands) == 0 {
		e.emit("info depth 0 score mate 0")
		e.emit(uci.BestMoveNone)
		return
	}

	completed := 0
search:
	for d := 1; d <= depth; d++ {
		select {
		case <-s.stop:
			break search
		default:
		}

		for i, c := range cands {
			n := d
			if n > len(c.pv) {
				n = len(c.pv)
			}
			e.emit(fmt.Sprintf("info depth %d seldepth %d multipv %d score cp %d nodes %d nps 1000000 time %d pv %s",
				d, d+2, i+1, c.score, d*1000*(i+1), d, strings.Join(c.pv[:n], " ")))
			if e.opts.Noise {
				e.emit(fmt.Sprintf("info depth %d currmove %s currmovenumber %d", d, c.pv[0], i+1))
				e.emit(fmt.Sprintf("info depth %d score cp", d))
			}
		}
		completed = d

		if e.opts.DepthDelay > 0 && d < depth {
			timer := time.NewTimer(e.opts.DepthDelay)
			select {
			case <-timer.C:
			case <-s.stop:
				timer.Stop()
				break search
			}
		}
	}

	best := cands[0].pv
	if completed == 0 {
		e.emit(fmt.Sprintf("bestmove %s", best[0]))
		return
	}
	if len(best) > 1 {
		e.emit(fmt.Sprintf("bestmove %s ponder %s", best[0], best[1]))
		return
	}
	e.emit("bestmove " + best[0])
}

// candidates builds one scored line per root move, best first.
func (e *Engine) candidates(fen string, multiPV int) []candidate {
	legal, err := e.rules.LegalMoves(fen)
	if err != nil || len(legal) == 0 {
		return nil
	}
	side, _ := e.rules.SideToMove(fen)
	material, _ := e.rules.Material(fen)
	if side == uci.Black {
		material = -material
	}

	ordered := orderMoves(legal)
	if multiPV > len(ordered) {
		multiPV = len(ordered)
	}

	out := make([]candidate, 0, multiPV)
	for i := 0; i < multiPV; i++ {
		out = append(out, candidate{
			pv:    e.continuation(fen, ordered[i]),
			score: material - 10*i,
		})
	}
	return out
}

func (e *Engine) continuation(fen, first string) []string {
	pv := []string{first}
	cur, _, err := e.rules.Play(fen, first)
	for err == nil && len(pv) < e.opts.PVLength {
		legal, lerr := e.rules.LegalMoves(cur)
		if lerr != nil || len(legal) == 0 {
			break
		}
		next := orderMoves(legal)[0]
		pv = append(pv, next)
		cur, _, err = e.rules.Play(cur, next)
	}
	return pv
}

// orderMoves prefers moves landing near the centre, then lexical order.
func orderMoves(moves []string) []string {
	out := append([]string(nil), moves...)
	sort.SliceStable(out, func(i, j int) bool {
		ci, cj := centerDistance(out[i]), centerDistance(out[j])
		if ci != cj {
			return ci < cj
		}
		return out[i] < out[j]
	})
	return out
}

func centerDistance(move string) int {
	file := int(move[2] - 'a')
	rank := int(move[3] - '1')
	return abs2(file) + abs2(rank)
}

// abs2 measures twice the distance of a coordinate from the board centre line.
func abs2(v int) int {
	d := 2*v - 7
	if d < 0 {
		return -d
	}
	return d
}
